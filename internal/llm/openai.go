package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions endpoint (OpenAI, Ollama, vLLM, LiteLLM).
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// OpenAIOption configures the OpenAI client.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) { o.httpClient = c }
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// An empty baseURL targets the OpenAI API.
func NewOpenAIClient(baseURL, apiKey string, opts ...OpenAIOption) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	c := &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []completionMessage `json:"messages"`
	Tools       []completionTool    `json:"tools,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type completionMessage struct {
	Role       string               `json:"role"`
	Content    string               `json:"content,omitempty"`
	ToolCalls  []completionToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
}

type completionTool struct {
	Type     string             `json:"type"`
	Function completionFunction `json:"function"`
}

type completionFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

type completionToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      completionMessage `json:"message"`
		Delta        completionMessage `json:"delta"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat sends a non-streaming request.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := c.doRequest(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatCompletionResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai: %s: %s", resp.Error.Type, resp.Error.Message)
	}

	return parseCompletion(&resp), nil
}

// ChatStream sends a streaming request and returns events via channel.
func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	body, err := c.doRequest(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer body.Close()

		var content strings.Builder
		var toolCalls []ToolCall
		var usage TokenUsage
		var finishReason string

		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk chatCompletionResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if chunk.Usage.TotalTokens > 0 {
				usage = TokenUsage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}

			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				ch <- StreamEvent{Type: "text", Text: choice.Delta.Content}
			}

			for _, tc := range choice.Delta.ToolCalls {
				if tc.ID == "" || tc.Function.Name == "" {
					continue
				}
				input := make(map[string]any)
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				toolCalls = append(toolCalls, ToolCall{
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
				ch <- StreamEvent{
					Type:     "tool_call_start",
					ToolCall: &ToolCall{ID: tc.ID, Name: tc.Function.Name},
				}
			}
		}

		if err := scanner.Err(); err != nil {
			ch <- StreamEvent{Type: "error", Error: fmt.Errorf("openai: read stream: %w", err)}
			return
		}

		ch <- StreamEvent{Type: "done", Response: &ChatResponse{
			Content:    content.String(),
			ToolCalls:  toolCalls,
			StopReason: mapFinishReason(finishReason),
			Usage:      usage,
		}}
	}()

	return ch, nil
}

func (c *OpenAIClient) buildRequest(req ChatRequest, stream bool) chatCompletionRequest {
	messages := make([]completionMessage, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, completionMessage{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		msg := completionMessage{}
		switch m.Role {
		case RoleUser:
			if m.ToolResult != nil {
				msg.Role = "tool"
				msg.Content = m.ToolResult.Content
				msg.ToolCallID = m.ToolResult.ToolUseID
			} else {
				msg.Role = "user"
				msg.Content = m.Content
			}
		case RoleAssistant:
			msg.Role = "assistant"
			msg.Content = m.Content
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				call := completionToolCall{ID: tc.ID, Type: "function"}
				call.Function.Name = tc.Name
				call.Function.Arguments = string(args)
				msg.ToolCalls = append(msg.ToolCalls, call)
			}
		}
		messages = append(messages, msg)
	}

	out := chatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, completionTool{
			Type: "function",
			Function: completionFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return out
}

func (c *OpenAIClient) doRequest(ctx context.Context, req chatCompletionRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var errResp chatCompletionResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("openai: HTTP %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("openai: HTTP %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func parseCompletion(resp *chatCompletionResponse) *ChatResponse {
	usage := TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return &ChatResponse{StopReason: StopEndTurn, Usage: usage}
	}

	choice := resp.Choices[0]
	result := &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      usage,
	}

	for _, tc := range choice.Message.ToolCalls {
		input := make(map[string]any)
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	return result
}

func mapFinishReason(reason string) StopReason {
	switch reason {
	case "stop", "":
		return StopEndTurn
	case "length":
		return StopMaxTokens
	case "tool_calls":
		return StopToolUse
	default:
		return StopReason(reason)
	}
}
