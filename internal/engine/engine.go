package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aicca-ai/aicca/internal/llm"
	"github.com/aicca-ai/aicca/internal/memory"
)

// ToolExecutor dispatches tool calls requested by the model.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
}

// ToolResultFunc is the side-channel callback fired as each tool execution
// completes, independently of the turn's main event sequence.
type ToolResultFunc func(toolName, callID string, result map[string]any)

// Config holds the model parameters for an engine instance.
type Config struct {
	Model       string
	System      string
	MaxTokens   int
	TokenBudget int // 0 means unlimited
	Temperature *float64
}

// Engine is one reasoning engine instance, bound to a single client id for
// its whole life. Conversation history carries across turns (and across
// reconnects, while the instance lives).
type Engine struct {
	cfg     Config
	client  llm.Client
	tools   ToolExecutor
	history memory.Store
	logger  *slog.Logger

	mu           sync.Mutex
	onToolResult ToolResultFunc
	usage        llm.TokenUsage
	closed       bool
}

// New creates an engine instance.
func New(cfg Config, client llm.Client, tools ToolExecutor, history memory.Store, logger *slog.Logger) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if history == nil {
		history = memory.NewSlidingWindow(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		client:  client,
		tools:   tools,
		history: history,
		logger:  logger,
	}
}

// OnToolResult registers the tool-result side channel. A later registration
// replaces the previous one (reconnects re-bind to the new session output).
// Passing nil unregisters.
func (e *Engine) OnToolResult(fn ToolResultFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onToolResult = fn
}

// Usage returns cumulative token usage across all turns.
func (e *Engine) Usage() llm.TokenUsage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// Close releases the instance: the side channel is unregistered and further
// StreamTurn calls fail immediately.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.onToolResult = nil
}

// StreamTurn runs one conversational turn and returns its event sequence.
// The sequence is finite and not restartable; the channel closes when the
// turn ends. ctx cancellation aborts the turn cooperatively (the model call
// and tool executions observe it).
func (e *Engine) StreamTurn(ctx context.Context, request, turnID string, maxTurns int) <-chan Event {
	out := make(chan Event, 64)

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		out <- Event{Type: EventError, Err: fmt.Errorf("engine closed")}
		close(out)
		return out
	}

	go e.runTurn(ctx, request, turnID, maxTurns, out)
	return out
}

func (e *Engine) runTurn(ctx context.Context, request, turnID string, maxTurns int, out chan<- Event) {
	defer close(out)

	if maxTurns <= 0 {
		maxTurns = 10
	}

	history, err := e.history.Load(ctx, turnID)
	if err != nil {
		out <- Event{Type: EventError, Err: fmt.Errorf("load history: %w", err)}
		return
	}

	messages := append(history, llm.Message{Role: llm.RoleUser, Content: request})
	var assistantOutput string

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			out <- Event{Type: EventError, Err: err}
			return
		}
		if err := e.checkBudget(); err != nil {
			out <- Event{Type: EventError, Err: err}
			return
		}

		req := llm.ChatRequest{
			Model:       e.cfg.Model,
			Messages:    messages,
			System:      e.cfg.System,
			MaxTokens:   e.cfg.MaxTokens,
			Temperature: e.cfg.Temperature,
		}
		if defs, ok := e.tools.(interface{ Definitions() []llm.ToolDefinition }); ok {
			req.Tools = defs.Definitions()
		}

		resp, err := e.drainModelStream(ctx, req, out)
		if err != nil {
			out <- Event{Type: EventError, Err: err}
			return
		}

		e.addUsage(resp.Usage)
		if resp.Content != "" {
			assistantOutput = resp.Content
		}

		if len(resp.ToolCalls) == 0 || resp.StopReason != llm.StopToolUse {
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			out <- Event{
				Type:   EventToolCallRequest,
				Tool:   &ToolRef{Name: call.Name, CallID: call.ID},
				Params: call.Input,
			}
		}

		for _, call := range resp.ToolCalls {
			result := e.executeTool(ctx, call)
			out <- Event{
				Type:   EventToolCallResult,
				Tool:   &ToolRef{Name: call.Name, CallID: call.ID},
				Result: result,
			}

			content, isError := resultContent(result)
			messages = append(messages, llm.Message{
				Role: llm.RoleUser,
				ToolResult: &llm.ToolResult{
					ToolUseID: call.ID,
					Content:   content,
					IsError:   isError,
				},
			})
		}
	}

	saved := []llm.Message{
		{Role: llm.RoleUser, Content: request},
		{Role: llm.RoleAssistant, Content: assistantOutput},
	}
	if err := e.history.Save(ctx, turnID, saved); err != nil {
		e.logger.Warn("engine: failed to save history", "turn_id", turnID, "error", err)
	}
}

// drainModelStream consumes one model call's stream, forwarding text deltas
// as Content events, and returns the accumulated response.
func (e *Engine) drainModelStream(ctx context.Context, req llm.ChatRequest, out chan<- Event) (*llm.ChatResponse, error) {
	ch, err := e.client.ChatStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model stream: %w", err)
	}

	var resp *llm.ChatResponse
	for ev := range ch {
		switch ev.Type {
		case "text":
			out <- Event{Type: EventContent, Text: ev.Text}
		case "done":
			resp = ev.Response
		case "error":
			return nil, fmt.Errorf("model stream: %w", ev.Error)
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("model stream ended without a response")
	}
	return resp, nil
}

// executeTool runs one tool call and fires the side channel with its result.
func (e *Engine) executeTool(ctx context.Context, call llm.ToolCall) map[string]any {
	output, err := e.tools.Execute(ctx, call)

	result := map[string]any{
		"original_args": call.Input,
	}
	if err != nil {
		result["error"] = err.Error()
		e.logger.Warn("engine: tool execution failed", "tool", call.Name, "call_id", call.ID, "error", err)
	} else {
		result["llm_content"] = output
	}

	e.mu.Lock()
	fn := e.onToolResult
	e.mu.Unlock()
	if fn != nil {
		fn(call.Name, call.ID, result)
	}

	return result
}

func (e *Engine) addUsage(u llm.TokenUsage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.InputTokens += u.InputTokens
	e.usage.OutputTokens += u.OutputTokens
}

func (e *Engine) checkBudget() error {
	if e.cfg.TokenBudget <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.usage.Total() >= e.cfg.TokenBudget {
		return fmt.Errorf("token budget exceeded: used %d of %d", e.usage.Total(), e.cfg.TokenBudget)
	}
	return nil
}

func resultContent(result map[string]any) (content string, isError bool) {
	if msg, ok := result["error"].(string); ok {
		return msg, true
	}
	if s, ok := result["llm_content"].(string); ok {
		return s, false
	}
	return fmt.Sprint(result["llm_content"]), false
}
