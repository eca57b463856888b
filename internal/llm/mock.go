package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockResponse scripts one model reply. Error short-circuits the call;
// otherwise the reply carries the content, tool calls, and usage as written.
type MockResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      TokenUsage
	Error      error
}

// TextResponse scripts a plain end-of-turn reply.
func TextResponse(content string) MockResponse {
	return MockResponse{Content: content, StopReason: StopEndTurn}
}

// ToolUseResponse scripts a reply requesting a single tool invocation.
func ToolUseResponse(callID, name string, input map[string]any) MockResponse {
	return MockResponse{
		ToolCalls:  []ToolCall{{ID: callID, Name: name, Input: input}},
		StopReason: StopToolUse,
	}
}

// MockClient replays a scripted sequence of replies. The script advances one
// entry per call and sticks on the final entry once exhausted, so a turn loop
// that keeps asking after the script runs out sees a stable end state.
type MockClient struct {
	mu       sync.Mutex
	script   []MockResponse
	cursor   int
	requests []ChatRequest
}

// NewMockClient creates a mock client from a reply script.
func NewMockClient(script ...MockResponse) *MockClient {
	return &MockClient{script: script}
}

func (m *MockClient) next(req ChatRequest) (MockResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return MockResponse{}, fmt.Errorf("mock: empty reply script")
	}
	reply := m.script[m.cursor]
	if m.cursor < len(m.script)-1 {
		m.cursor++
	}
	return reply, nil
}

// Chat returns the next scripted reply.
func (m *MockClient) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	reply, err := m.next(req)
	if err != nil {
		return nil, err
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	return &ChatResponse{
		Content:    reply.Content,
		ToolCalls:  reply.ToolCalls,
		StopReason: reply.StopReason,
		Usage:      reply.Usage,
	}, nil
}

// ChatStream replays the next scripted reply as a stream: one text delta when
// the reply has content, a tool_call_start per requested tool, then done. The
// channel is pre-filled and closed, so consumers never block on it.
func (m *MockClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, len(resp.ToolCalls)+2)
	if resp.Content != "" {
		ch <- StreamEvent{Type: "text", Text: resp.Content}
	}
	for i := range resp.ToolCalls {
		ch <- StreamEvent{Type: "tool_call_start", ToolCall: &resp.ToolCalls[i]}
	}
	ch <- StreamEvent{Type: "done", Response: resp}
	close(ch)
	return ch, nil
}

// Calls returns every request the client has seen, in order. Tests use it to
// assert on the conversation history the engine assembled.
func (m *MockClient) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}
