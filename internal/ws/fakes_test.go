package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/aicca-ai/aicca/internal/engine"
)

var errWrite = errors.New("write failed")

// fakeConn is an in-memory transport. Reads are fed through a channel;
// writes are recorded.
type fakeConn struct {
	mu       sync.Mutex
	frames   []Frame
	inbox    chan []byte
	closed   bool
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	payload, ok := <-c.inbox
	if !ok {
		return nil, errors.New("connection closed")
	}
	return payload, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	if f, ok := v.(Frame); ok {
		c.frames = append(c.frames, f)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
	}
	return nil
}

// push feeds one client message; deliver marshalled JSON.
func (c *fakeConn) push(payload string) {
	c.inbox <- []byte(payload)
}

// hangup ends the read loop.
func (c *fakeConn) hangup() {
	close(c.inbox)
}

func (c *fakeConn) sent() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func (c *fakeConn) sentTypes() []string {
	var types []string
	for _, f := range c.sent() {
		if t, ok := f["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types
}

// fakeEngine scripts event sequences per StreamTurn call.
type fakeEngine struct {
	mu        sync.Mutex
	sequences [][]engine.Event
	turn      int
	requests  []string
	callback  engine.ToolResultFunc
	closed    bool

	// Runs before each ToolCallResult event is emitted, mirroring the real
	// engine's ordering: the side channel fires as the tool finishes, then
	// the inline event follows.
	beforeToolResult func(ev engine.Event)
}

func newFakeEngine(sequences ...[]engine.Event) *fakeEngine {
	return &fakeEngine{sequences: sequences}
}

func (f *fakeEngine) StreamTurn(_ context.Context, request, _ string, _ int) <-chan engine.Event {
	f.mu.Lock()
	f.requests = append(f.requests, request)
	var events []engine.Event
	if f.turn < len(f.sequences) {
		events = f.sequences[f.turn]
	}
	f.turn++
	hook := f.beforeToolResult
	f.mu.Unlock()

	ch := make(chan engine.Event)
	go func() {
		defer close(ch)
		for _, ev := range events {
			if hook != nil && ev.Type == engine.EventToolCallResult {
				hook(ev)
			}
			ch <- ev
		}
	}()
	return ch
}

func (f *fakeEngine) setBeforeToolResult(fn func(engine.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeToolResult = fn
}

func (f *fakeEngine) invokeCallback(toolName, callID string, result map[string]any) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb(toolName, callID, result)
	}
}

func (f *fakeEngine) OnToolResult(fn engine.ToolResultFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = fn
}

func (f *fakeEngine) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEngine) seenRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}
