// Package tools implements the tool execution registry for the AICCA runtime.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/aicca-ai/aicca/internal/llm"
)

// Executor executes a tool call and returns the result as a string.
type Executor interface {
	Execute(ctx context.Context, input map[string]interface{}) (string, error)
}

// StreamingExecutor is an Executor that can report intermediate output while
// running. onUpdate receives incremental output lines; the final return value
// is still the complete result.
type StreamingExecutor interface {
	Executor
	ExecuteStream(ctx context.Context, input map[string]interface{}, onUpdate func(string)) (string, error)
}

// Registry manages tool executors and dispatches tool calls.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	tools     map[string]llm.ToolDefinition
	allowlist *Allowlist
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		tools:     make(map[string]llm.ToolDefinition),
	}
}

// Register adds a tool executor to the registry.
func (r *Registry) Register(name string, def llm.ToolDefinition, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
	r.tools[name] = def
}

// SetAllowlist installs (or replaces) the execution policy. A nil allowlist
// permits everything.
func (r *Registry) SetAllowlist(a *Allowlist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowlist = a
}

// Execute dispatches a tool call to its registered executor.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	executor, err := r.lookup(call.Name, call.Input)
	if err != nil {
		return "", err
	}
	return executor.Execute(ctx, call.Input)
}

// ExecuteWithProgress dispatches a tool call, forwarding intermediate output
// to onUpdate when the executor supports streaming. Executors without
// streaming support run normally and produce no updates.
func (r *Registry) ExecuteWithProgress(ctx context.Context, call llm.ToolCall, onUpdate func(string)) (string, error) {
	executor, err := r.lookup(call.Name, call.Input)
	if err != nil {
		return "", err
	}
	if se, ok := executor.(StreamingExecutor); ok && onUpdate != nil {
		return se.ExecuteStream(ctx, call.Input, onUpdate)
	}
	return executor.Execute(ctx, call.Input)
}

func (r *Registry) lookup(name string, input map[string]interface{}) (Executor, error) {
	r.mu.RLock()
	executor, ok := r.executors[name]
	allowlist := r.allowlist
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool %q not registered", name)
	}
	if err := allowlist.Check(name, input); err != nil {
		return nil, err
	}
	return executor, nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Definitions returns all registered tool definitions.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, d)
	}
	return defs
}
