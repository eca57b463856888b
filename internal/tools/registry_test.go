package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aicca-ai/aicca/internal/llm"
)

type fakeExecutor struct {
	output string
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(_ context.Context, _ map[string]interface{}) (string, error) {
	f.calls++
	return f.output, f.err
}

type fakeStreamingExecutor struct {
	fakeExecutor
	updates []string
}

func (f *fakeStreamingExecutor) ExecuteStream(_ context.Context, _ map[string]interface{}, onUpdate func(string)) (string, error) {
	for _, u := range f.updates {
		onUpdate(u)
	}
	return f.output, f.err
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	exec := &fakeExecutor{output: "result"}
	r.Register("search", llm.ToolDefinition{Name: "search"}, exec)

	out, err := r.Execute(context.Background(), llm.ToolCall{Name: "search"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "result" {
		t.Errorf("output = %q, want %q", out, "result")
	}
	if exec.calls != 1 {
		t.Errorf("calls = %d, want 1", exec.calls)
	}
}

func TestRegistryExecuteUnregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), llm.ToolCall{Name: "missing"})
	if err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestRegistryAllowlistDenies(t *testing.T) {
	r := NewRegistry()
	r.Register("search", llm.ToolDefinition{Name: "search"}, &fakeExecutor{output: "ok"})
	r.Register("delete", llm.ToolDefinition{Name: "delete"}, &fakeExecutor{output: "gone"})

	a, err := NewAllowlist([]Rule{{Tool: "search"}})
	if err != nil {
		t.Fatalf("NewAllowlist: %v", err)
	}
	r.SetAllowlist(a)

	if _, err := r.Execute(context.Background(), llm.ToolCall{Name: "search"}); err != nil {
		t.Errorf("allowed tool rejected: %v", err)
	}

	_, err = r.Execute(context.Background(), llm.ToolCall{Name: "delete"})
	var notAllowed *ErrToolNotAllowed
	if !errors.As(err, &notAllowed) {
		t.Fatalf("error = %v, want ErrToolNotAllowed", err)
	}
}

func TestRegistryExecuteWithProgress(t *testing.T) {
	r := NewRegistry()
	exec := &fakeStreamingExecutor{
		fakeExecutor: fakeExecutor{output: "done"},
		updates:      []string{"step 1", "step 2"},
	}
	r.Register("long_task", llm.ToolDefinition{Name: "long_task"}, exec)

	var got []string
	out, err := r.ExecuteWithProgress(context.Background(), llm.ToolCall{Name: "long_task"}, func(s string) {
		got = append(got, s)
	})
	if err != nil {
		t.Fatalf("ExecuteWithProgress: %v", err)
	}
	if out != "done" {
		t.Errorf("output = %q, want %q", out, "done")
	}
	if len(got) != 2 || got[0] != "step 1" || got[1] != "step 2" {
		t.Errorf("updates = %v, want [step 1 step 2]", got)
	}
}

func TestRegistryExecuteWithProgressNonStreaming(t *testing.T) {
	r := NewRegistry()
	r.Register("quick", llm.ToolDefinition{Name: "quick"}, &fakeExecutor{output: "fast"})

	updates := 0
	out, err := r.ExecuteWithProgress(context.Background(), llm.ToolCall{Name: "quick"}, func(string) {
		updates++
	})
	if err != nil {
		t.Fatalf("ExecuteWithProgress: %v", err)
	}
	if out != "fast" {
		t.Errorf("output = %q, want %q", out, "fast")
	}
	if updates != 0 {
		t.Errorf("updates = %d, want 0 for non-streaming executor", updates)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("tool%d", i)
		r.Register(name, llm.ToolDefinition{Name: name}, &fakeExecutor{})
	}
	if got := len(r.Definitions()); got != 3 {
		t.Errorf("Definitions len = %d, want 3", got)
	}
}
