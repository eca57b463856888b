package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aicca-ai/aicca/internal/llm"
)

type blockingExecutor struct {
	release chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, _ map[string]interface{}) (string, error) {
	select {
	case <-b.release:
		return "unblocked", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func waitForStatus(t *testing.T, r *AsyncRunner, id, want string) *Execution {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if e, ok := r.Status(id); ok && e.Status == want {
			return e
		}
		select {
		case <-deadline:
			e, _ := r.Status(id)
			t.Fatalf("execution %s never reached %q (got %+v)", id, want, e)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAsyncRunnerCompletes(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", llm.ToolDefinition{Name: "echo"}, &fakeExecutor{output: "hello"})
	r := NewAsyncRunner(reg, 2, time.Minute, nil)

	exec, err := r.Submit(llm.ToolCall{Name: "echo"}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if exec.Status != StatusRunning {
		t.Errorf("initial status = %q, want %q", exec.Status, StatusRunning)
	}

	done := waitForStatus(t, r, exec.ID, StatusSucceeded)
	if done.Output != "hello" {
		t.Errorf("output = %q, want %q", done.Output, "hello")
	}
	if done.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}
}

func TestAsyncRunnerFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", llm.ToolDefinition{Name: "broken"}, &fakeExecutor{err: errors.New("boom")})
	r := NewAsyncRunner(reg, 2, time.Minute, nil)

	exec, err := r.Submit(llm.ToolCall{Name: "broken"}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForStatus(t, r, exec.ID, StatusFailed)
	if done.Error != "boom" {
		t.Errorf("error = %q, want %q", done.Error, "boom")
	}
}

func TestAsyncRunnerCapacity(t *testing.T) {
	release := make(chan struct{})
	reg := NewRegistry()
	reg.Register("slow", llm.ToolDefinition{Name: "slow"}, &blockingExecutor{release: release})
	r := NewAsyncRunner(reg, 1, time.Minute, nil)

	first, err := r.Submit(llm.ToolCall{Name: "slow"}, "")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	if _, err := r.Submit(llm.ToolCall{Name: "slow"}, ""); !errors.Is(err, ErrAtCapacity) {
		t.Errorf("second Submit error = %v, want ErrAtCapacity", err)
	}

	close(release)
	waitForStatus(t, r, first.ID, StatusSucceeded)

	// The semaphore slot frees shortly after the status flips.
	deadline := time.After(time.Second)
	for {
		if _, err := r.Submit(llm.ToolCall{Name: "slow"}, ""); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("slot never freed after first run finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAsyncRunnerUnknownTool(t *testing.T) {
	r := NewAsyncRunner(NewRegistry(), 1, time.Minute, nil)
	if _, err := r.Submit(llm.ToolCall{Name: "nope"}, ""); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestAsyncRunnerStatusUnknownID(t *testing.T) {
	r := NewAsyncRunner(NewRegistry(), 1, time.Minute, nil)
	if _, ok := r.Status("missing"); ok {
		t.Error("Status returned ok for unknown id")
	}
}
