package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/aicca-ai/aicca/internal/llm"
)

// Execution statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Execution tracks one asynchronous tool run.
type Execution struct {
	ID         string    `json:"executionId"`
	Tool       string    `json:"tool"`
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Updates    []string  `json:"updates,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// AsyncRunner executes tool calls detached from the submitting request, with
// a hard cap on concurrent runs. Callers poll by execution id or receive a
// webhook when the run finishes.
type AsyncRunner struct {
	registry   *Registry
	sem        *semaphore.Weighted
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client

	mu         sync.Mutex
	executions map[string]*Execution
}

// NewAsyncRunner creates a runner allowing at most maxConcurrent runs.
func NewAsyncRunner(registry *Registry, maxConcurrent int64, timeout time.Duration, logger *slog.Logger) *AsyncRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncRunner{
		registry:   registry,
		sem:        semaphore.NewWeighted(maxConcurrent),
		timeout:    timeout,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executions: make(map[string]*Execution),
	}
}

// ErrAtCapacity indicates the runner's concurrency cap is reached.
var ErrAtCapacity = fmt.Errorf("async runner at capacity")

// Submit starts a detached tool run and returns its execution record in the
// running state. When webhookURL is non-empty the final record is POSTed
// there as JSON on completion. Returns ErrAtCapacity without queueing when
// the concurrency cap is reached.
func (r *AsyncRunner) Submit(call llm.ToolCall, webhookURL string) (*Execution, error) {
	if !r.registry.Has(call.Name) {
		return nil, fmt.Errorf("tool %q not registered", call.Name)
	}
	if !r.sem.TryAcquire(1) {
		return nil, ErrAtCapacity
	}

	exec := &Execution{
		ID:        ulid.Make().String(),
		Tool:      call.Name,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.executions[exec.ID] = exec
	r.mu.Unlock()

	go r.run(exec.ID, call, webhookURL)
	return r.snapshot(exec.ID), nil
}

// Status returns a copy of the execution record, or false if unknown.
func (r *AsyncRunner) Status(id string) (*Execution, bool) {
	e := r.snapshot(id)
	return e, e != nil
}

func (r *AsyncRunner) run(id string, call llm.ToolCall, webhookURL string) {
	defer r.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	onUpdate := func(line string) {
		r.mu.Lock()
		if e, ok := r.executions[id]; ok {
			e.Updates = append(e.Updates, line)
		}
		r.mu.Unlock()
	}

	output, err := r.registry.ExecuteWithProgress(ctx, call, onUpdate)

	r.mu.Lock()
	e := r.executions[id]
	e.FinishedAt = time.Now().UTC()
	if err != nil {
		e.Status = StatusFailed
		e.Error = err.Error()
	} else {
		e.Status = StatusSucceeded
		e.Output = output
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("async tool run failed", "execution_id", id, "tool", call.Name, "error", err)
	} else {
		r.logger.Info("async tool run finished", "execution_id", id, "tool", call.Name)
	}

	if webhookURL != "" {
		r.notify(webhookURL, r.snapshot(id))
	}
}

func (r *AsyncRunner) notify(url string, exec *Execution) {
	payload, err := json.Marshal(exec)
	if err != nil {
		r.logger.Warn("webhook payload marshal failed", "execution_id", exec.ID, "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		r.logger.Warn("webhook request failed", "execution_id", exec.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("webhook delivery failed", "execution_id", exec.ID, "url", url, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		r.logger.Warn("webhook rejected", "execution_id", exec.ID, "url", url, "status", resp.StatusCode)
	}
}

func (r *AsyncRunner) snapshot(id string) *Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return nil
	}
	cp := *e
	cp.Updates = append([]string(nil), e.Updates...)
	return &cp
}
