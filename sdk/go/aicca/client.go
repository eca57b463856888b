// Package aicca provides a Go SDK client for the AICCA gateway HTTP API.
//
// Usage:
//
//	client := aicca.NewClient("http://localhost:8080", aicca.WithAPIKey("my-key"))
//	exec, err := client.ExecuteTool(ctx, "web_search", map[string]interface{}{"query": "..."}, "")
//	fmt.Println(exec.ID)
package aicca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Execution is the state of an asynchronous tool execution.
type Execution struct {
	ID         string   `json:"id"`
	Tool       string   `json:"tool"`
	Status     string   `json:"status"`
	Output     string   `json:"output,omitempty"`
	Error      string   `json:"error,omitempty"`
	Updates    []string `json:"updates,omitempty"`
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt,omitempty"`
}

// Execution status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ConnectionInfo describes one active websocket session.
type ConnectionInfo struct {
	ClientID     string `json:"clientId"`
	ConnectedAt  string `json:"connectedAt"`
	MessageCount int    `json:"messageCount"`
}

// ConnectionsResponse is the response from the connections endpoint.
type ConnectionsResponse struct {
	TotalConnections int              `json:"totalConnections"`
	Connections      []ConnectionInfo `json:"connections"`
}

// HealthResponse is the response from the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

// FileInfo describes a downloaded artifact.
type FileInfo struct {
	Name     string
	MimeType string
	Size     int64
}

// APIError represents an error response from the AICCA gateway API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client is the AICCA gateway API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new AICCA client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			apiErr.ErrorCode = "unknown"
			apiErr.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, &apiErr
	}

	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// Health checks the gateway health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Connections returns the currently active websocket sessions.
func (c *Client) Connections(ctx context.Context) (*ConnectionsResponse, error) {
	var result ConnectionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ws/connections", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteTool starts an asynchronous tool execution. The returned Execution
// is still running; poll ExecutionStatus (or pass a webhookURL) for the
// result.
func (c *Client) ExecuteTool(ctx context.Context, toolName string, parameters map[string]interface{}, webhookURL string) (*Execution, error) {
	body := map[string]interface{}{"toolName": toolName}
	if parameters != nil {
		body["parameters"] = parameters
	}
	if webhookURL != "" {
		body["webhookUrl"] = webhookURL
	}

	var result Execution
	if err := c.doJSON(ctx, http.MethodPost, "/api/tools/execute", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecutionStatus returns the current state of an asynchronous execution.
func (c *Client) ExecutionStatus(ctx context.Context, executionID string) (*Execution, error) {
	var result Execution
	if err := c.doJSON(ctx, http.MethodGet, "/api/tools/executions/"+executionID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WaitForExecution polls until the execution leaves the running state or the
// context is cancelled.
func (c *Client) WaitForExecution(ctx context.Context, executionID string, interval time.Duration) (*Execution, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exec, err := c.ExecutionStatus(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if exec.Status != StatusRunning {
			return exec, nil
		}

		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadFile fetches an uploaded artifact. The caller owns the returned
// reader and must close it.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, *FileInfo, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/files/"+fileID, nil)
	if err != nil {
		return nil, nil, err
	}

	info := &FileInfo{
		MimeType: resp.Header.Get("Content-Type"),
		Size:     resp.ContentLength,
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if i := strings.Index(cd, `filename="`); i >= 0 {
			rest := cd[i+len(`filename="`):]
			if j := strings.Index(rest, `"`); j >= 0 {
				info.Name = rest[:j]
			}
		}
	}

	return resp.Body, info, nil
}
