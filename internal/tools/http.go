package tools

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

const defaultMaxResponseSize int64 = 10 * 1024 * 1024 // 10MB

// HTTPConfig configures an HTTP-backed tool.
type HTTPConfig struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// HTTPExecutor executes a tool by calling an HTTP endpoint with the call
// parameters as a JSON body (or query-less GET). Outbound dials are checked
// against private address ranges.
type HTTPExecutor struct {
	config      HTTPConfig
	client      *http.Client
	maxRespSize int64
}

// NewHTTPExecutor creates an HTTP tool executor with SSRF protection.
func NewHTTPExecutor(config HTTPConfig) *HTTPExecutor {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExecutor{
		config: config,
		client: &http.Client{
			Transport: NewSafeTransport(),
			Timeout:   timeout,
		},
		maxRespSize: defaultMaxResponseSize,
	}
}

// Execute makes the configured HTTP request and returns the response body.
func (e *HTTPExecutor) Execute(ctx context.Context, input map[string]interface{}) (string, error) {
	method := strings.ToUpper(e.config.Method)
	if method == "" {
		method = "POST"
	}

	var body io.Reader
	if method != "GET" && method != "HEAD" {
		data, err := json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("http tool: marshal input: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.config.URL, body)
	if err != nil {
		return "", fmt.Errorf("http tool: create request: %w", err)
	}
	for k, v := range e.config.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http tool: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, truncated, err := readBody(resp.Body, e.maxRespSize)
	if err != nil {
		return "", fmt.Errorf("http tool: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http tool: status %d: %s", resp.StatusCode, string(respBody))
	}

	result := string(respBody)
	if truncated {
		result += "\n[response body truncated at 10MB limit]"
	}
	return result, nil
}

// readBody reads a response body with a size limit, reporting truncation.
func readBody(body io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		limit = defaultMaxResponseSize
	}
	lr := io.LimitReader(body, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
