package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsRecordAndExpose(t *testing.T) {
	m := NewMetrics()
	m.SessionOpened()
	m.FrameSent("pong")
	m.UploadCompleted(int64(2048))
	m.UploadFailed()
	m.TurnStarted("chat")
	m.ToolCall("scan", "succeeded")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	for _, want := range []string{
		"aicca_sessions_active 1",
		`aicca_frames_sent_total{type="pong"} 1`,
		"aicca_uploads_completed_total 1",
		"aicca_upload_bytes_total 2048",
		"aicca_uploads_failed_total 1",
		`aicca_turns_total{kind="chat"} 1`,
		`aicca_tool_calls_total{status="succeeded",tool="scan"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed()
	m.FrameSent("pong")
	m.UploadCompleted(9)
	m.UploadFailed()
	m.TurnStarted("analysis")
	m.ToolCall("scan", "failed")
	if m.Handler() == nil {
		t.Error("nil metrics returned a nil handler")
	}
}
