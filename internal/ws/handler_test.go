package ws

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aicca-ai/aicca/internal/engine"
	"github.com/aicca-ai/aicca/internal/llm"
	"github.com/aicca-ai/aicca/internal/storage"
	"github.com/aicca-ai/aicca/internal/tools"
	"github.com/aicca-ai/aicca/internal/upload"
)

// stubStore is an in-memory artifact store.
type stubStore struct {
	saved  map[string][]byte
	nextID int
}

func newStubStore() *stubStore {
	return &stubStore{saved: make(map[string][]byte)}
}

func (s *stubStore) Save(_ context.Context, data []byte, name, declaredType string) (storage.FileMeta, error) {
	s.nextID++
	id := fmt.Sprintf("file-%d", s.nextID)
	s.saved[id] = append([]byte(nil), data...)
	return storage.FileMeta{ID: id, Name: name, MimeType: declaredType, Size: int64(len(data))}, nil
}

func (s *stubStore) Open(context.Context, string) (io.ReadCloser, storage.FileMeta, error) {
	return nil, storage.FileMeta{}, storage.ErrFileNotFound
}

func (s *stubStore) Delete(context.Context, string) error { return nil }

type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, input map[string]interface{}) (string, error) {
	return fmt.Sprintf("echo:%v", input["msg"]), nil
}

type tickingExecutor struct{}

func (tickingExecutor) Execute(ctx context.Context, input map[string]interface{}) (string, error) {
	return "final", nil
}

func (tickingExecutor) ExecuteStream(_ context.Context, _ map[string]interface{}, onUpdate func(string)) (string, error) {
	onUpdate("step 1")
	onUpdate("step 2")
	return "final", nil
}

type gatewayHarness struct {
	gateway *Gateway
	conn    *fakeConn
	eng     *fakeEngine
	store   *stubStore
	done    chan struct{}
}

func startGateway(t *testing.T, sequences ...[]engine.Event) *gatewayHarness {
	t.Helper()

	eng := newFakeEngine(sequences...)
	registry := NewRegistry(func(string) Engine { return eng }, nil, nil)
	mux := NewMux(registry, nil, nil)
	store := newStubStore()
	assembler := upload.NewAssembler(store, nil)

	toolReg := tools.NewRegistry()
	toolReg.Register("echo", llm.ToolDefinition{Name: "echo"}, echoExecutor{})
	toolReg.Register("ticker", llm.ToolDefinition{Name: "ticker"}, tickingExecutor{})

	g := NewGateway(GatewayConfig{}, registry, mux, assembler, toolReg, nil, nil, nil)

	h := &gatewayHarness{
		gateway: g,
		conn:    newFakeConn(),
		eng:     eng,
		store:   store,
		done:    make(chan struct{}),
	}
	go func() {
		g.HandleConnection(context.Background(), "c1", h.conn)
		close(h.done)
	}()
	return h
}

func (h *gatewayHarness) finish(t *testing.T) []Frame {
	t.Helper()
	h.conn.hangup()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not exit after hangup")
	}
	return h.conn.sent()
}

func chunkMsg(uploadID string, index, total int, data []byte) string {
	return fmt.Sprintf(
		`{"type":"fileChunk","uploadId":%q,"chunkIndex":%d,"totalChunks":%d,"data":%q,"fileInfo":{"name":"doc.pdf","type":"application/pdf","size":9}}`,
		uploadID, index, total, base64.StdEncoding.EncodeToString(data))
}

func TestGatewayConnectionAndPing(t *testing.T) {
	h := startGateway(t)
	h.conn.push(`{"type":"ping"}`)
	frames := h.finish(t)

	types := h.conn.sentTypes()
	if len(types) != 2 || types[0] != FrameConnection || types[1] != FramePong {
		t.Fatalf("frame types = %v, want [connection pong]", types)
	}
	if frames[0]["clientId"] != "c1" || frames[0]["status"] != "connected" {
		t.Errorf("connection frame = %v", frames[0])
	}
}

func TestGatewayUnknownMessageType(t *testing.T) {
	h := startGateway(t)
	h.conn.push(`{"type":"teleport"}`)
	frames := h.finish(t)

	last := frames[len(frames)-1]
	if last["type"] != FrameError {
		t.Fatalf("last frame = %v, want error", last)
	}
	if msg, _ := last["message"].(string); !strings.Contains(msg, "teleport") {
		t.Errorf("error message %q does not name the unrecognized type", msg)
	}
}

func TestGatewayMalformedJSON(t *testing.T) {
	h := startGateway(t)
	h.conn.push(`{not json`)
	h.conn.push(`{"type":"ping"}`)
	h.finish(t)

	types := h.conn.sentTypes()
	// Malformed input produces an error frame but never ends the session.
	if types[1] != FrameError || types[2] != FramePong {
		t.Fatalf("frame types = %v, want error then pong", types)
	}
}

func TestGatewayChatFlow(t *testing.T) {
	h := startGateway(t, []engine.Event{
		{Type: engine.EventContent, Text: "hello back"},
	})
	h.conn.push(`{"type":"chat","message":"hello"}`)
	frames := h.finish(t)

	assertTypes(t, h.conn.sentTypes(), []string{
		FrameConnection, FrameChatStart, FrameChatContent, FrameChatComplete,
	})
	// Default chat session id derives from the client id.
	if frames[1]["sessionId"] != "ws_c1" {
		t.Errorf("sessionId = %v, want ws_c1", frames[1]["sessionId"])
	}
	// No files uploaded: the message passes through unmodified.
	reqs := h.eng.seenRequests()
	if len(reqs) != 1 || reqs[0] != "hello" {
		t.Errorf("engine saw %v, want [hello]", reqs)
	}
}

func TestGatewayFilesCommandWithoutUploads(t *testing.T) {
	h := startGateway(t)
	h.conn.push(`{"type":"chat","message":"/files"}`)
	frames := h.finish(t)

	assertTypes(t, h.conn.sentTypes(), []string{
		FrameConnection, FrameChatContent, FrameChatComplete,
	})
	if msg, _ := frames[1]["content"].(string); !strings.Contains(msg, "No files uploaded yet") {
		t.Errorf("content = %q", msg)
	}
	if len(h.eng.seenRequests()) != 0 {
		t.Error("/files command invoked the engine")
	}
}

func TestGatewayUploadScenario(t *testing.T) {
	// Indices 1, 0, 2 of a 9-byte file split 3/3/3.
	h := startGateway(t, []engine.Event{
		{Type: engine.EventContent, Text: "ok"},
	})
	h.conn.push(chunkMsg("U1", 1, 3, []byte("def")))
	h.conn.push(chunkMsg("U1", 0, 3, []byte("abc")))
	h.conn.push(chunkMsg("U1", 2, 3, []byte("ghi")))
	h.conn.push(`{"type":"chat","message":"analyze my file"}`)
	frames := h.finish(t)

	assertTypes(t, h.conn.sentTypes(), []string{
		FrameConnection,
		FrameUploadProgress, FrameUploadProgress, FrameUploadProgress,
		FrameUploadComplete,
		FrameChatStart, FrameChatContent, FrameChatComplete,
	})

	wantProgress := []float64{100.0 / 3, 200.0 / 3, 100}
	for i, want := range wantProgress {
		got, _ := frames[1+i]["progress"].(float64)
		if diff := got - want; diff > 0.01 || diff < -0.01 {
			t.Errorf("progress[%d] = %.2f, want %.2f", i, got, want)
		}
	}

	complete := frames[4]
	fileID, _ := complete["fileId"].(string)
	if string(h.store.saved[fileID]) != "abcdefghi" {
		t.Errorf("assembled = %q, want abcdefghi", h.store.saved[fileID])
	}

	// The follow-up chat message carries the uploaded file context.
	reqs := h.eng.seenRequests()
	if len(reqs) != 1 {
		t.Fatalf("engine calls = %d, want 1", len(reqs))
	}
	if !strings.Contains(reqs[0], "[Available Files]") || !strings.Contains(reqs[0], "file:"+fileID) {
		t.Errorf("request missing file context:\n%s", reqs[0])
	}
	if !strings.Contains(reqs[0], "[User Message]\nanalyze my file") {
		t.Errorf("request missing user message:\n%s", reqs[0])
	}
}

func TestGatewayUploadCorruptChunk(t *testing.T) {
	h := startGateway(t)
	h.conn.push(chunkMsg("U1", 0, 2, []byte("ok")))
	h.conn.push(`{"type":"fileChunk","uploadId":"U1","chunkIndex":1,"totalChunks":2,"data":"***bad***","fileInfo":{"name":"doc.pdf"}}`)
	frames := h.finish(t)

	last := frames[len(frames)-1]
	if last["type"] != FrameError || last["uploadId"] != "U1" {
		t.Fatalf("last frame = %v, want error tagged with U1", last)
	}
	if len(h.store.saved) != 0 {
		t.Error("corrupt upload reached the store")
	}
}

func TestGatewayToolExecuteStreaming(t *testing.T) {
	h := startGateway(t)
	h.conn.push(`{"type":"toolExecute","toolName":"ticker","parameters":{}}`)
	frames := h.finish(t)

	assertTypes(t, h.conn.sentTypes(), []string{
		FrameConnection,
		FrameToolExecutionStart, FrameToolExecutionUpdate, FrameToolExecutionUpdate, FrameToolExecutionComplete,
	})
	if frames[2]["output"] != "step 1" || frames[3]["output"] != "step 2" {
		t.Errorf("updates = %v / %v", frames[2]["output"], frames[3]["output"])
	}
	if frames[4]["result"] != "final" || frames[4]["toolName"] != "ticker" {
		t.Errorf("complete frame = %v", frames[4])
	}
	start, _ := frames[1]["executionId"].(string)
	if start == "" || frames[4]["executionId"] != start {
		t.Errorf("executionId not stable across frames: %v vs %v", frames[1]["executionId"], frames[4]["executionId"])
	}
}

func TestGatewayToolExecuteUnknownTool(t *testing.T) {
	h := startGateway(t)
	h.conn.push(`{"type":"toolExecute","toolName":"nope"}`)
	frames := h.finish(t)

	last := frames[len(frames)-1]
	if last["type"] != FrameError {
		t.Fatalf("last frame = %v, want error", last)
	}
	if msg, _ := last["message"].(string); !strings.Contains(msg, "nope") {
		t.Errorf("error message %q does not name the tool", msg)
	}
	if last["executionId"] == "" {
		t.Error("error frame missing executionId")
	}
}

func TestGatewaySideChannelWiring(t *testing.T) {
	h := startGateway(t)
	h.conn.push(`{"type":"ping"}`)

	// Wait for the connection frame so the callback is bound.
	deadline := time.After(time.Second)
	for len(h.conn.sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("gateway never sent connection frame")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.eng.mu.Lock()
	registered := h.eng.callback != nil
	h.eng.mu.Unlock()
	if !registered {
		t.Fatal("tool-result callback not registered on engine")
	}
	h.eng.invokeCallback("scan", "k1", map[string]any{"llm_content": "done"})

	frames := h.finish(t)
	var found bool
	for _, f := range frames {
		if f["type"] == FrameToolResult && f["callId"] == "k1" {
			found = true
			if f["result"] != "done" {
				t.Errorf("side-channel result = %v, want done", f["result"])
			}
		}
	}
	if !found {
		t.Error("side-channel toolResult frame not delivered")
	}
}

func TestGatewayToolResultDeliveredOnceDuringDrain(t *testing.T) {
	result := map[string]any{"llm_content": "clean", "original_args": map[string]any{}}
	h := startGateway(t, []engine.Event{
		{Type: engine.EventContent, Text: "checking"},
		{Type: engine.EventToolCallRequest, Tool: &engine.ToolRef{Name: "scan", CallID: "c-9"}, Params: map[string]any{}},
		{Type: engine.EventToolCallResult, Tool: &engine.ToolRef{Name: "scan", CallID: "c-9"}, Result: result},
		{Type: engine.EventContent, Text: "all clear"},
	})
	// The side channel fires mid-drain, while the turn sequence is still
	// streaming, just as the real engine does.
	h.eng.setBeforeToolResult(func(engine.Event) {
		h.eng.invokeCallback("scan", "c-9", result)
	})

	h.conn.push(`{"type":"chat","message":"check this"}`)
	frames := h.finish(t)

	var toolResults []Frame
	for _, f := range frames {
		if f["type"] == FrameToolResult {
			toolResults = append(toolResults, f)
		}
	}
	if len(toolResults) != 1 {
		t.Fatalf("toolResult frames for one tool call = %d, want exactly 1", len(toolResults))
	}
	if toolResults[0]["callId"] != "c-9" || toolResults[0]["toolName"] != "scan" {
		t.Errorf("toolResult frame = %v, want callId c-9 from scan", toolResults[0])
	}

	// Both producers went through the serialized session writer: the
	// side-channel result lands inside the turn, between its neighbours,
	// never interleaved mid-frame.
	assertTypes(t, h.conn.sentTypes(), []string{
		FrameConnection,
		FrameChatStart, FrameChatContent, FrameToolCall, FrameToolResult, FrameChatContent, FrameChatComplete,
	})
}

func TestGatewayDisconnectDestroysEngine(t *testing.T) {
	h := startGateway(t)
	h.finish(t)
	if !h.eng.isClosed() {
		t.Error("engine not closed after connection ended")
	}
}
