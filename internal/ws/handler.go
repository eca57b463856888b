package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/aicca-ai/aicca/internal/audit"
	"github.com/aicca-ai/aicca/internal/llm"
	"github.com/aicca-ai/aicca/internal/telemetry"
	"github.com/aicca-ai/aicca/internal/tools"
	"github.com/aicca-ai/aicca/internal/upload"
)

// GatewayConfig bounds the engine turns per message kind.
type GatewayConfig struct {
	ChatMaxTurns     int
	AnalysisMaxTurns int
}

// Gateway owns one connection's message loop: it routes typed client
// messages to their handlers and guarantees that, per session, handlers run
// strictly sequentially. One turn in flight per session, by construction.
type Gateway struct {
	cfg       GatewayConfig
	registry  *Registry
	mux       *Mux
	assembler *upload.Assembler
	tools     *tools.Registry
	recorder  audit.Recorder
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewGateway wires the connection handler.
func NewGateway(cfg GatewayConfig, registry *Registry, mux *Mux, assembler *upload.Assembler, toolReg *tools.Registry, recorder audit.Recorder, logger *slog.Logger, metrics *telemetry.Metrics) *Gateway {
	if cfg.ChatMaxTurns <= 0 {
		cfg.ChatMaxTurns = 100
	}
	if cfg.AnalysisMaxTurns <= 0 {
		cfg.AnalysisMaxTurns = 10
	}
	if recorder == nil {
		recorder = audit.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:       cfg,
		registry:  registry,
		mux:       mux,
		assembler: assembler,
		tools:     toolReg,
		recorder:  recorder,
		logger:    logger,
		metrics:   metrics,
	}
}

type clientMessage struct {
	Type string `json:"type"`

	// chat
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`

	// analyze
	SourceType string         `json:"sourceType"`
	Content    string         `json:"content"`
	Options    map[string]any `json:"options"`

	// fileChunk
	UploadID    string          `json:"uploadId"`
	ChunkIndex  int             `json:"chunkIndex"`
	TotalChunks int             `json:"totalChunks"`
	Data        string          `json:"data"`
	FileInfo    upload.FileInfo `json:"fileInfo"`

	// toolExecute
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
}

// HandleConnection runs the session's read loop until the transport fails or
// ctx is cancelled. It registers the session, binds the engine's tool-result
// side channel, and tears both down on exit.
func (g *Gateway) HandleConnection(ctx context.Context, clientID string, conn Conn) {
	ctx = telemetry.WithCorrelationID(ctx, clientID)
	logger := telemetry.SessionLogger(g.logger, ctx, clientID)

	sess, eng, reused := g.registry.Connect(clientID, conn)
	// Identity-aware teardown: if a reconnect replaced sess while this loop
	// was alive, its exit must not destroy the replacement or the engine.
	defer g.registry.DisconnectSession(sess)

	// Re-binding on reconnect points the side channel at the new session's
	// output; the registry routes by client id either way.
	eng.OnToolResult(func(toolName, callID string, result map[string]any) {
		g.mux.SideChannelToolResult(clientID, toolName, callID, result)
	})

	_ = g.registry.Send(clientID, connectionFrame(clientID))
	logger.Info("connection established", "engine_reused", reused)

	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := conn.ReadMessage()
		if err != nil {
			logger.Info("connection closed", "error", err)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = g.registry.Send(clientID, errorFrame("Malformed message: "+err.Error(), nil))
			continue
		}

		// Handlers run inline: the loop does not read the next message until
		// the current one finishes, which serializes turns per session.
		switch msg.Type {
		case MsgChat:
			g.handleChat(ctx, clientID, eng, msg)
		case MsgAnalyze:
			g.handleAnalyze(ctx, clientID, eng, msg)
		case MsgFileChunk:
			g.handleFileChunk(ctx, clientID, msg)
		case MsgToolExecute:
			g.handleToolExecute(ctx, clientID, msg)
		case MsgPing:
			_ = g.registry.Send(clientID, pongFrame())
		default:
			_ = g.registry.Send(clientID, errorFrame(fmt.Sprintf("Unknown message type: %s", msg.Type), nil))
		}
	}
}

func (g *Gateway) handleChat(ctx context.Context, clientID string, eng Engine, msg clientMessage) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "ws_" + clientID
	}

	if isFilesCommand(msg.Message) {
		g.replyFileList(clientID, sessionID)
		return
	}

	request := g.injectFileContext(clientID, msg.Message)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := eng.StreamTurn(turnCtx, request, sessionID, g.cfg.ChatMaxTurns)
	g.mux.DrainChat(clientID, sessionID, events)
}

func (g *Gateway) handleAnalyze(ctx context.Context, clientID string, eng Engine, msg clientMessage) {
	requestID := ulid.Make().String()

	sourceType := msg.SourceType
	if sourceType == "" {
		sourceType = "text"
	}
	options, err := json.Marshal(msg.Options)
	if err != nil {
		options = []byte("{}")
	}

	request := fmt.Sprintf(
		"Analyze the credibility of the following content:\nSource type: %s\nContent: %s\nOptions: %s",
		sourceType, msg.Content, options)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := eng.StreamTurn(turnCtx, request, requestID, g.cfg.AnalysisMaxTurns)
	g.mux.DrainAnalysis(clientID, requestID, events)
}

func (g *Gateway) handleFileChunk(ctx context.Context, clientID string, msg clientMessage) {
	frag := upload.Fragment{
		UploadID:       msg.UploadID,
		Index:          msg.ChunkIndex,
		TotalChunks:    msg.TotalChunks,
		Data:           msg.Data,
		FileInfo:       msg.FileInfo,
		OwnerSessionID: clientID,
	}

	progress, completed, err := g.assembler.ReceiveFragment(ctx, frag)

	if progress.Total > 0 {
		_ = g.registry.Send(clientID, uploadProgressFrame(
			progress.UploadID, progress.Received, progress.Total, progress.Percent()))
	}

	if err != nil {
		g.metrics.UploadFailed()
		g.recorder.RecordUpload(ctx, audit.UploadRecord{
			UploadID: msg.UploadID,
			ClientID: clientID,
			FileName: msg.FileInfo.Name,
			Status:   audit.UploadStatusFailed,
			Detail:   err.Error(),
		})
		_ = g.registry.Send(clientID, errorFrame(
			"File upload error: "+err.Error(), Frame{"uploadId": msg.UploadID}))
		return
	}

	if completed == nil {
		return
	}

	g.registry.AddUploadedFile(clientID, FileRecord{
		FileID: completed.FileID,
		Name:   completed.Name,
		Type:   completed.MimeType,
		Size:   completed.Size,
	})
	g.metrics.UploadCompleted(completed.Size)
	g.recorder.RecordUpload(ctx, audit.UploadRecord{
		UploadID: msg.UploadID,
		ClientID: clientID,
		FileID:   completed.FileID,
		FileName: completed.Name,
		Bytes:    completed.Size,
		Status:   audit.UploadStatusCompleted,
	})

	_ = g.registry.Send(clientID, uploadCompleteFrame(msg.UploadID, completed.FileID, Frame{
		"name": completed.Name,
		"type": completed.MimeType,
		"size": completed.Size,
	}))
}

func (g *Gateway) handleToolExecute(ctx context.Context, clientID string, msg clientMessage) {
	executionID := ulid.Make().String()

	if !g.tools.Has(msg.ToolName) {
		_ = g.registry.Send(clientID, errorFrame(
			"Tool not found: "+msg.ToolName, Frame{"executionId": executionID}))
		return
	}

	_ = g.registry.Send(clientID, toolExecutionStartFrame(executionID, msg.ToolName, msg.Parameters))

	onUpdate := func(output string) {
		_ = g.registry.Send(clientID, toolExecutionUpdateFrame(executionID, output))
	}

	call := toolCallFromMessage(msg, executionID)
	result, err := g.tools.ExecuteWithProgress(ctx, call, onUpdate)
	if err != nil {
		g.metrics.ToolCall(msg.ToolName, "failed")
		_ = g.registry.Send(clientID, errorFrame(
			"Tool execution error: "+err.Error(), Frame{"executionId": executionID}))
		return
	}

	g.metrics.ToolCall(msg.ToolName, "succeeded")
	_ = g.registry.Send(clientID, toolExecutionCompleteFrame(executionID, msg.ToolName, result))
}

// replyFileList answers the /files chat command without invoking the engine.
func (g *Gateway) replyFileList(clientID, sessionID string) {
	files := g.registry.Files(clientID)

	var response string
	if len(files) == 0 {
		response = "No files uploaded yet. Please upload files first."
	} else {
		var b strings.Builder
		b.WriteString("Available files for analysis:\n\n")
		for i, f := range files {
			fmt.Fprintf(&b, "[%d] %s (%s) - file:%s\n", i+1, f.Name, f.Type, f.FileID)
		}
		b.WriteString("\nYou can request analysis by mentioning the file name or type.")
		response = b.String()
	}

	_ = g.registry.Send(clientID, chatContentFrame(sessionID, response))
	_ = g.registry.Send(clientID, chatCompleteFrame(sessionID))
}

// injectFileContext prefixes the message with the session's uploaded files so
// the engine can reference them by id.
func (g *Gateway) injectFileContext(clientID, message string) string {
	files := g.registry.Files(clientID)
	if len(files) == 0 {
		return message
	}

	var b strings.Builder
	b.WriteString("[Available Files]\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (file:%s) - %s\n", f.Name, f.FileID, f.Type)
	}
	b.WriteString("\nNote: Use file:ID format to access these files when user requests analysis.\n\n")
	b.WriteString("[User Message]\n")
	b.WriteString(message)
	return b.String()
}

func toolCallFromMessage(msg clientMessage, executionID string) llm.ToolCall {
	params := msg.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return llm.ToolCall{ID: executionID, Name: msg.ToolName, Input: params}
}

func isFilesCommand(message string) bool {
	switch strings.ToLower(strings.TrimSpace(message)) {
	case "/files", "files", "list":
		return true
	}
	return false
}
