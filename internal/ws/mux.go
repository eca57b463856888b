package ws

import (
	"log/slog"
	"sync"

	"github.com/aicca-ai/aicca/internal/engine"
	"github.com/aicca-ai/aicca/internal/telemetry"
)

// FrameSender is the serialized per-session output path. Both the turn drain
// and the tool-result side channel go through it; neither ever writes to the
// transport directly.
type FrameSender interface {
	Send(id string, frame Frame) error
}

// Mux drains one engine event sequence per invocation, translating events
// into ordered client frames. The terminal frame is emitted unconditionally:
// a drain that fails mid-stream still closes the client's turn.
type Mux struct {
	sender  FrameSender
	logger  *slog.Logger
	metrics *telemetry.Metrics

	// Tool results already delivered through the side channel, by call id.
	// The drain consumes a marker instead of emitting a second inline
	// toolResult: one toolResult per call id.
	mu            sync.Mutex
	sideDelivered map[string]int
}

// NewMux creates a multiplexer writing through sender.
func NewMux(sender FrameSender, logger *slog.Logger, metrics *telemetry.Metrics) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		sender:        sender,
		logger:        logger,
		metrics:       metrics,
		sideDelivered: make(map[string]int),
	}
}

// DrainChat consumes a chat turn's events for clientID, emitting chatStart,
// then content/tool frames in event order, then chatComplete.
func (m *Mux) DrainChat(clientID, sessionID string, events <-chan engine.Event) {
	m.send(clientID, chatStartFrame(sessionID))
	m.metrics.TurnStarted("chat")

	// Remembered across events: results sometimes arrive without a tool
	// name, and resolve to the most recent request's.
	var lastToolName string
	errored := false

	for ev := range events {
		if errored {
			continue // drain remainder, no further frames except the terminal
		}
		switch ev.Type {
		case engine.EventContent:
			m.send(clientID, chatContentFrame(sessionID, ev.Text))

		case engine.EventToolCallRequest:
			name, _ := ev.Tool.Resolve()
			if name == "" {
				name = "unknown"
			}
			lastToolName = name
			m.metrics.ToolCall(name, "requested")
			m.send(clientID, toolCallFrame(sessionID, name, ev.Params))

		case engine.EventToolCallResult:
			name, callID := ev.Tool.Resolve()
			if name == "" {
				name = lastToolName
			}
			if !m.consumeSideDelivered(callID) {
				m.send(clientID, toolResultFrame(sessionID, name, ev.Result))
			}

		case engine.EventError:
			m.logger.Warn("chat turn failed", "client_id", clientID, "session_id", sessionID, "error", ev.Err)
			m.send(clientID, errorFrame("Chat processing error: "+ev.Err.Error(), nil))
			errored = true

		default:
			// Best-effort shim for malformed or legacy events that textually
			// indicate a finished tool invocation.
			if ev.IndicatesToolCompletion() && lastToolName != "" {
				m.send(clientID, toolResultFrame(sessionID, lastToolName, ev.Raw))
			}
		}
	}

	m.send(clientID, chatCompleteFrame(sessionID))
}

// DrainAnalysis consumes an analysis turn's events, emitting analysisStart,
// per-tool progress and result frames, then analysisComplete carrying the
// accumulated per-tool results.
func (m *Mux) DrainAnalysis(clientID, requestID string, events <-chan engine.Event) {
	m.send(clientID, analysisStartFrame(requestID))
	m.metrics.TurnStarted("analysis")

	var lastToolName string
	toolResults := map[string]any{}
	errored := false

	for ev := range events {
		if errored {
			continue
		}
		switch ev.Type {
		case engine.EventToolCallRequest:
			name, _ := ev.Tool.Resolve()
			if name == "" {
				name = "unknown"
			}
			lastToolName = name
			m.metrics.ToolCall(name, "requested")
			m.send(clientID, analysisProgressFrame(requestID, name))

		case engine.EventToolCallResult:
			name, callID := ev.Tool.Resolve()
			if name == "" {
				name = lastToolName
			}
			if name == "" {
				name = "unknown"
			}
			// Analysis frames are their own vocabulary, so the result still
			// goes out; the marker is consumed so it cannot suppress an
			// unrelated later chat result.
			m.consumeSideDelivered(callID)
			toolResults[name] = ev.Result
			m.send(clientID, analysisToolResultFrame(requestID, name, ev.Result))

		case engine.EventError:
			m.logger.Warn("analysis turn failed", "client_id", clientID, "request_id", requestID, "error", ev.Err)
			m.send(clientID, errorFrame("Analysis error: "+ev.Err.Error(), Frame{"requestId": requestID}))
			errored = true
		}
	}

	m.send(clientID, analysisCompleteFrame(requestID, toolResults))
}

// SideChannelToolResult forwards an out-of-band tool result to the session.
// Called by the engine callback at any time relative to a drain. The call id
// is marked delivered so the drain does not emit the same result inline.
func (m *Mux) SideChannelToolResult(clientID, toolName, callID string, result map[string]any) {
	if callID != "" {
		m.mu.Lock()
		m.sideDelivered[callID]++
		m.mu.Unlock()
	}
	m.send(clientID, sideChannelToolResultFrame(toolName, callID, result))
}

// consumeSideDelivered reports whether a result for callID already went out
// on the side channel, clearing the marker it consumes.
func (m *Mux) consumeSideDelivered(callID string) bool {
	if callID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.sideDelivered[callID]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(m.sideDelivered, callID)
	} else {
		m.sideDelivered[callID] = n - 1
	}
	return true
}

func (m *Mux) send(clientID string, frame Frame) {
	_ = m.sender.Send(clientID, frame)
}
