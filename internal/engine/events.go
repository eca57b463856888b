// Package engine implements the per-session reasoning engine: a turn loop
// over a streaming model client that executes tools through a registry and
// exposes each turn as a finite sequence of typed events.
package engine

import (
	"fmt"
	"strings"
)

// EventType tags an event produced while draining a turn.
type EventType string

const (
	// EventContent carries an incremental text fragment.
	EventContent EventType = "Content"
	// EventToolCallRequest announces that the model requested a tool.
	EventToolCallRequest EventType = "ToolCallRequest"
	// EventToolCallResult carries the inline result of a tool execution.
	EventToolCallResult EventType = "ToolCallResult"
	// EventError signals a failure while producing the sequence. It is
	// always the last event before the channel closes.
	EventError EventType = "Error"
	// EventOther carries an event the engine does not recognize. Consumers
	// may apply best-effort heuristics to it.
	EventOther EventType = "Other"
)

// Event is one element of a turn's event sequence.
type Event struct {
	Type   EventType
	Text   string         // EventContent
	Tool   *ToolRef       // EventToolCallRequest, EventToolCallResult
	Params map[string]any // EventToolCallRequest
	Result any            // EventToolCallResult
	Err    error          // EventError
	Raw    map[string]any // EventOther
}

// ToolRef identifies a tool invocation. Identity may arrive structured
// (Name/CallID populated) or as a loose key-value bag from a legacy
// producer; Resolve canonicalizes both shapes.
type ToolRef struct {
	Name   string
	CallID string
	Loose  map[string]any
}

// Resolve returns the canonical (name, callID) pair, consulting the loose
// bag when the structured fields are empty. Either value may be "".
func (r *ToolRef) Resolve() (name, callID string) {
	if r == nil {
		return "", ""
	}
	name, callID = r.Name, r.CallID
	if name == "" {
		name = looseString(r.Loose, "name", "tool_name")
	}
	if callID == "" {
		callID = looseString(r.Loose, "call_id", "id")
	}
	return name, callID
}

func looseString(bag map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := bag[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// IndicatesToolCompletion reports whether an unrecognized event textually
// looks like a completed tool invocation. Best-effort compatibility shim for
// malformed or legacy events; the primary path is EventToolCallResult.
func (e Event) IndicatesToolCompletion() bool {
	if e.Type != EventOther {
		return false
	}
	return strings.Contains(fmt.Sprint(e.Raw), "functionResponse")
}
