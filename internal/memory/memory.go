// Package memory defines the conversation history abstraction used by engine
// instances. History is keyed by prompt/session id so one engine can hold
// several parallel conversations (the websocket chat session plus transient
// analysis turns).
package memory

import (
	"context"

	"github.com/aicca-ai/aicca/internal/llm"
)

// Store manages conversation message history.
type Store interface {
	// Load retrieves the message history for a conversation.
	Load(ctx context.Context, conversationID string) ([]llm.Message, error)

	// Save appends messages to the conversation history, applying the
	// configured retention strategy (e.g. sliding window eviction).
	Save(ctx context.Context, conversationID string, messages []llm.Message) error

	// Clear removes all messages for a conversation.
	Clear(ctx context.Context, conversationID string) error
}
