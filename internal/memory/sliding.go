package memory

import (
	"context"
	"sync"

	"github.com/aicca-ai/aicca/internal/llm"
)

// SlidingWindow implements a fixed-size message history with FIFO eviction.
type SlidingWindow struct {
	mu          sync.Mutex
	maxMessages int
	histories   map[string][]llm.Message
}

// NewSlidingWindow creates a sliding window history store.
// maxMessages is the maximum number of messages retained per conversation.
func NewSlidingWindow(maxMessages int) *SlidingWindow {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &SlidingWindow{
		maxMessages: maxMessages,
		histories:   make(map[string][]llm.Message),
	}
}

// Load retrieves the message history for a conversation.
func (s *SlidingWindow) Load(_ context.Context, conversationID string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.histories[conversationID]
	result := make([]llm.Message, len(msgs))
	copy(result, msgs)
	return result, nil
}

// Save appends messages and evicts oldest when the window is exceeded.
func (s *SlidingWindow) Save(_ context.Context, conversationID string, messages []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := append(s.histories[conversationID], messages...)
	if len(existing) > s.maxMessages {
		existing = existing[len(existing)-s.maxMessages:]
	}
	s.histories[conversationID] = existing
	return nil
}

// Clear removes all messages for a conversation.
func (s *SlidingWindow) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, conversationID)
	return nil
}
