package ws

import (
	"sync"
	"time"
)

// FileRecord is one completed upload scoped to a session, in completion
// order.
type FileRecord struct {
	FileID string `json:"fileId"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
}

// Session is the server-side state for one connected client. The connection
// is exclusively owned; every write goes through Send, which holds the write
// lock, so the two frame producers (turn drain and the tool-result callback)
// can never interleave mid-write.
type Session struct {
	ID        string
	CreatedAt time.Time

	writeMu sync.Mutex
	conn    Conn

	mu            sync.Mutex
	messageCount  int
	uploadedFiles []FileRecord
	closed        bool
}

func newSession(id string, conn Conn) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		conn:      conn,
	}
}

// Send delivers one frame over the connection, serialized against all other
// senders to this session.
func (s *Session) Send(frame Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		return err
	}

	s.mu.Lock()
	s.messageCount++
	s.mu.Unlock()
	return nil
}

// MessageCount reports frames sent so far.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// AddFile appends a completed-upload record.
func (s *Session) AddFile(rec FileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadedFiles = append(s.uploadedFiles, rec)
}

// Files returns the completed uploads in completion order.
func (s *Session) Files() []FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FileRecord(nil), s.uploadedFiles...)
}

// close marks the session dead and closes the transport.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.conn.Close()
}
