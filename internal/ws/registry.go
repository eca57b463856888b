package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aicca-ai/aicca/internal/engine"
	"github.com/aicca-ai/aicca/internal/telemetry"
)

// Engine is the slice of the reasoning engine the session layer drives:
// start turns, receive out-of-band tool results, release on disconnect.
// *engine.Engine satisfies it.
type Engine interface {
	StreamTurn(ctx context.Context, request, turnID string, maxTurns int) <-chan engine.Event
	OnToolResult(fn engine.ToolResultFunc)
	Close()
}

// EngineFactory builds the engine instance for a client id on first connect.
type EngineFactory func(clientID string) Engine

// Registry is the process-wide table of live sessions and their engine
// instances. At most one engine instance exists per client id; a reconnect
// to the same id replaces the connection wrapper but reuses the engine, so
// conversational context carries over.
type Registry struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
	factory EngineFactory

	mu       sync.Mutex
	sessions map[string]*Session
	engines  map[string]Engine
}

// NewRegistry creates an empty registry.
func NewRegistry(factory EngineFactory, logger *slog.Logger, metrics *telemetry.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		metrics:  metrics,
		factory:  factory,
		sessions: make(map[string]*Session),
		engines:  make(map[string]Engine),
	}
}

// Connect registers a connection under id and returns the session plus its
// engine. An existing session for the same id is closed and replaced; its
// engine is reused rather than re-created. reused reports whether the engine
// already existed.
func (r *Registry) Connect(id string, conn Conn) (sess *Session, eng Engine, reused bool) {
	r.mu.Lock()

	if old, ok := r.sessions[id]; ok {
		r.logger.Info("replacing live session", "client_id", id)
		old.close()
	}

	sess = newSession(id, conn)
	r.sessions[id] = sess

	eng, reused = r.engines[id]
	if !reused {
		eng = r.factory(id)
		r.engines[id] = eng
	}
	r.mu.Unlock()

	if reused {
		r.logger.Info("session connected, reusing engine", "client_id", id)
	} else {
		r.logger.Info("session connected, engine created", "client_id", id)
	}
	r.metrics.SessionOpened()
	return sess, eng, reused
}

// Disconnect removes whatever session is currently registered under id,
// destroys its engine instance, and discards its uploaded-file records.
// Pending uploads owned by the session are left to the stale sweep.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	r.removeLocked(id, r.sessions[id])
}

// DisconnectSession tears down sess only while it is still the registered
// session for its id. A read loop whose session was replaced by a reconnect
// calls this on exit; the replacement and the shared engine must survive its
// teardown.
func (r *Registry) DisconnectSession(sess *Session) {
	if sess == nil {
		return
	}
	r.mu.Lock()
	if r.sessions[sess.ID] != sess {
		r.mu.Unlock()
		r.logger.Debug("skipping teardown for replaced session", "client_id", sess.ID)
		return
	}
	r.removeLocked(sess.ID, sess)
}

// removeLocked deletes id's entries and releases them. Called with r.mu
// held; releases it before closing anything.
func (r *Registry) removeLocked(id string, sess *Session) {
	if sess != nil {
		delete(r.sessions, id)
	}
	eng, hasEngine := r.engines[id]
	if hasEngine {
		delete(r.engines, id)
	}
	r.mu.Unlock()

	if sess == nil && !hasEngine {
		return
	}
	if sess != nil {
		sess.close()
	}
	if hasEngine {
		eng.Close()
	}
	r.logger.Info("session disconnected", "client_id", id)
	r.metrics.SessionClosed()
}

// Send enqueues a frame for serialized delivery to id. Unknown or dead
// sessions are a logged no-op.
func (r *Registry) Send(id string, frame Frame) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("dropping frame for unknown session", "client_id", id, "frame_type", frame["type"])
		return nil
	}

	if err := sess.Send(frame); err != nil {
		r.logger.Warn("frame delivery failed", "client_id", id, "frame_type", frame["type"], "error", err)
		return err
	}
	if t, ok := frame["type"].(string); ok {
		r.metrics.FrameSent(t)
	}
	return nil
}

// Broadcast sends a frame to every session except excludeID. A failed send
// removes that session instead of aborting the broadcast.
func (r *Registry) Broadcast(frame Frame, excludeID string) {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if id != excludeID {
			targets = append(targets, sess)
		}
	}
	r.mu.Unlock()

	var failed []*Session
	for _, sess := range targets {
		if err := sess.Send(frame); err != nil {
			failed = append(failed, sess)
		}
	}
	for _, sess := range failed {
		r.logger.Warn("removing session after broadcast failure", "client_id", sess.ID)
		r.DisconnectSession(sess)
	}
}

// AddUploadedFile records a completed upload against a session. Unknown
// sessions are a logged no-op: the owner disconnected mid-transfer.
func (r *Registry) AddUploadedFile(id string, rec FileRecord) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("completed upload for unknown session", "client_id", id, "file_id", rec.FileID)
		return
	}
	sess.AddFile(rec)
}

// Files returns a session's completed uploads, or nil if unknown.
func (r *Registry) Files(id string) []FileRecord {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.Files()
}

// Count reports live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ConnectionInfo is the wire shape served by the connections endpoint.
type ConnectionInfo struct {
	ClientID     string    `json:"clientId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	MessageCount int       `json:"messageCount"`
}

// Snapshot returns info for every live session.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, ConnectionInfo{
			ClientID:     sess.ID,
			ConnectedAt:  sess.CreatedAt,
			MessageCount: sess.MessageCount(),
		})
	}
	return infos
}
