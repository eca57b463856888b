// Package upload reassembles artifacts delivered as base64-encoded fragments
// over the websocket connection. Fragments may arrive in any order and more
// than once; the assembled bytes are always the fragments concatenated in
// index order.
package upload

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aicca-ai/aicca/internal/storage"
)

// FileInfo is the client-declared metadata for a transfer. Untrusted; used
// only for filenames and content-type hints downstream.
type FileInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Fragment is one encoded piece of a transfer.
type Fragment struct {
	UploadID       string
	Index          int
	TotalChunks    int
	Data           string // base64-encoded payload
	FileInfo       FileInfo
	OwnerSessionID string
}

// Progress reports the distinct-index fill level after a fragment lands.
type Progress struct {
	UploadID string
	Received int
	Total    int
}

// Percent returns the progress as 0-100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Received) / float64(p.Total) * 100
}

// Completed describes a finished transfer after the artifact store accepted
// the reassembled bytes.
type Completed struct {
	FileID         string
	Name           string
	MimeType       string
	Size           int64
	OwnerSessionID string
}

// Error tags a failure with the transfer it belongs to. The pending state is
// always discarded before this is returned; the client must restart with a
// new upload id.
type Error struct {
	UploadID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload %s: %v", e.UploadID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type pending struct {
	totalChunks int
	chunks      map[int]string
	fileInfo    FileInfo
	owner       string
	createdAt   time.Time
}

// Assembler accumulates fragments per upload id and triggers reassembly when
// the received index set equals {0..totalChunks-1} exactly. Safe for
// concurrent use across sessions.
type Assembler struct {
	store  storage.FileStore
	logger *slog.Logger

	mu       sync.Mutex
	pendings map[string]*pending
}

// NewAssembler creates an assembler backed by the given artifact store.
func NewAssembler(store storage.FileStore, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:    store,
		logger:   logger,
		pendings: make(map[string]*pending),
	}
}

// ReceiveFragment records one fragment. It always returns the progress after
// the fragment landed. When the fragment completes the transfer, the second
// return value carries the completion record. A non-nil error means the
// whole transfer failed and was discarded.
func (a *Assembler) ReceiveFragment(ctx context.Context, frag Fragment) (Progress, *Completed, error) {
	if frag.UploadID == "" {
		return Progress{}, nil, &Error{UploadID: frag.UploadID, Err: fmt.Errorf("missing upload id")}
	}

	a.mu.Lock()

	p, ok := a.pendings[frag.UploadID]
	if !ok {
		if frag.TotalChunks <= 0 {
			a.mu.Unlock()
			return Progress{}, nil, &Error{UploadID: frag.UploadID, Err: fmt.Errorf("invalid totalChunks %d", frag.TotalChunks)}
		}
		p = &pending{
			totalChunks: frag.TotalChunks,
			chunks:      make(map[int]string),
			fileInfo:    frag.FileInfo,
			owner:       frag.OwnerSessionID,
			createdAt:   time.Now(),
		}
		a.pendings[frag.UploadID] = p
	} else if p.totalChunks != frag.TotalChunks {
		// Tolerated: a late or buggy duplicate declaration must not corrupt
		// an in-progress transfer. The first declaration stays authoritative.
		a.logger.Warn("fragment declares mismatched total",
			"upload_id", frag.UploadID,
			"declared", frag.TotalChunks,
			"authoritative", p.totalChunks)
	}

	if frag.Index < 0 || frag.Index >= p.totalChunks {
		// Index inconsistency is terminal for the transfer: discard, no
		// retry-in-place. The client restarts with a new upload id.
		delete(a.pendings, frag.UploadID)
		a.mu.Unlock()
		return Progress{}, nil, &Error{
			UploadID: frag.UploadID,
			Err:      fmt.Errorf("chunk index %d outside [0,%d)", frag.Index, p.totalChunks),
		}
	}

	// Last write wins on retransmission.
	p.chunks[frag.Index] = frag.Data

	progress := Progress{
		UploadID: frag.UploadID,
		Received: len(p.chunks),
		Total:    p.totalChunks,
	}

	if !complete(p) {
		a.mu.Unlock()
		return progress, nil, nil
	}

	// Terminal either way from here: remove before reassembly so a redelivered
	// completing fragment starts a fresh transfer instead of re-triggering.
	delete(a.pendings, frag.UploadID)
	snapshot := *p
	a.mu.Unlock()

	completed, err := a.reassemble(ctx, frag.UploadID, &snapshot)
	if err != nil {
		return progress, nil, err
	}
	return progress, completed, nil
}

// complete requires set-equality with {0..totalChunks-1}: cardinality alone
// would let duplicate-index floods signal completion falsely. Indices outside
// the range are rejected at ingress, so a full map means a dense range.
func complete(p *pending) bool {
	if len(p.chunks) != p.totalChunks {
		return false
	}
	for i := 0; i < p.totalChunks; i++ {
		if _, ok := p.chunks[i]; !ok {
			return false
		}
	}
	return true
}

func (a *Assembler) reassemble(ctx context.Context, uploadID string, p *pending) (*Completed, error) {
	var assembled []byte
	for i := 0; i < p.totalChunks; i++ {
		raw, err := decodeFragment(p.chunks[i])
		if err != nil {
			return nil, &Error{UploadID: uploadID, Err: fmt.Errorf("decode chunk %d: %w", i, err)}
		}
		assembled = append(assembled, raw...)
	}

	meta, err := a.store.Save(ctx, assembled, p.fileInfo.Name, p.fileInfo.Type)
	if err != nil {
		return nil, &Error{UploadID: uploadID, Err: fmt.Errorf("save artifact: %w", err)}
	}

	a.logger.Info("upload assembled",
		"upload_id", uploadID,
		"file_id", meta.ID,
		"name", p.fileInfo.Name,
		"bytes", len(assembled),
		"chunks", p.totalChunks)

	return &Completed{
		FileID:         meta.ID,
		Name:           p.fileInfo.Name,
		MimeType:       meta.MimeType,
		Size:           int64(len(assembled)),
		OwnerSessionID: p.owner,
	}, nil
}

// decodeFragment accepts standard base64 with a URL-safe fallback, since
// some clients fragment with the URL-safe alphabet.
func decodeFragment(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err == nil {
		return raw, nil
	}
	if raw, uerr := base64.URLEncoding.DecodeString(data); uerr == nil {
		return raw, nil
	}
	return nil, err
}

// PendingCount reports the number of in-flight transfers.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pendings)
}

// SweepStale discards transfers that have seen no completion for longer than
// maxAge. Disconnects intentionally strand their pending uploads; this sweep
// is how they eventually get collected.
func (a *Assembler) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, p := range a.pendings {
		if p.createdAt.Before(cutoff) {
			delete(a.pendings, id)
			removed++
			a.logger.Warn("discarded stale pending upload",
				"upload_id", id,
				"owner", p.owner,
				"received", len(p.chunks),
				"total", p.totalChunks)
		}
	}
	return removed
}
