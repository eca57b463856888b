// Package audit records upload outcomes for after-the-fact inspection.
// Recording is best-effort: a failed write is logged, never surfaced to the
// session that triggered it.
package audit

import (
	"context"
)

// Upload statuses.
const (
	UploadStatusCompleted = "completed"
	UploadStatusFailed    = "failed"
)

// UploadRecord is one terminal upload event.
type UploadRecord struct {
	UploadID string
	ClientID string
	FileID   string
	FileName string
	Bytes    int64
	Status   string
	Detail   string
}

// Recorder persists audit records.
type Recorder interface {
	RecordUpload(ctx context.Context, rec UploadRecord)
}

// NoopRecorder discards everything; the default when no audit database is
// configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordUpload(context.Context, UploadRecord) {}
