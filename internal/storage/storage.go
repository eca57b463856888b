// Package storage provides the artifact store behind uploads: save a fully
// reassembled byte payload, hand back an opaque file id, and serve the bytes
// later. Backends: local disk and S3.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrFileNotFound indicates the file id resolves to nothing.
var ErrFileNotFound = errors.New("file not found")

// FileMeta describes a stored artifact. Name, MimeType, and Size come from
// client declarations and are hints only.
type FileMeta struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"storedAt"`
}

// FileStore persists reassembled upload artifacts.
type FileStore interface {
	// Save stores data and returns its metadata, including the generated id.
	Save(ctx context.Context, data []byte, name, declaredType string) (FileMeta, error)

	// Open returns a reader over the stored bytes plus the metadata.
	// Returns ErrFileNotFound for unknown ids.
	Open(ctx context.Context, id string) (io.ReadCloser, FileMeta, error)

	// Delete removes a stored artifact. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}
