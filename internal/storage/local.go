package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// LocalStore keeps artifacts on the local filesystem: the payload at
// <dir>/<id> and a JSON metadata sidecar at <dir>/<id>.meta.json, so
// metadata survives a process restart.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, data []byte, name, declaredType string) (FileMeta, error) {
	meta := FileMeta{
		ID:       ulid.Make().String(),
		Name:     name,
		MimeType: normalizeMimeType(declaredType, name),
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}

	if err := os.WriteFile(s.dataPath(meta.ID), data, 0o644); err != nil {
		return FileMeta{}, fmt.Errorf("write artifact: %w", err)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return FileMeta{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.ID), raw, 0o644); err != nil {
		_ = os.Remove(s.dataPath(meta.ID))
		return FileMeta{}, fmt.Errorf("write metadata: %w", err)
	}

	return meta, nil
}

func (s *LocalStore) Open(_ context.Context, id string) (io.ReadCloser, FileMeta, error) {
	if !validID(id) {
		return nil, FileMeta{}, ErrFileNotFound
	}

	raw, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, FileMeta{}, ErrFileNotFound
		}
		return nil, FileMeta{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta FileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, FileMeta{}, fmt.Errorf("decode metadata: %w", err)
	}

	f, err := os.Open(s.dataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, FileMeta{}, ErrFileNotFound
		}
		return nil, FileMeta{}, fmt.Errorf("open artifact: %w", err)
	}
	return f, meta, nil
}

func (s *LocalStore) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if err := os.Remove(s.dataPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove metadata: %w", err)
	}
	return nil
}

// CleanupOlderThan removes artifacts whose metadata says they were stored
// before now-maxAge. Returns the number of artifacts removed.
func (s *LocalStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read storage dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".meta.json")

		raw, err := os.ReadFile(s.metaPath(id))
		if err != nil {
			continue
		}
		var meta FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if meta.StoredAt.After(cutoff) {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *LocalStore) dataPath(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *LocalStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+".meta.json")
}

// validID rejects ids that could escape the storage directory.
func validID(id string) bool {
	return id != "" && id == filepath.Base(id) && !strings.ContainsAny(id, "/\\")
}

// normalizeMimeType prefers the declared type, falling back to an extension
// guess, then to application/octet-stream.
func normalizeMimeType(declared, name string) string {
	if declared != "" {
		return declared
	}
	if guessed := mime.TypeByExtension(filepath.Ext(name)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}
