package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const uploadAuditSchema = `
CREATE TABLE IF NOT EXISTS upload_audit (
	id          BIGSERIAL PRIMARY KEY,
	upload_id   TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	file_id     TEXT,
	file_name   TEXT,
	bytes       BIGINT NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	detail      TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresRecorder writes upload audit rows through a pgx pool.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRecorder connects and ensures the audit table exists.
func NewPostgresRecorder(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, uploadAuditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ensure schema: %w", err)
	}

	return &PostgresRecorder{pool: pool, logger: logger}, nil
}

// RecordUpload inserts one audit row. Failures are logged and dropped.
func (r *PostgresRecorder) RecordUpload(ctx context.Context, rec UploadRecord) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO upload_audit (upload_id, client_id, file_id, file_name, bytes, status, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.UploadID, rec.ClientID, rec.FileID, rec.FileName, rec.Bytes, rec.Status, rec.Detail)
	if err != nil {
		r.logger.Warn("audit write failed", "upload_id", rec.UploadID, "error", err)
	}
}

// Close releases the pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
