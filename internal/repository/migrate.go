package repository

import (
	"context"
	"fmt"
)

const (
	jobsTable  = "ocr_jobs"
	queueTable = "ocr_job_queue"
)

// Column types are portable between SQLite and Postgres. Timestamps are unix
// nanoseconds, 0 meaning unset.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ocr_jobs (
		id            VARCHAR(36) PRIMARY KEY,
		status        VARCHAR(16) NOT NULL,
		source_kind   VARCHAR(16) NOT NULL,
		content_type  VARCHAR(64) NOT NULL,
		size_bytes    BIGINT NOT NULL,
		page_count    INTEGER NOT NULL DEFAULT 0,
		pages         TEXT NOT NULL DEFAULT '[]',
		error_code    VARCHAR(64) NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		attempts      INTEGER NOT NULL DEFAULT 0,
		created_at    BIGINT NOT NULL,
		started_at    BIGINT NOT NULL DEFAULT 0,
		finished_at   BIGINT NOT NULL DEFAULT 0,
		expires_at    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ocr_jobs_expires_at_idx ON ocr_jobs (expires_at)`,
	`CREATE TABLE IF NOT EXISTS ocr_job_queue (
		job_id      VARCHAR(36) PRIMARY KEY,
		trace_id    VARCHAR(64) NOT NULL DEFAULT '',
		enqueued_at BIGINT NOT NULL,
		visible_at  BIGINT NOT NULL,
		deliveries  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS ocr_job_queue_visible_at_idx ON ocr_job_queue (visible_at, enqueued_at)`,
}

// Migrate creates the tables used by the job store and queue.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.exec(ctx, stmt, []any{}); err != nil {
			db.logger.Error("migration failed", "step", i, "error", err)
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	db.logger.Debug("migrations applied", "steps", len(migrations))
	return nil
}
