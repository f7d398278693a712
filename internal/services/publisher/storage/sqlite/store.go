package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/certpublish/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/certpublish/internal/services/publisher/storage"
	"github.com/louisbranch/certpublish/internal/services/publisher/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed publish journal persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a journal SQLite store and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordPublish persists one record outcome.
func (s *Store) RecordPublish(ctx context.Context, record storage.PublishRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	record.RunID = strings.TrimSpace(record.RunID)
	record.TerrainID = strings.TrimSpace(record.TerrainID)
	record.Outcome = strings.TrimSpace(record.Outcome)
	record.LastError = strings.TrimSpace(record.LastError)
	if record.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if record.TerrainID == "" {
		return fmt.Errorf("terrain id is required")
	}
	if record.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO publish_journal (
	run_id,
	terrain_id,
	outcome,
	status,
	token_id,
	tx_hash,
	cid,
	decode_path,
	error_code,
	last_error,
	center_wkt,
	trace_id,
	span_id,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.RunID,
		record.TerrainID,
		record.Outcome,
		record.Status,
		record.TokenID,
		record.TxHash,
		record.CID,
		record.DecodePath,
		record.ErrorCode,
		record.LastError,
		record.CenterWKT,
		record.TraceID,
		record.SpanID,
		record.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	return nil
}

// ListRecent lists newest-first journal rows.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]storage.PublishRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	run_id,
	terrain_id,
	outcome,
	status,
	token_id,
	tx_hash,
	cid,
	decode_path,
	error_code,
	last_error,
	center_wkt,
	trace_id,
	span_id,
	created_at
FROM publish_journal
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	records := make([]storage.PublishRecord, 0, limit)
	for rows.Next() {
		var record storage.PublishRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.TerrainID,
			&record.Outcome,
			&record.Status,
			&record.TokenID,
			&record.TxHash,
			&record.CID,
			&record.DecodePath,
			&record.ErrorCode,
			&record.LastError,
			&record.CenterWKT,
			&record.TraceID,
			&record.SpanID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return records, nil
}

var _ storage.JournalStore = (*Store)(nil)
