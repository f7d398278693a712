package storage

import (
	"context"
	"time"
)

// Journal outcomes, one per processed certificate record.
const (
	OutcomeSkippedNotSuitable   = "skipped_not_suitable"
	OutcomeSkippedAlreadyMinted = "skipped_already_minted"
	OutcomeSkippedMissingCID    = "skipped_missing_cid"
	OutcomeMinted               = "minted"
	OutcomeFailed               = "failed"
)

// PublishRecord is one durable per-record publish outcome.
type PublishRecord struct {
	ID         int64
	RunID      string
	TerrainID  string
	Outcome    string
	Status     string
	TokenID    string
	TxHash     string
	CID        string
	DecodePath string
	ErrorCode  string
	LastError  string
	CenterWKT  string
	TraceID    string
	SpanID     string
	CreatedAt  time.Time
}

// JournalStore persists publish outcomes.
type JournalStore interface {
	RecordPublish(ctx context.Context, record PublishRecord) error
	ListRecent(ctx context.Context, limit int) ([]PublishRecord, error)
}
