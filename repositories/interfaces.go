package repositories

import (
	"context"
	"errors"

	"github.com/IshaVishwakarma/llm-observability/models"
)

// ErrNotFound is returned when a lookup by id matches no record
var ErrNotFound = errors.New("record not found")

// CallStats holds whole-store aggregates. Latency figures are nil when no
// record carries a latency.
type CallStats struct {
	Total        int64
	Success      int64
	Errors       int64
	AvgLatencyMs *float64
	MaxLatencyMs *float64
	TokensIn     int64
	TokensOut    int64
}

// SessionStats holds aggregates scoped to one session id
type SessionStats struct {
	Total        int64
	TotalTokens  int64
	AvgLatencyMs *float64
}

// CallRecordRepository handles call record persistence and aggregation
type CallRecordRepository interface {
	// Insert persists record, then sets its ID and CreatedAt from the store.
	// The write is atomic: a partial record is never visible.
	Insert(ctx context.Context, record *models.CallRecord) (int64, error)

	// GetByID retrieves a record by id. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id int64) (*models.CallRecord, error)

	// ListRecent returns up to limit records, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.CallRecord, error)

	// ListRecentErrors returns up to limit failed records, newest first
	ListRecentErrors(ctx context.Context, limit int) ([]*models.CallRecord, error)

	// UpdateFeedback overwrites the feedback fields of record id and reports
	// whether the record existed
	UpdateFeedback(ctx context.Context, id int64, rating *int, comment *string) (bool, error)

	// Stats returns aggregates over every record
	Stats(ctx context.Context) (*CallStats, error)

	// SessionStats returns aggregates over records whose session id equals sessionID
	SessionStats(ctx context.Context, sessionID string) (*SessionStats, error)

	// MostUsedModel returns the most frequent model, optionally scoped to a
	// session. Ties go to the smallest model name. Nil when nothing matches.
	MostUsedModel(ctx context.Context, sessionID *string) (*string, error)

	// LatestLatencyAbove returns the newest record whose latency exceeds
	// thresholdMs, or nil
	LatestLatencyAbove(ctx context.Context, thresholdMs float64) (*models.CallRecord, error)

	// LatestTokenSpike returns the newest record with tokens_in > tokensIn or
	// tokens_out > tokensOut, or nil
	LatestTokenSpike(ctx context.Context, tokensIn, tokensOut int) (*models.CallRecord, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	CallRecords CallRecordRepository
}
