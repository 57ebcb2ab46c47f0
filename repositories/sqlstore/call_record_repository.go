package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories"
)

const callRecordColumns = `id, prompt, response, model, tokens_in, tokens_out, latency_ms, cost,
	status, error_message, session_id, feedback_rating, feedback_comment, created_at`

const newestFirst = ` ORDER BY created_at DESC, id DESC`

// CallRecordRepository implements the repositories.CallRecordRepository interface
type CallRecordRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *DB, logger *zap.Logger) repositories.CallRecordRepository {
	return &CallRecordRepository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a call record. The store assigns id and created_at.
func (r *CallRecordRepository) Insert(ctx context.Context, record *models.CallRecord) (int64, error) {
	query := r.db.dialect.Rebind(`
		INSERT INTO llm_requests (
			prompt, response, model, tokens_in, tokens_out, latency_ms, cost,
			status, error_message, session_id, feedback_rating, feedback_comment
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at
	`)

	status := record.Status
	if !status.Valid() {
		status = models.CallStatusUnknown
	}

	var createdAt dbTime
	err := r.db.QueryRowContext(ctx, query,
		record.Prompt,
		record.Response,
		record.Model,
		max(record.TokensIn, 0),
		max(record.TokensOut, 0),
		nullable(record.LatencyMs),
		record.Cost,
		string(status),
		nullable(record.ErrorMessage),
		nullable(record.SessionID),
		nullable(record.FeedbackRating),
		nullable(record.FeedbackComment),
	).Scan(&record.ID, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert call record: %w", err)
	}

	record.CreatedAt = createdAt.Time
	record.Status = status

	r.logger.Debug("call record inserted",
		zap.Int64("record_id", record.ID),
		zap.String("model", record.Model),
		zap.String("status", string(record.Status)))
	return record.ID, nil
}

// GetByID retrieves a call record by id
func (r *CallRecordRepository) GetByID(ctx context.Context, id int64) (*models.CallRecord, error) {
	query := r.db.dialect.Rebind(`SELECT ` + callRecordColumns + ` FROM llm_requests WHERE id = ?`)

	record, err := scanCallRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return record, nil
}

// ListRecent returns up to limit records, newest first
func (r *CallRecordRepository) ListRecent(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	query := r.db.dialect.Rebind(`SELECT ` + callRecordColumns + ` FROM llm_requests` + newestFirst + ` LIMIT ?`)
	return r.list(ctx, "list recent call records", query, limit)
}

// ListRecentErrors returns up to limit failed records, newest first
func (r *CallRecordRepository) ListRecentErrors(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	query := r.db.dialect.Rebind(`SELECT ` + callRecordColumns + ` FROM llm_requests WHERE status = ?` + newestFirst + ` LIMIT ?`)
	return r.list(ctx, "list failed call records", query, string(models.CallStatusError), limit)
}

func (r *CallRecordRepository) list(ctx context.Context, op, query string, args ...any) ([]*models.CallRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	records := make([]*models.CallRecord, 0)
	for rows.Next() {
		record, err := scanCallRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return records, nil
}

// UpdateFeedback overwrites the feedback fields and reports whether id exists
func (r *CallRecordRepository) UpdateFeedback(ctx context.Context, id int64, rating *int, comment *string) (bool, error) {
	query := r.db.dialect.Rebind(`UPDATE llm_requests SET feedback_rating = ?, feedback_comment = ? WHERE id = ?`)

	result, err := r.db.ExecContext(ctx, query, nullable(rating), nullable(comment), id)
	if err != nil {
		return false, fmt.Errorf("failed to update feedback: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		r.logger.Debug("feedback target not found", zap.Int64("record_id", id))
		return false, nil
	}
	return true, nil
}

// Stats returns aggregates over every record
func (r *CallRecordRepository) Stats(ctx context.Context) (*repositories.CallStats, error) {
	query := r.db.dialect.Rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			AVG(latency_ms),
			MAX(latency_ms),
			COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0)
		FROM llm_requests
	`)

	var (
		stats      repositories.CallStats
		avgLatency sql.NullFloat64
		maxLatency sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, query, string(models.CallStatusSuccess), string(models.CallStatusError)).Scan(
		&stats.Total,
		&stats.Success,
		&stats.Errors,
		&avgLatency,
		&maxLatency,
		&stats.TokensIn,
		&stats.TokensOut,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get call stats: %w", err)
	}

	stats.AvgLatencyMs = nullFloat(avgLatency)
	stats.MaxLatencyMs = nullFloat(maxLatency)
	return &stats, nil
}

// SessionStats returns aggregates for one session id
func (r *CallRecordRepository) SessionStats(ctx context.Context, sessionID string) (*repositories.SessionStats, error) {
	query := r.db.dialect.Rebind(`
		SELECT COUNT(*), COALESCE(SUM(tokens_in + tokens_out), 0), AVG(latency_ms)
		FROM llm_requests
		WHERE session_id = ?
	`)

	var (
		stats      repositories.SessionStats
		avgLatency sql.NullFloat64
	)
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&stats.Total, &stats.TotalTokens, &avgLatency); err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	stats.AvgLatencyMs = nullFloat(avgLatency)
	return &stats, nil
}

// MostUsedModel returns the most frequent model, ties broken by name
func (r *CallRecordRepository) MostUsedModel(ctx context.Context, sessionID *string) (*string, error) {
	query := `SELECT model FROM llm_requests`
	var args []any
	if sessionID != nil {
		query += ` WHERE session_id = ?`
		args = append(args, *sessionID)
	}
	query += ` GROUP BY model ORDER BY COUNT(*) DESC, model ASC LIMIT 1`

	var model string
	err := r.db.QueryRowContext(ctx, r.db.dialect.Rebind(query), args...).Scan(&model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get most used model: %w", err)
	}
	return &model, nil
}

// LatestLatencyAbove returns the newest record slower than thresholdMs
func (r *CallRecordRepository) LatestLatencyAbove(ctx context.Context, thresholdMs float64) (*models.CallRecord, error) {
	query := r.db.dialect.Rebind(`SELECT ` + callRecordColumns + ` FROM llm_requests
		WHERE latency_ms IS NOT NULL AND latency_ms > ?` + newestFirst + ` LIMIT 1`)
	return r.latest(ctx, "latency", query, thresholdMs)
}

// LatestTokenSpike returns the newest record above either token threshold
func (r *CallRecordRepository) LatestTokenSpike(ctx context.Context, tokensIn, tokensOut int) (*models.CallRecord, error) {
	query := r.db.dialect.Rebind(`SELECT ` + callRecordColumns + ` FROM llm_requests
		WHERE tokens_in > ? OR tokens_out > ?` + newestFirst + ` LIMIT 1`)
	return r.latest(ctx, "token spike", query, tokensIn, tokensOut)
}

func (r *CallRecordRepository) latest(ctx context.Context, what, query string, args ...any) (*models.CallRecord, error) {
	record, err := scanCallRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest %s record: %w", what, err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallRecord(row rowScanner) (*models.CallRecord, error) {
	var (
		record          models.CallRecord
		status          string
		latency         sql.NullFloat64
		errorMessage    sql.NullString
		sessionID       sql.NullString
		feedbackRating  sql.NullInt64
		feedbackComment sql.NullString
		createdAt       dbTime
	)

	err := row.Scan(
		&record.ID,
		&record.Prompt,
		&record.Response,
		&record.Model,
		&record.TokensIn,
		&record.TokensOut,
		&latency,
		&record.Cost,
		&status,
		&errorMessage,
		&sessionID,
		&feedbackRating,
		&feedbackComment,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = models.CallStatus(status)
	record.LatencyMs = nullFloat(latency)
	record.ErrorMessage = nullString(errorMessage)
	record.SessionID = nullString(sessionID)
	record.FeedbackComment = nullString(feedbackComment)
	if feedbackRating.Valid {
		rating := int(feedbackRating.Int64)
		record.FeedbackRating = &rating
	}
	record.CreatedAt = createdAt.Time
	return &record, nil
}

// nullable turns a nil pointer into SQL NULL and dereferences the rest
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// dbTimeLayouts covers SQLite's strftime default and the driver text forms
var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// dbTime scans timestamps stored either natively or as UTC text
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
