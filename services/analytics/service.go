// Package analytics derives read-only dashboard views from the record store.
// Every call re-queries the store; nothing is cached.
package analytics

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/IshaVishwakarma/llm-observability/internal/observability"
	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/services"
)

const (
	// DefaultLimit is used when a list or trend is requested without a limit
	DefaultLimit = 50
	// MaxLimit caps every list and trend
	MaxLimit = 1000
)

// Service is the aggregator over call records
type Service struct {
	repo    repositories.CallRecordRepository
	metrics observability.Metrics
	logger  *zap.Logger
}

// NewService creates a new analytics service
func NewService(repo repositories.CallRecordRepository, metrics observability.Metrics, logger *zap.Logger) *Service {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Service{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
	}
}

// NormalizeLimit maps non-positive limits to DefaultLimit and caps at MaxLimit
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// RecentLogs returns the list view of the newest records
func (s *Service) RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	records, err := s.repo.ListRecent(ctx, NormalizeLimit(limit))
	if err != nil {
		return nil, s.storeError(ctx, "list_recent", err)
	}

	logs := make([]models.LogEntry, len(records))
	for i, record := range records {
		logs[i] = record.ToLogEntry()
	}
	return logs, nil
}

// Summary returns whole-store statistics. Rates are 0 on an empty store.
func (s *Service) Summary(ctx context.Context) (*models.Summary, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, s.storeError(ctx, "stats", err)
	}

	mostUsed, err := s.repo.MostUsedModel(ctx, nil)
	if err != nil {
		return nil, s.storeError(ctx, "most_used_model", err)
	}

	return &models.Summary{
		TotalRequests: stats.Total,
		TotalSuccess:  stats.Success,
		TotalErrors:   stats.Errors,
		SuccessRate:   Percentage(stats.Success, stats.Total),
		ErrorRate:     Percentage(stats.Errors, stats.Total),
		AvgLatencyMs:  round2(valueOrZero(stats.AvgLatencyMs)),
		MaxLatencyMs:  round2(valueOrZero(stats.MaxLatencyMs)),
		TokensIn:      stats.TokensIn,
		TokensOut:     stats.TokensOut,
		MostUsedModel: mostUsed,
	}, nil
}

// TokenTrend returns token usage samples, newest first
func (s *Service) TokenTrend(ctx context.Context, limit int) ([]models.TokenTrendPoint, error) {
	records, err := s.repo.ListRecent(ctx, NormalizeLimit(limit))
	if err != nil {
		return nil, s.storeError(ctx, "token_trend", err)
	}

	points := make([]models.TokenTrendPoint, len(records))
	for i, r := range records {
		points[i] = models.TokenTrendPoint{
			Timestamp: r.CreatedAt,
			TokensIn:  r.TokensIn,
			TokensOut: r.TokensOut,
			Model:     r.Model,
			Latency:   r.LatencyMs,
			Status:    r.Status,
		}
	}
	return points, nil
}

// LatencyTrend returns latency samples, newest first
func (s *Service) LatencyTrend(ctx context.Context, limit int) ([]models.LatencyTrendPoint, error) {
	records, err := s.repo.ListRecent(ctx, NormalizeLimit(limit))
	if err != nil {
		return nil, s.storeError(ctx, "latency_trend", err)
	}

	points := make([]models.LatencyTrendPoint, len(records))
	for i, r := range records {
		points[i] = models.LatencyTrendPoint{
			Timestamp: r.CreatedAt,
			LatencyMs: r.LatencyMs,
			Model:     r.Model,
			Status:    r.Status,
		}
	}
	return points, nil
}

// ErrorTrend returns failed calls only, newest first
func (s *Service) ErrorTrend(ctx context.Context, limit int) ([]models.ErrorTrendPoint, error) {
	records, err := s.repo.ListRecentErrors(ctx, NormalizeLimit(limit))
	if err != nil {
		return nil, s.storeError(ctx, "error_trend", err)
	}

	points := make([]models.ErrorTrendPoint, len(records))
	for i, r := range records {
		points[i] = models.ErrorTrendPoint{
			Timestamp:    r.CreatedAt,
			ErrorMessage: r.ErrorMessage,
			Model:        r.Model,
		}
	}
	return points, nil
}

// SessionAnalytics returns statistics for records whose session id equals
// sessionID exactly
func (s *Service) SessionAnalytics(ctx context.Context, sessionID string) (*models.SessionAnalytics, error) {
	stats, err := s.repo.SessionStats(ctx, sessionID)
	if err != nil {
		return nil, s.storeError(ctx, "session_stats", err)
	}

	analytics := &models.SessionAnalytics{
		SessionID:     sessionID,
		TotalRequests: stats.Total,
		TotalTokens:   stats.TotalTokens,
		AvgLatencyMs:  round2(valueOrZero(stats.AvgLatencyMs)),
	}
	if stats.Total == 0 {
		return analytics, nil
	}

	analytics.TopModel, err = s.repo.MostUsedModel(ctx, &sessionID)
	if err != nil {
		return nil, s.storeError(ctx, "most_used_model", err)
	}
	return analytics, nil
}

func (s *Service) storeError(ctx context.Context, operation string, err error) error {
	s.metrics.RecordStoreError(ctx, operation)
	s.logger.Error("record store query failed", zap.String("operation", operation), zap.Error(err))
	return services.WrapUnavailable(services.ErrStoreUnavailable.Message, err)
}

// Percentage returns part/total*100 rounded to 2 decimals, or 0 when total is 0
func Percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func valueOrZero(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	return *v
}
