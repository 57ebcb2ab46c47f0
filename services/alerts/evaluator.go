// Package alerts derives threshold alerts from the record store. Alerts are
// recomputed on every call and never persisted.
package alerts

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/internal/observability"
	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/services"
	"github.com/IshaVishwakarma/llm-observability/services/analytics"
)

// Thresholds holds the alert limits. Every comparison is strictly greater-than.
type Thresholds struct {
	LatencyMs    float64
	ErrorRatePct float64
	TokensIn     int
	TokensOut    int
}

// DefaultThresholds returns the built-in limits
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyMs:    3000,
		ErrorRatePct: 30,
		TokensIn:     1000,
		TokensOut:    2000,
	}
}

// ThresholdsFromConfig converts the alert configuration
func ThresholdsFromConfig(cfg config.AlertsConfig) Thresholds {
	return Thresholds{
		LatencyMs:    cfg.LatencyMs,
		ErrorRatePct: cfg.ErrorRatePct,
		TokensIn:     cfg.TokensIn,
		TokensOut:    cfg.TokensOut,
	}
}

// Evaluator computes the current alert list
type Evaluator struct {
	repo       repositories.CallRecordRepository
	thresholds Thresholds
	metrics    observability.Metrics
	logger     *zap.Logger
}

// NewEvaluator creates a new alert evaluator
func NewEvaluator(repo repositories.CallRecordRepository, thresholds Thresholds, metrics observability.Metrics, logger *zap.Logger) *Evaluator {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Evaluator{
		repo:       repo,
		thresholds: thresholds,
		metrics:    metrics,
		logger:     logger,
	}
}

// Thresholds returns the limits the evaluator applies
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate returns the alerts in fixed order: latency, error rate, token
// spike. The result is never nil.
//
// TODO: the latency and token rules scan the whole history, so one old
// outlier keeps its alert firing forever; restrict them to a recent window
// once a window size is agreed on.
func (e *Evaluator) Evaluate(ctx context.Context) ([]models.Alert, error) {
	alerts := make([]models.Alert, 0, 3)

	slow, err := e.repo.LatestLatencyAbove(ctx, e.thresholds.LatencyMs)
	if err != nil {
		return nil, e.storeError(ctx, "latest_latency_above", err)
	}
	if slow != nil && slow.LatencyMs != nil {
		alerts = append(alerts, recordAlert(models.AlertTypeLatency,
			fmt.Sprintf("High latency detected: %s ms", formatNumber(*slow.LatencyMs)), slow))
	}

	stats, err := e.repo.Stats(ctx)
	if err != nil {
		return nil, e.storeError(ctx, "stats", err)
	}
	if stats.Total > 0 {
		rate := analytics.Percentage(stats.Errors, stats.Total)
		if float64(stats.Errors)*100/float64(stats.Total) > e.thresholds.ErrorRatePct {
			alerts = append(alerts, models.Alert{
				Type:    models.AlertTypeErrorRate,
				Message: fmt.Sprintf("High error rate detected: %s%%", formatNumber(rate)),
			})
		}
	}

	spike, err := e.repo.LatestTokenSpike(ctx, e.thresholds.TokensIn, e.thresholds.TokensOut)
	if err != nil {
		return nil, e.storeError(ctx, "latest_token_spike", err)
	}
	if spike != nil {
		alerts = append(alerts, recordAlert(models.AlertTypeTokenSpike,
			fmt.Sprintf("Token spike detected (IN: %d, OUT: %d)", spike.TokensIn, spike.TokensOut), spike))
	}

	if len(alerts) > 0 {
		e.logger.Debug("alerts active", zap.Int("count", len(alerts)))
	}
	return alerts, nil
}

func (e *Evaluator) storeError(ctx context.Context, operation string, err error) error {
	e.metrics.RecordStoreError(ctx, operation)
	e.logger.Error("alert evaluation failed", zap.String("operation", operation), zap.Error(err))
	return services.WrapUnavailable(services.ErrStoreUnavailable.Message, err)
}

func recordAlert(alertType models.AlertType, message string, record *models.CallRecord) models.Alert {
	createdAt := record.CreatedAt
	id := record.ID
	return models.Alert{
		Type:      alertType,
		Message:   message,
		Timestamp: &createdAt,
		RecordID:  &id,
	}
}

// formatNumber prints v without trailing zeros: 5000 -> "5000", 40.5 -> "40.5"
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
