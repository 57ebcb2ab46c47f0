package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/services/analytics"
	"github.com/IshaVishwakarma/llm-observability/services/llm"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// LLMService runs instrumented provider calls
type LLMService interface {
	Query(ctx context.Context, req llm.QueryRequest) (*llm.QueryResponse, error)
	Compare(ctx context.Context, req llm.CompareRequest) (*llm.CompareResponse, error)
	SubmitFeedback(ctx context.Context, req llm.FeedbackRequest) error
	Models() config.ModelsConfig
}

// AnalyticsService serves the derived dashboard views
type AnalyticsService interface {
	RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error)
	Summary(ctx context.Context) (*models.Summary, error)
	TokenTrend(ctx context.Context, limit int) ([]models.TokenTrendPoint, error)
	LatencyTrend(ctx context.Context, limit int) ([]models.LatencyTrendPoint, error)
	ErrorTrend(ctx context.Context, limit int) ([]models.ErrorTrendPoint, error)
	SessionAnalytics(ctx context.Context, sessionID string) (*models.SessionAnalytics, error)
}

// AlertService evaluates live alerts
type AlertService interface {
	Evaluate(ctx context.Context) ([]models.Alert, error)
}

// decodeJSON reads a bounded JSON body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// parseLimit reads the limit query parameter. Missing means the default,
// anything above the maximum is capped, and non-positive or non-numeric
// values are rejected.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return analytics.DefaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return min(limit, analytics.MaxLimit), nil
}

// optionalString maps nil and empty strings to nil
func optionalString(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
