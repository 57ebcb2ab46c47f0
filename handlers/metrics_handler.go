package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/utils"
)

// LogsResponse is the body of GET /logs
type LogsResponse struct {
	OK   bool              `json:"ok"`
	Logs []models.LogEntry `json:"logs"`
}

// AlertsResponse is the body of GET /alerts
type AlertsResponse struct {
	Alerts []models.Alert `json:"alerts"`
}

// MetricsHandler serves logs, summaries, trends, alerts and session analytics
type MetricsHandler struct {
	analytics AnalyticsService
	alerts    AlertService
	logger    *zap.Logger
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(analytics AnalyticsService, alerts AlertService, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		analytics: analytics,
		alerts:    alerts,
		logger:    logger,
	}
}

// HandleLogs handles GET /logs
func (h *MetricsHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	logs, err := h.analytics.RecentLogs(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, LogsResponse{OK: true, Logs: logs})
}

// HandleSummary handles GET /metrics/summary
func (h *MetricsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.analytics.Summary(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleTokenTrend handles GET /metrics/token-trend
func (h *MetricsHandler) HandleTokenTrend(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	points, err := h.analytics.TokenTrend(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteData(w, points)
}

// HandleLatencyTrend handles GET /metrics/latency-trend
func (h *MetricsHandler) HandleLatencyTrend(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	points, err := h.analytics.LatencyTrend(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteData(w, points)
}

// HandleErrorTrend handles GET /metrics/error-trend
func (h *MetricsHandler) HandleErrorTrend(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	points, err := h.analytics.ErrorTrend(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteData(w, points)
}

// HandleAlerts handles GET /alerts
func (h *MetricsHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.Evaluate(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, AlertsResponse{Alerts: alerts})
}

// HandleSessionAnalytics handles GET /user/analytics/{sessionId}
func (h *MetricsHandler) HandleSessionAnalytics(w http.ResponseWriter, r *http.Request) {
	// chi matches on the raw path when it is escaped, so "team%2Falice" must
	// be decoded to reach the stored "team/alice"
	sessionID, err := url.PathUnescape(chi.URLParam(r, "sessionId"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "invalid session id", nil)
		return
	}
	if sessionID == "" {
		_ = utils.WriteBadRequest(w, "session id is required", nil)
		return
	}

	result, err := h.analytics.SessionAnalytics(r.Context(), sessionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

func (h *MetricsHandler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := parseLimit(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), map[string]interface{}{"limit": r.URL.Query().Get("limit")})
		return 0, false
	}
	return limit, true
}
