package models

import "time"

// LogEntry is the list view of a CallRecord. Prompt is truncated and the
// response body is omitted.
type LogEntry struct {
	ID              int64      `json:"id"`
	Prompt          string     `json:"prompt"`
	Model           string     `json:"model"`
	Status          CallStatus `json:"status"`
	TokensIn        int        `json:"tokens_in"`
	TokensOut       int        `json:"tokens_out"`
	Latency         *float64   `json:"latency"`
	ErrorMessage    *string    `json:"error_message"`
	SessionID       *string    `json:"session_id"`
	CreatedAt       time.Time  `json:"created_at"`
	FeedbackRating  *int       `json:"feedback_rating"`
	FeedbackComment *string    `json:"feedback_comment"`
}

// TokenTrendPoint is one sample of the token usage trend
type TokenTrendPoint struct {
	Timestamp time.Time  `json:"timestamp"`
	TokensIn  int        `json:"tokens_in"`
	TokensOut int        `json:"tokens_out"`
	Model     string     `json:"model"`
	Latency   *float64   `json:"latency"`
	Status    CallStatus `json:"status"`
}

// LatencyTrendPoint is one sample of the latency trend
type LatencyTrendPoint struct {
	Timestamp time.Time  `json:"timestamp"`
	LatencyMs *float64   `json:"latency_ms"`
	Model     string     `json:"model"`
	Status    CallStatus `json:"status"`
}

// ErrorTrendPoint is one failed call in the error trend
type ErrorTrendPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage *string   `json:"error_message"`
	Model        string    `json:"model"`
}

// Summary holds whole-store statistics
type Summary struct {
	TotalRequests int64   `json:"total_requests"`
	TotalSuccess  int64   `json:"total_success"`
	TotalErrors   int64   `json:"total_errors"`
	SuccessRate   float64 `json:"success_rate"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	TokensIn      int64   `json:"tokens_in"`
	TokensOut     int64   `json:"tokens_out"`
	MostUsedModel *string `json:"most_used_model"`
}

// SessionAnalytics holds statistics scoped to one session id
type SessionAnalytics struct {
	SessionID     string  `json:"session_id"`
	TotalRequests int64   `json:"total_requests"`
	TotalTokens   int64   `json:"total_tokens"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	TopModel      *string `json:"top_model"`
}

// AlertType identifies which rule produced an alert
type AlertType string

const (
	AlertTypeLatency    AlertType = "latency"
	AlertTypeErrorRate  AlertType = "error_rate"
	AlertTypeTokenSpike AlertType = "token_spike"
)

// Alert is a derived, stateless signal. Timestamp and RecordID are set only
// when the alert is tied to a single record.
type Alert struct {
	Type      AlertType  `json:"type"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	RecordID  *int64     `json:"record_id,omitempty"`
}
