package models

import (
	"time"
	"unicode/utf8"
)

// CallStatus represents the outcome of a provider invocation attempt
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusError   CallStatus = "error"
	CallStatusUnknown CallStatus = "unknown"
)

// Valid reports whether s is one of the known statuses
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusSuccess, CallStatusError, CallStatusUnknown:
		return true
	}
	return false
}

// PromptPreviewLength is the number of characters kept by list views
const PromptPreviewLength = 300

// MaxSessionIDLength matches the session_id column width
const MaxSessionIDLength = 255

// CallRecord is one persisted provider invocation attempt and its outcome
type CallRecord struct {
	ID       int64  `json:"id" db:"id"`
	Prompt   string `json:"prompt" db:"prompt"`
	Response string `json:"response" db:"response"`
	Model    string `json:"model" db:"model"`

	// Metrics
	TokensIn  int      `json:"tokens_in" db:"tokens_in"`
	TokensOut int      `json:"tokens_out" db:"tokens_out"`
	LatencyMs *float64 `json:"latency_ms" db:"latency_ms"` // nil when timing could not be computed
	Cost      float64  `json:"cost" db:"cost"`

	Status       CallStatus `json:"status" db:"status"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	SessionID    *string    `json:"session_id,omitempty" db:"session_id"`

	// Feedback, set post-hoc
	FeedbackRating  *int    `json:"feedback_rating,omitempty" db:"feedback_rating"`
	FeedbackComment *string `json:"feedback_comment,omitempty" db:"feedback_comment"`

	// Assigned by the store on insert
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the CallRecord model
func (CallRecord) TableName() string {
	return "llm_requests"
}

// NewCallRecord creates a CallRecord with unknown status and zeroed metrics
func NewCallRecord(model, prompt string, sessionID *string) *CallRecord {
	return &CallRecord{
		Prompt:    prompt,
		Model:     model,
		Status:    CallStatusUnknown,
		SessionID: sessionID,
	}
}

// MarkAsSucceeded records a successful invocation
func (r *CallRecord) MarkAsSucceeded(response string, tokensIn, tokensOut int, latencyMs *float64) {
	r.Status = CallStatusSuccess
	r.Response = response
	r.TokensIn = nonNegative(tokensIn)
	r.TokensOut = nonNegative(tokensOut)
	r.LatencyMs = latencyMs
	r.ErrorMessage = nil
}

// MarkAsFailed records a failed invocation, keeping whatever metrics were captured
func (r *CallRecord) MarkAsFailed(errorMessage string, tokensIn, tokensOut int, latencyMs *float64) {
	r.Status = CallStatusError
	r.TokensIn = nonNegative(tokensIn)
	r.TokensOut = nonNegative(tokensOut)
	r.LatencyMs = latencyMs
	r.ErrorMessage = &errorMessage
}

// ToLogEntry projects the record into its list view
func (r *CallRecord) ToLogEntry() LogEntry {
	return LogEntry{
		ID:              r.ID,
		Prompt:          TruncatePrompt(r.Prompt),
		Model:           r.Model,
		Status:          r.Status,
		TokensIn:        r.TokensIn,
		TokensOut:       r.TokensOut,
		Latency:         r.LatencyMs,
		ErrorMessage:    r.ErrorMessage,
		SessionID:       r.SessionID,
		CreatedAt:       r.CreatedAt,
		FeedbackRating:  r.FeedbackRating,
		FeedbackComment: r.FeedbackComment,
	}
}

// TruncatePrompt shortens prompts longer than PromptPreviewLength characters
// and appends "..." to them. Shorter prompts are returned unchanged.
func TruncatePrompt(prompt string) string {
	if utf8.RuneCountInString(prompt) <= PromptPreviewLength {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:PromptPreviewLength]) + "..."
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
