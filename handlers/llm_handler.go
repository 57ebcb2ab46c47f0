package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/IshaVishwakarma/llm-observability/middleware"
	"github.com/IshaVishwakarma/llm-observability/services/llm"
	"github.com/IshaVishwakarma/llm-observability/utils"
)

const (
	// DefaultTemperature is used when a request omits temperature
	DefaultTemperature = 0.7
	// DefaultMaxTokens is used when a request omits max_tokens
	DefaultMaxTokens = 256
)

// QueryRequest is the body of POST /llm/query
type QueryRequest struct {
	Prompt      string   `json:"prompt" validate:"notblank"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	SessionID   *string  `json:"session_id,omitempty" validate:"omitempty,max=255"`
}

// CompareRequest is the body of POST /llm/compare
type CompareRequest struct {
	Prompt      string   `json:"prompt" validate:"notblank"`
	ModelA      string   `json:"model_a" validate:"required"`
	ModelB      string   `json:"model_b" validate:"required"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	SessionID   *string  `json:"session_id,omitempty" validate:"omitempty,max=255"`
}

// FeedbackRequest is the body of POST /llm/feedback
type FeedbackRequest struct {
	RequestID *int64  `json:"request_id" validate:"required"`
	Rating    *int    `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Comment   *string `json:"comment,omitempty"`
}

// OKResponse acknowledges a mutation
type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ModelsResponse lists the models clients may request
type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

// LLMHandler handles instrumented query, compare and feedback requests
type LLMHandler struct {
	service LLMService
	logger  *zap.Logger
}

// NewLLMHandler creates a new LLMHandler
func NewLLMHandler(service LLMService, logger *zap.Logger) *LLMHandler {
	return &LLMHandler{
		service: service,
		logger:  logger,
	}
}

// HandleQuery handles POST /llm/query
func (h *LLMHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to parse request body", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Query(ctx, llm.QueryRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		Temperature: valueOr(req.Temperature, DefaultTemperature),
		MaxTokens:   valueOr(req.MaxTokens, DefaultMaxTokens),
		SessionID:   optionalString(req.SessionID),
	})
	if err != nil {
		h.logger.Warn("query failed", zap.String("request_id", requestID), zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response", zap.String("request_id", requestID), zap.Error(err))
	}
}

// HandleCompare handles POST /llm/compare
func (h *LLMHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CompareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to parse request body", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Compare(ctx, llm.CompareRequest{
		Prompt:      req.Prompt,
		ModelA:      req.ModelA,
		ModelB:      req.ModelB,
		Temperature: valueOr(req.Temperature, DefaultTemperature),
		MaxTokens:   valueOr(req.MaxTokens, DefaultMaxTokens),
		SessionID:   optionalString(req.SessionID),
	})
	if err != nil {
		h.logger.Warn("compare failed", zap.String("request_id", requestID), zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response", zap.String("request_id", requestID), zap.Error(err))
	}
}

// HandleFeedback handles POST /llm/feedback
func (h *LLMHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	err := h.service.SubmitFeedback(ctx, llm.FeedbackRequest{
		RequestID: *req.RequestID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, OKResponse{OK: true, Message: "Feedback saved"})
}

// HandleModels handles GET /models
func (h *LLMHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.Models()
	_ = utils.WriteOK(w, ModelsResponse{Models: cfg.Allowed, Default: cfg.Default})
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
