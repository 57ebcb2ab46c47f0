// Package llm runs instrumented provider calls and persists exactly one call
// record per invocation attempt.
package llm

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/internal/observability"
	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/services"
	"github.com/IshaVishwakarma/llm-observability/services/instrument"
	"github.com/IshaVishwakarma/llm-observability/services/providers"
)

// DefaultInsertTimeout bounds a record insert once the provider call is over
const DefaultInsertTimeout = 10 * time.Second

// Options configures the service
type Options struct {
	Models        config.ModelsConfig
	InsertTimeout time.Duration
	// Clock is used for latency capture. Defaults to time.Now.
	Clock instrument.Clock
}

// Service orchestrates query, compare and feedback
type Service struct {
	registry *providers.Registry
	repo     repositories.CallRecordRepository
	opts     Options
	metrics  observability.Metrics
	logger   *zap.Logger
}

// NewService creates a new LLM call service
func NewService(
	registry *providers.Registry,
	repo repositories.CallRecordRepository,
	opts Options,
	metrics observability.Metrics,
	logger *zap.Logger,
) *Service {
	if opts.InsertTimeout <= 0 {
		opts.InsertTimeout = DefaultInsertTimeout
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Service{
		registry: registry,
		repo:     repo,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// Models returns the allow-list and the default model
func (s *Service) Models() config.ModelsConfig {
	return s.opts.Models
}

// attempt is the persisted outcome of one provider invocation
type attempt struct {
	record  *models.CallRecord
	callErr error
}

// Query invokes one model and records the attempt. A provider failure is
// returned as an external error carrying the id of the error record.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if req.Model == "" {
		req.Model = s.opts.Models.Default
	}
	if err := s.validate(req.Prompt, req.Model); err != nil {
		return nil, err
	}
	if err := validateSession(req.SessionID); err != nil {
		return nil, err
	}

	provider, err := s.resolve(req.Model)
	if err != nil {
		return nil, err
	}

	result, err := s.invoke(ctx, provider, req.Model, req.Prompt, req.Temperature, req.MaxTokens, req.SessionID)
	if err != nil {
		return nil, err
	}

	record := result.record
	if result.callErr != nil {
		return nil, services.WrapExternal(services.ErrProviderError.Message, result.callErr).
			WithDetail("message", result.callErr.Error()).
			WithDetail("request_id", record.ID)
	}

	return &QueryResponse{
		RequestID: record.ID,
		Response:  record.Response,
		TokensIn:  record.TokensIn,
		TokensOut: record.TokensOut,
		LatencyMs: record.LatencyMs,
	}, nil
}

// Compare invokes both models concurrently and returns once both attempts
// are recorded. If either call failed the result is an external error whose
// details reference both records.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*CompareResponse, error) {
	for _, model := range []string{req.ModelA, req.ModelB} {
		if err := s.validate(req.Prompt, model); err != nil {
			return nil, err
		}
	}
	if err := validateSession(req.SessionID); err != nil {
		return nil, err
	}

	providerA, err := s.resolve(req.ModelA)
	if err != nil {
		return nil, err
	}
	providerB, err := s.resolve(req.ModelB)
	if err != nil {
		return nil, err
	}

	// A plain group: one side failing must not cancel the other.
	var (
		g          errgroup.Group
		resA, resB *attempt
	)
	g.Go(func() error {
		var err error
		resA, err = s.invoke(ctx, providerA, req.ModelA, req.Prompt, req.Temperature, req.MaxTokens, req.SessionID)
		return err
	})
	g.Go(func() error {
		var err error
		resB, err = s.invoke(ctx, providerB, req.ModelB, req.Prompt, req.Temperature, req.MaxTokens, req.SessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if resA.callErr != nil || resB.callErr != nil {
		var failures []string
		cause := resA.callErr
		for _, r := range []*attempt{resA, resB} {
			if r.callErr != nil {
				failures = append(failures, r.record.Model+": "+r.callErr.Error())
			}
		}
		if cause == nil {
			cause = resB.callErr
		}
		return nil, services.WrapExternal(services.ErrProviderError.Message, cause).
			WithDetail("message", strings.Join(failures, "; ")).
			WithDetail("model_a_request_id", resA.record.ID).
			WithDetail("model_b_request_id", resB.record.ID)
	}

	return &CompareResponse{
		ModelA: toModelResult(resA.record),
		ModelB: toModelResult(resB.record),
	}, nil
}

// SubmitFeedback overwrites the feedback fields of an existing record
func (s *Service) SubmitFeedback(ctx context.Context, req FeedbackRequest) error {
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return services.ErrInvalidRating
	}

	updated, err := s.repo.UpdateFeedback(ctx, req.RequestID, req.Rating, req.Comment)
	if err != nil {
		s.metrics.RecordStoreError(ctx, "update_feedback")
		s.logger.Error("failed to save feedback", zap.Int64("record_id", req.RequestID), zap.Error(err))
		return services.WrapUnavailable(services.ErrStoreUnavailable.Message, err)
	}
	if !updated {
		return services.ErrRecordNotFound
	}

	s.logger.Info("feedback saved", zap.Int64("record_id", req.RequestID))
	return nil
}

func (s *Service) validate(prompt, model string) error {
	if strings.TrimSpace(prompt) == "" {
		return services.ErrEmptyPrompt
	}
	if !s.opts.Models.IsAllowed(model) {
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrModelNotAllowed.Message, nil).
			WithDetail("model", model).
			WithDetail("allowed_models", s.opts.Models.Allowed)
	}
	return nil
}

// validateSession rejects ids the store cannot hold, before any provider call
func validateSession(sessionID *string) error {
	if sessionID != nil && utf8.RuneCountInString(*sessionID) > models.MaxSessionIDLength {
		return services.ErrSessionTooLong
	}
	return nil
}

func (s *Service) resolve(model string) (providers.Provider, error) {
	provider, err := s.registry.GetProviderForModel(model)
	if err != nil {
		s.logger.Error("no provider serves allowed model", zap.String("model", model), zap.Error(err))
		return nil, services.WrapExternal(services.ErrProviderUnavailable.Message, err).WithDetail("model", model)
	}
	return provider, nil
}

// invoke wraps one provider call in a capsule and persists the record. The
// returned error is non-nil only when the record could not be stored; the
// provider outcome is reported in attempt.callErr.
func (s *Service) invoke(
	ctx context.Context,
	provider providers.Provider,
	model, prompt string,
	temperature float64,
	maxTokens int,
	sessionID *string,
) (*attempt, error) {
	capsule := instrument.NewCapsule(s.opts.Clock)
	capsule.Begin(prompt)

	resp, callErr := provider.ChatCompletion(ctx, providers.NewPromptRequest(model, prompt, temperature, maxTokens))
	if callErr != nil {
		capsule.Fail(callErr)
	} else {
		capsule.Complete(resp)
	}

	record := capsule.Record(model, sessionID)
	if err := s.persist(ctx, record); err != nil {
		return nil, err
	}

	s.observe(ctx, record)
	return &attempt{record: record, callErr: callErr}, nil
}

// persist inserts record on a context detached from the caller's
// cancellation so a disconnect cannot drop the attempt.
func (s *Service) persist(ctx context.Context, record *models.CallRecord) error {
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.InsertTimeout)
	defer cancel()

	if _, err := s.repo.Insert(insertCtx, record); err != nil {
		s.metrics.RecordStoreError(ctx, "insert")
		s.logger.Error("failed to persist call record",
			zap.String("model", record.Model),
			zap.String("status", string(record.Status)),
			zap.Error(err))
		return services.WrapUnavailable(services.ErrStoreUnavailable.Message, err)
	}
	return nil
}

func (s *Service) observe(ctx context.Context, record *models.CallRecord) {
	labels := observability.CallLabels{Model: record.Model, Status: string(record.Status)}
	s.metrics.RecordCall(ctx, labels)
	if record.LatencyMs != nil {
		s.metrics.RecordLatency(ctx, *record.LatencyMs, labels)
	}
	s.metrics.RecordTokens(ctx, record.TokensIn, record.TokensOut, labels)

	fields := []zap.Field{
		zap.Int64("record_id", record.ID),
		zap.String("model", record.Model),
		zap.String("status", string(record.Status)),
		zap.Int("tokens_in", record.TokensIn),
		zap.Int("tokens_out", record.TokensOut),
	}
	if record.LatencyMs != nil {
		fields = append(fields, zap.Float64("latency_ms", *record.LatencyMs))
	}
	if record.SessionID != nil {
		fields = append(fields, zap.String("session_id", *record.SessionID))
	}
	if record.ErrorMessage != nil {
		s.logger.Warn("llm call failed", append(fields, zap.String("error", *record.ErrorMessage))...)
		return
	}
	s.logger.Info("llm call recorded", fields...)
}

func toModelResult(record *models.CallRecord) ModelResult {
	return ModelResult{
		Name:      record.Model,
		RequestID: record.ID,
		Response:  record.Response,
		TokensIn:  record.TokensIn,
		TokensOut: record.TokensOut,
		Latency:   record.LatencyMs,
	}
}

