package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories/repotest"
	"github.com/IshaVishwakarma/llm-observability/services"
	"github.com/IshaVishwakarma/llm-observability/services/providers"
)

// MockProvider is a mock implementation of providers.Provider
type MockProvider struct {
	mock.Mock
	models []string
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (providers.Response, error) {
	args := m.Called(ctx, req.Model)
	if resp := args.Get(0); resp != nil {
		return resp.(providers.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) ValidateModel(model string) error { return nil }

func (m *MockProvider) ListModels() []string { return m.models }

var testModels = config.ModelsConfig{
	Allowed: []string{"llama-3.1-8b-instant", "openai/gpt-oss-20b", "unserved-model"},
	Default: "llama-3.1-8b-instant",
}

// tickClock advances by step on every read and is safe for concurrent use
func tickClock(step time.Duration) func() time.Time {
	var n atomic.Int64
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)-1) * step)
	}
}

func chatResponse(text string, in, out int) *providers.ChatResponse {
	return &providers.ChatResponse{
		Choices: []providers.Choice{{Message: &providers.Message{Role: "assistant", Content: text}}},
		Usage:   &providers.Usage{PromptTokens: in, CompletionTokens: out},
	}
}

func newTestService(t *testing.T) (*Service, *MockProvider, *repotest.MockCallRecordRepository) {
	t.Helper()

	provider := &MockProvider{models: []string{"llama-3.1-8b-instant", "openai/gpt-oss-20b"}}
	registry := providers.NewRegistry()
	require.NoError(t, registry.RegisterProvider(provider))

	repo := &repotest.MockCallRecordRepository{}
	svc := NewService(registry, repo, Options{
		Models:        testModels,
		InsertTimeout: time.Second,
		Clock:         tickClock(250 * time.Millisecond),
	}, nil, zaptest.NewLogger(t))
	return svc, provider, repo
}

func TestService_QuerySuccess(t *testing.T) {
	svc, provider, repo := newTestService(t)
	provider.On("ChatCompletion", mock.Anything, "openai/gpt-oss-20b").Return(chatResponse("4", 12, 3), nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), nil)

	resp, err := svc.Query(context.Background(), QueryRequest{
		Prompt:      "What is 2+2?",
		Model:       "openai/gpt-oss-20b",
		Temperature: 0.7,
		MaxTokens:   256,
		SessionID:   ptr("session-1"),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.RequestID)
	assert.Equal(t, "4", resp.Response)
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, 3, resp.TokensOut)
	require.NotNil(t, resp.LatencyMs)
	assert.Equal(t, 250.0, *resp.LatencyMs)

	inserted := repo.InsertedRecords()
	require.Len(t, inserted, 1)
	record := inserted[0]
	assert.Equal(t, models.CallStatusSuccess, record.Status)
	assert.Equal(t, "What is 2+2?", record.Prompt)
	assert.Equal(t, "session-1", *record.SessionID)
	assert.Nil(t, record.ErrorMessage)
}

func TestService_QueryDefaultModel(t *testing.T) {
	svc, provider, repo := newTestService(t)
	provider.On("ChatCompletion", mock.Anything, "llama-3.1-8b-instant").Return(&providers.TextResponse{Text: "hi"}, nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), nil)

	resp, err := svc.Query(context.Background(), QueryRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Response)
	assert.Zero(t, resp.TokensIn, "missing usage maps to zero")
	assert.Equal(t, "llama-3.1-8b-instant", repo.InsertedRecords()[0].Model)
}

func TestService_QueryProviderFailure(t *testing.T) {
	svc, provider, repo := newTestService(t)
	upstream := providers.NewProviderError("mock", "HTTP_ERROR", "rate limit exceeded", 429, true, nil)
	provider.On("ChatCompletion", mock.Anything, "llama-3.1-8b-instant").Return(nil, upstream)
	repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), nil)

	resp, err := svc.Query(context.Background(), QueryRequest{Prompt: "hello", Model: "llama-3.1-8b-instant"})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, services.IsExternalError(err))
	assert.ErrorIs(t, err, upstream)

	details := services.GetErrorDetails(err)
	assert.Equal(t, "rate limit exceeded", details["message"])
	assert.EqualValues(t, 1, details["request_id"])

	inserted := repo.InsertedRecords()
	require.Len(t, inserted, 1, "a failed call is still recorded")
	assert.Equal(t, models.CallStatusError, inserted[0].Status)
	require.NotNil(t, inserted[0].ErrorMessage)
	assert.Equal(t, "rate limit exceeded", *inserted[0].ErrorMessage)
	assert.Nil(t, inserted[0].LatencyMs)
	assert.Empty(t, inserted[0].Response)
}

func TestService_QueryValidation(t *testing.T) {
	tests := []struct {
		name string
		req  QueryRequest
		want error
	}{
		{name: "empty prompt", req: QueryRequest{Prompt: "  ", Model: "llama-3.1-8b-instant"}, want: services.ErrEmptyPrompt},
		{name: "model outside allow-list", req: QueryRequest{Prompt: "hi", Model: "gpt-4"}, want: services.ErrModelNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, provider, repo := newTestService(t)

			_, err := svc.Query(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, services.IsValidationError(err))
			provider.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
			repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestService_SessionIDTooLong(t *testing.T) {
	longID := strings.Repeat("é", models.MaxSessionIDLength+1)

	t.Run("query", func(t *testing.T) {
		svc, provider, repo := newTestService(t)

		_, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi", SessionID: &longID})
		assert.ErrorIs(t, err, services.ErrSessionTooLong)
		assert.True(t, services.IsValidationError(err))
		provider.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("compare", func(t *testing.T) {
		svc, provider, repo := newTestService(t)

		_, err := svc.Compare(context.Background(), CompareRequest{
			Prompt:    "hi",
			ModelA:    "llama-3.1-8b-instant",
			ModelB:    "openai/gpt-oss-20b",
			SessionID: &longID,
		})
		assert.ErrorIs(t, err, services.ErrSessionTooLong)
		provider.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("limit counts characters", func(t *testing.T) {
		svc, provider, repo := newTestService(t)
		provider.On("ChatCompletion", mock.Anything, "llama-3.1-8b-instant").Return(&providers.TextResponse{Text: "ok"}, nil)
		repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), nil)

		atLimit := strings.Repeat("é", models.MaxSessionIDLength)
		_, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi", SessionID: &atLimit})
		require.NoError(t, err)
		assert.Equal(t, atLimit, *repo.InsertedRecords()[0].SessionID)
	})
}

func TestService_QueryUnservedModel(t *testing.T) {
	svc, _, repo := newTestService(t)

	_, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi", Model: "unserved-model"})
	assert.True(t, services.IsExternalError(err))
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestService_QueryStoreUnavailable(t *testing.T) {
	svc, provider, repo := newTestService(t)
	provider.On("ChatCompletion", mock.Anything, "llama-3.1-8b-instant").Return(chatResponse("ok", 1, 1), nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), errors.New("disk I/O error"))

	resp, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi"})
	assert.Nil(t, resp)
	assert.True(t, services.IsUnavailableError(err))
}

func TestService_QueryRecordSurvivesCancellation(t *testing.T) {
	svc, provider, repo := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	provider.On("ChatCompletion", mock.Anything, "llama-3.1-8b-instant").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)
	repo.On("Insert", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
		Return(int64(0), nil)

	_, err := svc.Query(ctx, QueryRequest{Prompt: "hi"})
	assert.True(t, services.IsExternalError(err))

	inserted := repo.InsertedRecords()
	require.Len(t, inserted, 1)
	assert.Equal(t, models.CallStatusError, inserted[0].Status)
	repo.AssertExpectations(t)
}

func TestService_CompareSuccess(t *testing.T) {
	svc, provider, repo := newTestService(t)
	provider.On("ChatCompletion", mock.Anything, "llama-3.1-8b-instant").Return(chatResponse("fast", 5, 6), nil)
	provider.On("ChatCompletion", mock.Anything, "openai/gpt-oss-20b").Return(chatResponse("thorough", 5, 60), nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), nil)

	resp, err := svc.Compare(context.Background(), CompareRequest{
		Prompt: "Explain DNS",
		ModelA: "llama-3.1-8b-instant",
		ModelB: "openai/gpt-oss-20b",
	})
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", resp.ModelA.Name)
	assert.Equal(t, "fast", resp.ModelA.Response)
	assert.Equal(t, "openai/gpt-oss-20b", resp.ModelB.Name)
	assert.Equal(t, 60, resp.ModelB.TokensOut)
	assert.NotEqual(t, resp.ModelA.RequestID, resp.ModelB.RequestID)
	assert.NotNil(t, resp.ModelA.Latency)
	assert.Len(t, repo.InsertedRecords(), 2)
}

func TestService_CompareOneSideFails(t *testing.T) {
	svc, provider, repo := newTestService(t)
	provider.On("ChatCompletion", mock.Anything, "llama-3.1-8b-instant").Return(chatResponse("fine", 1, 1), nil)
	provider.On("ChatCompletion", mock.Anything, "openai/gpt-oss-20b").Return(nil, errors.New("upstream timeout"))
	repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), nil)

	_, err := svc.Compare(context.Background(), CompareRequest{
		Prompt: "Explain DNS",
		ModelA: "llama-3.1-8b-instant",
		ModelB: "openai/gpt-oss-20b",
	})
	require.Error(t, err)
	assert.True(t, services.IsExternalError(err))

	inserted := repo.InsertedRecords()
	require.Len(t, inserted, 2, "both attempts are recorded")

	ids := map[string]int64{}
	for _, r := range inserted {
		ids[r.Model] = r.ID
	}
	details := services.GetErrorDetails(err)
	assert.Equal(t, ids["llama-3.1-8b-instant"], details["model_a_request_id"])
	assert.Equal(t, ids["openai/gpt-oss-20b"], details["model_b_request_id"])
	assert.Equal(t, "openai/gpt-oss-20b: upstream timeout", details["message"])
}

func TestService_CompareRunsConcurrently(t *testing.T) {
	svc, provider, repo := newTestService(t)

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()
	wait := func(mock.Arguments) {
		started.Done()
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}
	provider.On("ChatCompletion", mock.Anything, mock.Anything).Run(wait).Return(chatResponse("x", 1, 1), nil)
	repo.On("Insert", mock.Anything, mock.Anything).Return(int64(0), nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Compare(context.Background(), CompareRequest{
			Prompt: "p",
			ModelA: "llama-3.1-8b-instant",
			ModelB: "openai/gpt-oss-20b",
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("compare did not run both calls at the same time")
	}
}

func TestService_CompareRejectsDisallowedModel(t *testing.T) {
	svc, provider, repo := newTestService(t)

	_, err := svc.Compare(context.Background(), CompareRequest{Prompt: "p", ModelA: "llama-3.1-8b-instant", ModelB: "gpt-4"})
	assert.ErrorIs(t, err, services.ErrModelNotAllowed)
	assert.Equal(t, "gpt-4", services.GetErrorDetails(err)["model"])
	provider.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestService_SubmitFeedback(t *testing.T) {
	t.Run("saved", func(t *testing.T) {
		svc, _, repo := newTestService(t)
		repo.On("UpdateFeedback", mock.Anything, int64(7), ptr(5), ptr("great")).Return(true, nil)

		require.NoError(t, svc.SubmitFeedback(context.Background(), FeedbackRequest{RequestID: 7, Rating: ptr(5), Comment: ptr("great")}))
		repo.AssertExpectations(t)
	})

	t.Run("unknown id", func(t *testing.T) {
		svc, _, repo := newTestService(t)
		repo.On("UpdateFeedback", mock.Anything, int64(99), (*int)(nil), (*string)(nil)).Return(false, nil)

		err := svc.SubmitFeedback(context.Background(), FeedbackRequest{RequestID: 99})
		assert.ErrorIs(t, err, services.ErrRecordNotFound)
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("rating out of range", func(t *testing.T) {
		svc, _, repo := newTestService(t)

		err := svc.SubmitFeedback(context.Background(), FeedbackRequest{RequestID: 1, Rating: ptr(6)})
		assert.ErrorIs(t, err, services.ErrInvalidRating)
		repo.AssertNotCalled(t, "UpdateFeedback", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store unavailable", func(t *testing.T) {
		svc, _, repo := newTestService(t)
		repo.On("UpdateFeedback", mock.Anything, int64(1), ptr(3), (*string)(nil)).Return(false, errors.New("connection reset"))

		err := svc.SubmitFeedback(context.Background(), FeedbackRequest{RequestID: 1, Rating: ptr(3)})
		assert.True(t, services.IsUnavailableError(err))
	})
}

func ptr[T any](v T) *T { return &v }
