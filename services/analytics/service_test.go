package analytics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/internal/observability"
	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/repositories/repotest"
	"github.com/IshaVishwakarma/llm-observability/repositories/sqlstore"
	"github.com/IshaVishwakarma/llm-observability/services"
)

func ptr[T any](v T) *T { return &v }

func newStore(t *testing.T) repositories.CallRecordRepository {
	t.Helper()

	factory, err := sqlstore.NewRepositoryFactory(
		config.DatabaseConfig{URL: "sqlite://" + filepath.Join(t.TempDir(), "analytics.db")},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	require.NoError(t, factory.InitSchema(context.Background()))
	t.Cleanup(func() { _ = factory.Close() })
	return factory.NewRepositories().CallRecords
}

type seed struct {
	model     string
	status    models.CallStatus
	latency   *float64
	tokensIn  int
	tokensOut int
	session   *string
	prompt    string
}

func insertAll(t *testing.T, repo repositories.CallRecordRepository, seeds ...seed) {
	t.Helper()
	for _, s := range seeds {
		prompt := s.prompt
		if prompt == "" {
			prompt = "What is 2+2?"
		}
		record := models.NewCallRecord(s.model, prompt, s.session)
		switch s.status {
		case models.CallStatusSuccess:
			record.MarkAsSucceeded("4", s.tokensIn, s.tokensOut, s.latency)
		case models.CallStatusError:
			record.MarkAsFailed("provider timeout", s.tokensIn, s.tokensOut, s.latency)
		default:
			record.LatencyMs = s.latency
		}
		_, err := repo.Insert(context.Background(), record)
		require.NoError(t, err)
	}
}

func TestService_SummaryEmptyStore(t *testing.T) {
	svc := NewService(newStore(t), nil, zaptest.NewLogger(t))

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.Summary{}, summary)
}

func TestService_Summary(t *testing.T) {
	repo := newStore(t)
	insertAll(t, repo,
		seed{model: "llama-3.1-8b-instant", status: models.CallStatusSuccess, latency: ptr(100.0), tokensIn: 10, tokensOut: 20},
		seed{model: "llama-3.1-8b-instant", status: models.CallStatusSuccess, latency: ptr(200.0), tokensIn: 5, tokensOut: 5},
		seed{model: "openai/gpt-oss-20b", status: models.CallStatusError},
	)
	svc := NewService(repo, observability.NopMetrics{}, zaptest.NewLogger(t))

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 3, summary.TotalRequests)
	assert.EqualValues(t, 2, summary.TotalSuccess)
	assert.EqualValues(t, 1, summary.TotalErrors)
	assert.Equal(t, 66.67, summary.SuccessRate)
	assert.Equal(t, 33.33, summary.ErrorRate)
	assert.Equal(t, 150.0, summary.AvgLatencyMs, "records without latency are excluded")
	assert.Equal(t, 200.0, summary.MaxLatencyMs)
	assert.EqualValues(t, 15, summary.TokensIn)
	assert.EqualValues(t, 25, summary.TokensOut)
	require.NotNil(t, summary.MostUsedModel)
	assert.Equal(t, "llama-3.1-8b-instant", *summary.MostUsedModel)
}

func TestService_RecentLogs(t *testing.T) {
	repo := newStore(t)
	long := make([]rune, models.PromptPreviewLength+10)
	for i := range long {
		long[i] = 'a'
	}
	insertAll(t, repo,
		seed{model: "m1", status: models.CallStatusSuccess, prompt: "first"},
		seed{model: "m2", status: models.CallStatusSuccess, prompt: string(long)},
	)
	svc := NewService(repo, nil, zaptest.NewLogger(t))

	logs, err := svc.RecentLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "m2", logs[0].Model, "newest first")
	assert.Equal(t, string(long[:models.PromptPreviewLength])+"...", logs[0].Prompt)
	assert.Equal(t, "first", logs[1].Prompt)

	logs, err = svc.RecentLogs(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestService_Trends(t *testing.T) {
	repo := newStore(t)
	insertAll(t, repo,
		seed{model: "m1", status: models.CallStatusSuccess, latency: ptr(42.5), tokensIn: 3, tokensOut: 7},
		seed{model: "m2", status: models.CallStatusError},
		seed{model: "m3", status: models.CallStatusSuccess, latency: ptr(12.0), tokensIn: 1, tokensOut: 1},
	)
	svc := NewService(repo, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	tokens, err := svc.TokenTrend(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "m3", tokens[0].Model)
	assert.Equal(t, 3, tokens[2].TokensIn)
	assert.Equal(t, 7, tokens[2].TokensOut)

	latency, err := svc.LatencyTrend(ctx, 10)
	require.NoError(t, err)
	require.Len(t, latency, 3)
	assert.Nil(t, latency[1].LatencyMs)
	require.NotNil(t, latency[2].LatencyMs)
	assert.Equal(t, 42.5, *latency[2].LatencyMs)

	errs, err := svc.ErrorTrend(ctx, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "m2", errs[0].Model)
	require.NotNil(t, errs[0].ErrorMessage)
	assert.Equal(t, "provider timeout", *errs[0].ErrorMessage)
}

func TestService_SessionAnalytics(t *testing.T) {
	repo := newStore(t)
	insertAll(t, repo,
		seed{model: "b-model", status: models.CallStatusSuccess, latency: ptr(10.0), tokensIn: 1, tokensOut: 2, session: ptr("s1")},
		seed{model: "a-model", status: models.CallStatusSuccess, latency: ptr(20.005), tokensIn: 3, tokensOut: 4, session: ptr("s1")},
		seed{model: "c-model", status: models.CallStatusSuccess, latency: ptr(99.0), tokensIn: 100, tokensOut: 100, session: ptr("S1")},
	)
	svc := NewService(repo, nil, zaptest.NewLogger(t))

	got, err := svc.SessionAnalytics(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.EqualValues(t, 2, got.TotalRequests)
	assert.EqualValues(t, 10, got.TotalTokens)
	assert.Equal(t, 15.0, got.AvgLatencyMs)
	require.NotNil(t, got.TopModel)
	assert.Equal(t, "a-model", *got.TopModel, "ties break on model name")

	unknown, err := svc.SessionAnalytics(context.Background(), "nope")
	require.NoError(t, err)
	assert.EqualValues(t, 0, unknown.TotalRequests)
	assert.Equal(t, 0.0, unknown.AvgLatencyMs)
	assert.Nil(t, unknown.TopModel)
}

func TestService_StoreUnavailable(t *testing.T) {
	repo := &repotest.MockCallRecordRepository{}
	dbErr := errors.New("database is locked")
	repo.On("Stats", mock.Anything).Return(nil, dbErr)
	repo.On("ListRecent", mock.Anything, DefaultLimit).Return(nil, dbErr)
	repo.On("ListRecentErrors", mock.Anything, MaxLimit).Return(nil, dbErr)
	repo.On("SessionStats", mock.Anything, "s1").Return(nil, dbErr)

	metrics := observability.NewPrometheusMetrics()
	svc := NewService(repo, metrics, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := svc.Summary(ctx)
	assert.True(t, services.IsUnavailableError(err))
	assert.ErrorIs(t, err, dbErr)

	_, err = svc.RecentLogs(ctx, -5)
	assert.True(t, services.IsUnavailableError(err))

	_, err = svc.ErrorTrend(ctx, 5000)
	assert.True(t, services.IsUnavailableError(err))

	_, err = svc.SessionAnalytics(ctx, "s1")
	assert.True(t, services.IsUnavailableError(err))

	repo.AssertExpectations(t)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-1))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(0, 0))
	assert.Equal(t, 100.0, Percentage(4, 4))
	assert.Equal(t, 33.33, Percentage(1, 3))

	rapid.Check(t, func(t *rapid.T) {
		total := rapid.Int64Range(1, 1_000_000).Draw(t, "total")
		part := rapid.Int64Range(0, total).Draw(t, "part")

		p := Percentage(part, total)
		if p < 0 || p > 100 {
			t.Fatalf("percentage %v out of range for %d/%d", p, part, total)
		}
		if sum := p + Percentage(total-part, total); sum < 99.98 || sum > 100.02 {
			t.Fatalf("complementary rates sum to %v", sum)
		}
	})
}

func TestService_SummaryTokenTotals(t *testing.T) {
	dir := t.TempDir()
	run := 0

	rapid.Check(t, func(rt *rapid.T) {
		run++
		factory, err := sqlstore.NewRepositoryFactory(
			config.DatabaseConfig{URL: "sqlite://" + filepath.Join(dir, fmt.Sprintf("tokens-%d.db", run))},
			zaptest.NewLogger(t),
		)
		require.NoError(rt, err)
		defer factory.Close()
		require.NoError(rt, factory.InitSchema(context.Background()))
		repo := factory.NewRepositories().CallRecords

		n := rapid.IntRange(0, 8).Draw(rt, "records")
		var wantIn, wantOut int64
		for i := 0; i < n; i++ {
			in := rapid.IntRange(0, 5000).Draw(rt, "tokens_in")
			out := rapid.IntRange(0, 5000).Draw(rt, "tokens_out")
			failed := rapid.Bool().Draw(rt, "failed")

			record := models.NewCallRecord("m", "p", nil)
			if failed {
				record.MarkAsFailed("boom", in, out, nil)
			} else {
				record.MarkAsSucceeded("ok", in, out, ptr(1.0))
			}
			_, err := repo.Insert(context.Background(), record)
			require.NoError(rt, err)

			wantIn += int64(in)
			wantOut += int64(out)
		}

		summary, err := NewService(repo, nil, zaptest.NewLogger(t)).Summary(context.Background())
		require.NoError(rt, err)
		if summary.TokensIn != wantIn || summary.TokensOut != wantOut {
			rt.Fatalf("token totals = %d/%d, want %d/%d", summary.TokensIn, summary.TokensOut, wantIn, wantOut)
		}
		if summary.TotalRequests != int64(n) {
			rt.Fatalf("total = %d, want %d", summary.TotalRequests, n)
		}
	})
}
