package instrument

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/services/providers"
)

// stepClock returns the given instants in order, repeating the last one
func stepClock(instants ...time.Time) Clock {
	i := 0
	return func() time.Time {
		t := instants[i]
		if i < len(instants)-1 {
			i++
		}
		return t
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCapsule_CompleteLifecycle(t *testing.T) {
	capsule := NewCapsule(stepClock(t0, t0.Add(1234567*time.Microsecond)))
	capsule.Begin("Why is the sky blue?")
	capsule.Complete(&providers.ChatResponse{
		Choices: []providers.Choice{{Message: &providers.Message{Role: "assistant", Content: "Rayleigh scattering"}}},
		Usage:   &providers.Usage{PromptTokens: 12, CompletionTokens: 40},
	})

	require.NotNil(t, capsule.Latency())
	assert.Equal(t, 1234.567, *capsule.Latency())
	assert.Equal(t, "Rayleigh scattering", capsule.ResponseText)
	assert.Equal(t, 12, capsule.TokensIn)
	assert.Equal(t, 40, capsule.TokensOut)

	session := "session-1"
	record := capsule.Record("llama-3.1-8b-instant", &session)
	assert.Equal(t, models.CallStatusSuccess, record.Status)
	assert.Equal(t, "Why is the sky blue?", record.Prompt)
	assert.Equal(t, "Rayleigh scattering", record.Response)
	assert.Equal(t, &session, record.SessionID)
	assert.Nil(t, record.ErrorMessage)
}

func TestCapsule_Fail(t *testing.T) {
	capsule := NewCapsule(stepClock(t0, t0.Add(time.Second)))
	capsule.Begin("prompt")
	capsule.Fail(errors.New("rate limit exceeded"))

	assert.True(t, capsule.Failed())
	assert.Nil(t, capsule.Latency(), "fail does not record an end timestamp")

	record := capsule.Record("openai/gpt-oss-20b", nil)
	assert.Equal(t, models.CallStatusError, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Equal(t, "rate limit exceeded", *record.ErrorMessage)
	assert.Equal(t, "", record.Response)
	assert.Zero(t, record.TokensIn)
	assert.Nil(t, record.LatencyMs)
}

func TestCapsule_LatencyRequiresBothTimestamps(t *testing.T) {
	t.Run("complete without begin", func(t *testing.T) {
		capsule := NewCapsule(stepClock(t0))
		capsule.Complete(&providers.TextResponse{Text: "x"})
		assert.Nil(t, capsule.Latency())
	})

	t.Run("begin without complete", func(t *testing.T) {
		capsule := NewCapsule(stepClock(t0))
		capsule.Begin("x")
		assert.Nil(t, capsule.Latency())

		record := capsule.Record("m", nil)
		assert.Equal(t, models.CallStatusUnknown, record.Status)
	})

	t.Run("recomputed on read", func(t *testing.T) {
		capsule := NewCapsule(stepClock(t0, t0.Add(5*time.Millisecond)))
		capsule.Begin("x")
		capsule.Complete(&providers.TextResponse{Text: "y"})
		first := capsule.Latency()
		second := capsule.Latency()
		assert.Equal(t, *first, *second)
		assert.NotSame(t, first, second)
	})
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		resp providers.Response
		want string
	}{
		{
			name: "first chat choice wins over top level text",
			resp: &providers.ChatResponse{
				Choices: []providers.Choice{{Message: &providers.Message{Content: "first"}}, {Message: &providers.Message{Content: "second"}}},
				Text:    "generic",
			},
			want: "first",
		},
		{
			name: "legacy choice text",
			resp: &providers.ChatResponse{Choices: []providers.Choice{{Text: "legacy"}}},
			want: "legacy",
		},
		{
			name: "generic text when no choices",
			resp: &providers.ChatResponse{Text: "generic"},
			want: "generic",
		},
		{
			name: "plain text response",
			resp: &providers.TextResponse{Text: "plain"},
			want: "plain",
		},
		{
			name: "unrecognized shape is stringified",
			resp: &providers.UnrecognizedResponse{Body: []byte(`{"output":"x"}`)},
			want: `{"output":"x"}`,
		},
		{
			name: "nil response",
			resp: nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(tt.resp))
		})
	}
}

func TestExtractText_EmptyChatResponseFallsBackToString(t *testing.T) {
	resp := &providers.ChatResponse{ID: "abc"}
	assert.Equal(t, resp.String(), ExtractText(resp))
}

func TestExtractText_NilVariantNeverPanics(t *testing.T) {
	var text *providers.TextResponse
	assert.NotPanics(t, func() {
		assert.Equal(t, "*providers.TextResponse", ExtractText(text))
	})
}

func TestExtractUsage(t *testing.T) {
	in, out := ExtractUsage(&providers.ChatResponse{Usage: &providers.Usage{PromptTokens: 3, CompletionTokens: 7}})
	assert.Equal(t, 3, in)
	assert.Equal(t, 7, out)

	in, out = ExtractUsage(&providers.ChatResponse{})
	assert.Zero(t, in)
	assert.Zero(t, out)

	in, out = ExtractUsage(&providers.TextResponse{Usage: &providers.Usage{PromptTokens: -4, CompletionTokens: 2}})
	assert.Zero(t, in)
	assert.Equal(t, 2, out)

	in, out = ExtractUsage(&providers.UnrecognizedResponse{Body: []byte("x")})
	assert.Zero(t, in)
	assert.Zero(t, out)
}

func TestLatencyMs_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		offset := rapid.Int64Range(0, int64(10*time.Minute)).Draw(t, "offset")
		end := t0.Add(time.Duration(offset))

		capsule := NewCapsule(stepClock(t0, end))
		capsule.Begin("p")
		capsule.Complete(&providers.TextResponse{})

		got := capsule.Latency()
		if got == nil {
			t.Fatal("latency is nil with both timestamps recorded")
		}
		if *got < 0 {
			t.Fatalf("latency %v is negative", *got)
		}

		want := math.Round(float64(offset)/1e6*1000) / 1000
		if *got != want {
			t.Fatalf("latency = %v, want %v", *got, want)
		}
		if scaled := *got * 1000; math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Fatalf("latency %v has more than 3 decimals", *got)
		}
	})
}

func TestExtractText_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		first := rapid.String().Draw(t, "first")
		generic := rapid.String().Draw(t, "generic")
		withChoice := rapid.Bool().Draw(t, "with_choice")

		resp := &providers.ChatResponse{Text: generic}
		if withChoice {
			resp.Choices = []providers.Choice{{Message: &providers.Message{Content: first}}}
		}

		got := ExtractText(resp)
		switch {
		case withChoice:
			if got != first {
				t.Fatalf("got %q, want first generation %q", got, first)
			}
		case generic != "":
			if got != generic {
				t.Fatalf("got %q, want generic text %q", got, generic)
			}
		default:
			if got != resp.String() {
				t.Fatalf("got %q, want stringified response", got)
			}
		}
	})
}
