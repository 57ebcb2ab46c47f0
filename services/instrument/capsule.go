// Package instrument captures per-invocation metrics around one provider call.
package instrument

import (
	"fmt"
	"math"
	"time"

	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/services/providers"
)

// Clock returns the current time
type Clock func() time.Time

// Capsule holds the metrics of exactly one provider invocation. It is owned by
// a single in-flight request and is not safe for concurrent use.
type Capsule struct {
	clock Clock

	startTime *time.Time
	endTime   *time.Time

	Prompt       string
	ResponseText string
	TokensIn     int
	TokensOut    int
	ErrorMessage string

	completed bool
	failed    bool
}

// NewCapsule creates a capsule reading time from clock. A nil clock uses time.Now.
func NewCapsule(clock Clock) *Capsule {
	if clock == nil {
		clock = time.Now
	}
	return &Capsule{clock: clock}
}

// Begin records the start timestamp and the outbound prompt
func (c *Capsule) Begin(prompt string) {
	now := c.clock()
	c.startTime = &now
	c.Prompt = prompt
}

// Complete records the end timestamp and extracts text and token usage from resp
func (c *Capsule) Complete(resp providers.Response) {
	now := c.clock()
	c.endTime = &now
	c.ResponseText = ExtractText(resp)
	c.TokensIn, c.TokensOut = ExtractUsage(resp)
	c.completed = true
}

// Fail records the error message only. The end timestamp is left untouched.
func (c *Capsule) Fail(err error) {
	c.failed = true
	if err != nil {
		c.ErrorMessage = err.Error()
	}
}

// Failed reports whether Fail was called
func (c *Capsule) Failed() bool {
	return c.failed
}

// Latency returns the elapsed milliseconds between Begin and Complete rounded
// to 3 decimals, or nil when either timestamp is missing.
func (c *Capsule) Latency() *float64 {
	if c.startTime == nil || c.endTime == nil {
		return nil
	}
	ms := LatencyMs(*c.startTime, *c.endTime)
	return &ms
}

// LatencyMs converts the interval [start, end] to milliseconds rounded to 3 decimals
func LatencyMs(start, end time.Time) float64 {
	elapsed := float64(end.Sub(start)) / float64(time.Millisecond)
	return math.Round(elapsed*1000) / 1000
}

// Record builds the CallRecord for this attempt. A capsule that neither
// completed nor failed produces a record with unknown status.
func (c *Capsule) Record(model string, sessionID *string) *models.CallRecord {
	record := models.NewCallRecord(model, c.Prompt, sessionID)

	switch {
	case c.failed:
		record.MarkAsFailed(c.ErrorMessage, c.TokensIn, c.TokensOut, c.Latency())
	case c.completed:
		record.MarkAsSucceeded(c.ResponseText, c.TokensIn, c.TokensOut, c.Latency())
	default:
		record.LatencyMs = c.Latency()
	}

	return record
}

// ExtractText returns the response text using the first choice, then the
// generic text field, then the stringified response. It never panics.
func ExtractText(resp providers.Response) (text string) {
	if resp == nil {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			text = safeString(resp)
		}
	}()

	switch v := resp.(type) {
	case *providers.ChatResponse:
		if first, ok := v.FirstGenerationText(); ok {
			return first
		}
		if v != nil && v.Text != "" {
			return v.Text
		}
	case *providers.TextResponse:
		if v != nil {
			return v.Text
		}
	}

	return safeString(resp)
}

// ExtractUsage returns prompt and completion token counts. Missing or
// negative counts become 0.
func ExtractUsage(resp providers.Response) (tokensIn, tokensOut int) {
	defer func() {
		if r := recover(); r != nil {
			tokensIn, tokensOut = 0, 0
		}
	}()

	var usage *providers.Usage
	switch v := resp.(type) {
	case *providers.ChatResponse:
		if v != nil {
			usage = v.Usage
		}
	case *providers.TextResponse:
		if v != nil {
			usage = v.Usage
		}
	}

	if usage == nil {
		return 0, 0
	}
	return max(usage.PromptTokens, 0), max(usage.CompletionTokens, 0)
}

func safeString(resp providers.Response) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%T", resp)
		}
	}()
	return resp.String()
}
