package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider represents a hosted LLM endpoint
type Provider interface {
	// Name returns the provider name (e.g., "groq", "openai")
	Name() string

	// ChatCompletion performs a single, non-streaming completion request
	ChatCompletion(ctx context.Context, req *ChatRequest) (Response, error)

	// ValidateModel checks if a model is served by this provider
	ValidateModel(model string) error

	// ListModels returns all models served by this provider
	ListModels() []string
}

// ChatRequest represents a unified chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`

	// User identifier forwarded for abuse monitoring
	User string `json:"user,omitempty"`
}

// NewPromptRequest builds a single-turn request for prompt
func NewPromptRequest(model, prompt string, temperature float64, maxTokens int) *ChatRequest {
	return &ChatRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the result of a provider invocation. Its concrete type is one
// of *ChatResponse, *TextResponse or *UnrecognizedResponse.
type Response interface {
	fmt.Stringer
	isResponse()
}

// ChatResponse is a decoded chat/completions payload
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`

	// Text is a top-level text field some compatible servers return instead of choices
	Text string `json:"text,omitempty"`

	// Usage is nil when the payload carried no usage block
	Usage *Usage `json:"usage,omitempty"`

	Provider string        `json:"provider"`
	Latency  time.Duration `json:"latency"`
	Created  time.Time     `json:"created"`
}

// Choice represents a completion choice. Chat endpoints fill Message, legacy
// completion endpoints fill Text.
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Text         string   `json:"text,omitempty"`
	FinishReason string   `json:"finish_reason"`
}

// FirstGenerationText returns the text of the first choice, if there is one
func (r *ChatResponse) FirstGenerationText() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	first := r.Choices[0]
	if first.Message != nil {
		return first.Message.Content, true
	}
	if first.Text != "" {
		return first.Text, true
	}
	return "", false
}

func (r *ChatResponse) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%+v", *r)
	}
	return string(data)
}

func (*ChatResponse) isResponse() {}

// TextResponse is a plain text completion
type TextResponse struct {
	Text  string
	Usage *Usage
}

func (r *TextResponse) String() string { return r.Text }

func (*TextResponse) isResponse() {}

// UnrecognizedResponse carries a successful body whose shape could not be decoded
type UnrecognizedResponse struct {
	Body        []byte
	ContentType string
}

func (r *UnrecognizedResponse) String() string { return string(r.Body) }

func (*UnrecognizedResponse) isResponse() {}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Headers    map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Headers:    make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}
