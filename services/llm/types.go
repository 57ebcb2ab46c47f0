package llm

// QueryRequest is one instrumented prompt against a single model
type QueryRequest struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
	SessionID   *string
}

// QueryResponse is returned for a successful query
type QueryResponse struct {
	RequestID int64    `json:"request_id"`
	Response  string   `json:"response"`
	TokensIn  int      `json:"tokens_in"`
	TokensOut int      `json:"tokens_out"`
	LatencyMs *float64 `json:"latency_ms"`
}

// CompareRequest runs the same prompt against two models
type CompareRequest struct {
	Prompt      string
	ModelA      string
	ModelB      string
	Temperature float64
	MaxTokens   int
	SessionID   *string
}

// ModelResult is one side of a comparison
type ModelResult struct {
	Name      string   `json:"name"`
	RequestID int64    `json:"request_id"`
	Response  string   `json:"response"`
	TokensIn  int      `json:"tokens_in"`
	TokensOut int      `json:"tokens_out"`
	Latency   *float64 `json:"latency"`
}

// CompareResponse holds both sides of a comparison
type CompareResponse struct {
	ModelA ModelResult `json:"model_a"`
	ModelB ModelResult `json:"model_b"`
}

// FeedbackRequest attaches a rating and comment to an existing record.
// Absent values clear the stored ones.
type FeedbackRequest struct {
	RequestID int64
	Rating    *int
	Comment   *string
}
