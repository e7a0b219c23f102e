// Package types defines the unified request and result types shared by the
// orchestrator client and all provider adapters.
package types

// Usage captures token consumption reported by a provider for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Outcome describes how a single generation attempt ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient_failure"
	OutcomeFatal     Outcome = "fatal_failure"
)

// Attempt records one provider try within a logical request. Skipped
// candidates (missing credential, budget veto) are recorded as transient
// failures with zero cost; they consumed a fallback slot but made no
// network call.
type Attempt struct {
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	Outcome   Outcome `json:"outcome"`
	LatencyMs int64   `json:"latency_ms"`
	CostUSD   float64 `json:"cost_usd"`
	Error     string  `json:"error,omitempty"`
}
