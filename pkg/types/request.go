package types

import "github.com/goccy/go-json"

// TextRequest asks for free-form marketing copy for a task type.
type TextRequest struct {
	TaskType    string            `json:"task_type"`
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// JSONRequest asks for structured output. The provider is steered into JSON
// mode where it supports one; the client validates the result either way.
type JSONRequest struct {
	TaskType    string            `json:"task_type"`
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ImageRequest asks for product imagery.
type ImageRequest struct {
	TaskType string `json:"task_type"`
	Prompt   string `json:"prompt"`
	Size     string `json:"size,omitempty"`    // e.g. "1024x1024"
	Quality  string `json:"quality,omitempty"` // e.g. "standard", "hd"
	Count    int    `json:"count,omitempty"`   // defaults to 1
}

// TextResult is a successful text generation with full provenance.
type TextResult struct {
	Text      string    `json:"text"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Usage     Usage     `json:"usage"`
	CostUSD   float64   `json:"cost_usd"`
	LatencyMs int64     `json:"latency_ms"`
	FellBack  bool      `json:"fell_back"`
	Attempts  []Attempt `json:"attempts"`
}

// JSONResult is a successful structured generation. Data is guaranteed to be
// valid JSON.
type JSONResult struct {
	Data      json.RawMessage `json:"data"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Usage     Usage           `json:"usage"`
	CostUSD   float64         `json:"cost_usd"`
	LatencyMs int64           `json:"latency_ms"`
	FellBack  bool            `json:"fell_back"`
	Attempts  []Attempt       `json:"attempts"`
}

// ImageResult is a successful image generation. Exactly one of URL or Data
// is set, depending on what the provider returns.
type ImageResult struct {
	URL       string    `json:"url,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CostUSD   float64   `json:"cost_usd"`
	LatencyMs int64     `json:"latency_ms"`
	FellBack  bool      `json:"fell_back"`
	Attempts  []Attempt `json:"attempts"`
}

// TextCompletion is the provider-level payload parsed out of a text call.
type TextCompletion struct {
	Text  string
	Usage Usage
}

// ImageCompletion is the provider-level payload parsed out of an image call.
type ImageCompletion struct {
	URL  string
	Data []byte
}
