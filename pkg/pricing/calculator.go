// Package pricing calculates and estimates generation cost. Estimates are
// deliberately conservative: the budget governor checks them before the real
// usage is known, so they assume the full requested output is produced.
package pricing

import (
	"strings"
)

// ModelPricing defines the pricing for a model. Token prices apply to text
// models; PerImage applies to image models (token accounting does not).
// Model patterns support a trailing wildcard, e.g. "gpt-4o*".
type ModelPricing struct {
	Model           string
	InputCostPer1K  float64 // USD per 1000 input tokens
	OutputCostPer1K float64 // USD per 1000 output tokens
	PerImage        float64 // USD per generated image
}

// DefaultPricing contains list prices for the models the catalog pipeline
// routes to. Prices are in USD, updated when routes change.
var DefaultPricing = []ModelPricing{
	// OpenAI
	{Model: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
	{Model: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
	{Model: "gpt-4.1*", InputCostPer1K: 0.002, OutputCostPer1K: 0.008},
	{Model: "gpt-4*", InputCostPer1K: 0.03, OutputCostPer1K: 0.06},
	{Model: "dall-e-3", PerImage: 0.04},
	{Model: "dall-e-2", PerImage: 0.02},
	{Model: "gpt-image-1", PerImage: 0.042},

	// Anthropic
	{Model: "claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "claude-3-5-haiku*", InputCostPer1K: 0.0008, OutputCostPer1K: 0.004},
	{Model: "claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},

	// Google
	{Model: "gemini-1.5-pro*", InputCostPer1K: 0.00125, OutputCostPer1K: 0.005},
	{Model: "gemini-1.5-flash*", InputCostPer1K: 0.000075, OutputCostPer1K: 0.0003},
	{Model: "gemini-2.0-flash*", InputCostPer1K: 0.0001, OutputCostPer1K: 0.0004},
	{Model: "imagen-3*", PerImage: 0.04},

	// OpenRouter passthrough models
	{Model: "meta-llama/*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0002},
	{Model: "mistralai/*", InputCostPer1K: 0.001, OutputCostPer1K: 0.003},
}

// Calculator computes cost from the pricing table.
type Calculator struct {
	pricing map[string]ModelPricing
}

// NewCalculator creates a calculator. A nil table uses DefaultPricing.
func NewCalculator(pricing []ModelPricing) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing
	}
	c := &Calculator{pricing: make(map[string]ModelPricing, len(pricing))}
	for _, p := range pricing {
		c.pricing[p.Model] = p
	}
	return c
}

// TextCost returns the cost for a text call with the given token counts.
// Unknown models cost 0.
func (c *Calculator) TextCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.find(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000.0*p.InputCostPer1K +
		float64(outputTokens)/1000.0*p.OutputCostPer1K
}

// ImageCost returns the cost for generating count images. Unknown models
// cost 0; count defaults to 1.
func (c *Calculator) ImageCost(model string, count int) float64 {
	p, ok := c.find(model)
	if !ok {
		return 0
	}
	if count <= 0 {
		count = 1
	}
	return float64(count) * p.PerImage
}

// EstimateTextCost returns the worst-case cost for a text call: the prompt
// token estimate plus the full requested output.
func (c *Calculator) EstimateTextCost(model string, promptTokens, maxOutputTokens int) float64 {
	return c.TextCost(model, promptTokens, maxOutputTokens)
}

// AddPricing adds or updates pricing for a model pattern.
func (c *Calculator) AddPricing(p ModelPricing) {
	c.pricing[p.Model] = p
}

// Pricing retrieves the effective pricing for a model.
func (c *Calculator) Pricing(model string) (ModelPricing, bool) {
	return c.find(model)
}

// find resolves pricing for a model: exact match first, then the longest
// matching wildcard prefix.
func (c *Calculator) find(model string) (ModelPricing, bool) {
	for pattern, p := range c.pricing {
		if strings.EqualFold(pattern, model) {
			return p, true
		}
	}

	modelLower := strings.ToLower(model)
	var best *ModelPricing
	bestLen := -1
	for pattern, p := range c.pricing {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
		if strings.HasPrefix(modelLower, prefix) && len(prefix) > bestLen {
			pCopy := p
			best = &pCopy
			bestLen = len(prefix)
		}
	}
	if best != nil {
		return *best, true
	}
	return ModelPricing{}, false
}

// EstimateTokens approximates the token count of a prompt. The four
// characters per token heuristic overestimates for English marketing copy,
// which is the right direction for a budget check.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
