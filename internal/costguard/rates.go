package costguard

import "strings"

// tokensPerUnit is the denominator the rate table is expressed in.
const tokensPerUnit = 1_000_000

// ModelRate is the USD price per one million tokens for a model.
type ModelRate struct {
	Input       float64 `yaml:"input"`
	Output      float64 `yaml:"output"`
	CachedInput float64 `yaml:"cached_input"`
}

// RateTable maps normalized model names to their rates.
type RateTable map[string]ModelRate

// DefaultRates is used when no table is configured.
func DefaultRates() RateTable {
	return RateTable{
		"gpt-4o":           {Input: 2.50, Output: 10.00, CachedInput: 1.25},
		"gpt-4o-mini":      {Input: 0.15, Output: 0.60, CachedInput: 0.075},
		"gpt-4.1":          {Input: 2.00, Output: 8.00, CachedInput: 0.50},
		"gpt-4.1-mini":     {Input: 0.40, Output: 1.60, CachedInput: 0.10},
		"gemini-2.5-flash": {Input: 0.30, Output: 2.50, CachedInput: 0.075},
		"gemini-2.5-pro":   {Input: 1.25, Output: 10.00, CachedInput: 0.31},
	}
}

// Lookup returns the rate for model, falling back to fallback when the
// model is unknown.
func (t RateTable) Lookup(model string, fallback ModelRate) ModelRate {
	if r, ok := t[normalizeModel(model)]; ok {
		return r
	}
	return fallback
}

// Cost prices a delta. Cached input tokens are billed at the cached rate
// and excluded from the regular input count.
func (r ModelRate) Cost(d Delta) float64 {
	cached := d.CachedInput
	if cached > d.Input {
		cached = d.Input
	}
	uncached := d.Input - cached

	return (float64(uncached)*r.Input +
		float64(cached)*r.CachedInput +
		float64(d.Output)*r.Output) / tokensPerUnit
}

func normalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
