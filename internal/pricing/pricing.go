// Package pricing holds the static per-model rate table and computes the
// estimated USD cost of a usage event. The table is process-wide, read-only
// and keyed by canonical model names (see internal/normalize).
package pricing

import (
	"math"

	"github.com/zhaobenny/agenttop/internal/model"
)

// ModelPricing contains rates for a model in USD per million tokens.
//
// When TierThreshold is non-zero the Above* rates apply to the portion of
// each token category beyond the threshold. The threshold is evaluated per
// category against the same value, not against a combined total: a request
// can have its input tokens split across the threshold while its output
// tokens are entirely below it.
type ModelPricing struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64

	TierThreshold   int64
	AboveInput      float64
	AboveOutput     float64
	AboveCacheRead  float64
	AboveCacheWrite float64
}

// table is initialized once and never mutated afterwards.
var table = map[string]ModelPricing{
	"claude-opus-4-5":   {Input: 5, Output: 25, CacheRead: 0.5, CacheWrite: 6.25},
	"claude-opus-4-1":   {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
	"claude-opus-4":     {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
	"claude-sonnet-4-5": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-sonnet-4":   {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-3-7-sonnet": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-3-5-sonnet": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-haiku-4-5":  {Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
	"claude-3-5-haiku":  {Input: 0.8, Output: 4, CacheRead: 0.08, CacheWrite: 1},
	"claude-3-haiku":    {Input: 0.25, Output: 1.25, CacheRead: 0.03, CacheWrite: 0.3},
	"claude-3-opus":     {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},

	"gpt-5":        {Input: 1.25, Output: 10, CacheRead: 0.125},
	"gpt-5-mini":   {Input: 0.25, Output: 2, CacheRead: 0.025},
	"gpt-5-nano":   {Input: 0.05, Output: 0.4, CacheRead: 0.005},
	"gpt-4.1":      {Input: 2, Output: 8, CacheRead: 0.5},
	"gpt-4.1-mini": {Input: 0.4, Output: 1.6, CacheRead: 0.1},
	"o3":           {Input: 2, Output: 8, CacheRead: 0.5},
	"o4-mini":      {Input: 1.1, Output: 4.4, CacheRead: 0.275},

	// Gemini prices long-context requests at a higher rate beyond 200k tokens.
	"gemini-2.5-pro": {
		Input: 1.25, Output: 10, CacheRead: 0.31, CacheWrite: 1.625,
		TierThreshold: 200_000,
		AboveInput:    2.5, AboveOutput: 15, AboveCacheRead: 0.625, AboveCacheWrite: 4.5,
	},
	"gemini-2.5-flash": {Input: 0.3, Output: 2.5, CacheRead: 0.075, CacheWrite: 0.3833},
}

// costPrecision keeps summed fractional-cent records stable without rounding
// to display granularity; aggregation adds many of these before presenting
// rounded dollars.
const costPrecision = 1e12

// Lookup returns the pricing entry for a canonical model name.
func Lookup(name string) (ModelPricing, bool) {
	p, ok := table[name]
	return p, ok
}

// Cost computes the estimated USD cost for the given canonical model and
// token counts. Unknown models price at zero; that is not an error.
func Cost(name string, usage model.TokenUsage) float64 {
	p, ok := table[name]
	if !ok {
		return 0
	}
	return CostFor(p, usage)
}

// CostFor computes the cost of usage against an explicit pricing entry,
// splitting each token category independently at the tier threshold.
func CostFor(p ModelPricing, usage model.TokenUsage) float64 {
	cost := tiered(usage.InputTokens, p.Input, p.AboveInput, p.TierThreshold)
	cost += tiered(usage.OutputTokens, p.Output, p.AboveOutput, p.TierThreshold)
	cost += tiered(usage.CacheReadTokens, p.CacheRead, p.AboveCacheRead, p.TierThreshold)
	cost += tiered(usage.CacheCreationTokens, p.CacheWrite, p.AboveCacheWrite, p.TierThreshold)
	return math.Round(cost*costPrecision) / costPrecision
}

func tiered(tokens int64, base, above float64, threshold int64) float64 {
	if threshold <= 0 || tokens <= threshold {
		return float64(tokens) * base / 1e6
	}
	return float64(threshold)*base/1e6 + float64(tokens-threshold)*above/1e6
}
