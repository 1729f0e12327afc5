package model

import "time"

// Provider identifies which vendor's tool produced a usage event.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// TokenUsage contains token counts from a single API response
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// IsZero reports whether all four token counts are zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 &&
		u.CacheReadTokens == 0 && u.CacheCreationTokens == 0
}

// UsageEvent is a single usage entry extracted from a log file.
// Model is the raw, pre-normalization identifier as written by the tool.
type UsageEvent struct {
	Timestamp time.Time
	DayKey    string // local calendar day, 2006-01-02
	SessionID string
	Model     string
	Usage     TokenUsage

	// CostUSD is a cost the source tool computed itself; when present it is
	// trusted verbatim instead of being recomputed from the pricing table.
	CostUSD *float64
}
