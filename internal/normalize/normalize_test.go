package normalize

import (
	"testing"

	"github.com/zhaobenny/agenttop/internal/model"
)

func TestNormalize_Anthropic(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain canonical", "claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"dated", "claude-sonnet-4-5-20250929", "claude-sonnet-4-5"},
		{"vendor slash prefix", "anthropic/claude-opus-4-5", "claude-opus-4-5"},
		{"vendor dot prefix", "anthropic.claude-sonnet-4-20250514-v1:0", "claude-sonnet-4"},
		{"bedrock cross-region", "us.anthropic.claude-3-5-sonnet-20241022-v2:0", "claude-3-5-sonnet"},
		{"vertex at marker", "claude-sonnet-4@20250514", "claude-sonnet-4"},
		{"opus 4-1 keeps minor version", "claude-opus-4-1-20250805", "claude-opus-4-1"},
		{"unknown dated model kept", "claude-mystery-20250101", "claude-mystery-20250101"},
		{"whitespace trimmed", "  claude-opus-4  ", "claude-opus-4"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in, model.ProviderAnthropic); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_OpenAI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain canonical", "gpt-5", "gpt-5"},
		{"codex suffix", "gpt-5-codex", "gpt-5"},
		{"vendor prefix", "openai/gpt-5-mini", "gpt-5-mini"},
		{"dated", "gpt-5-20250807", "gpt-5"},
		{"unknown codex variant kept", "gpt-6-codex", "gpt-6-codex"},
		{"dotted version untouched", "gpt-4.1", "gpt-4.1"},
		{"reasoning model", "o4-mini", "o4-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in, model.ProviderOpenAI); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Normalization must be idempotent: a canonical name passes through unchanged.
func TestNormalize_Idempotent(t *testing.T) {
	inputs := []struct {
		raw      string
		provider model.Provider
	}{
		{"anthropic/claude-opus-4-5", model.ProviderAnthropic},
		{"us.anthropic.claude-sonnet-4-20250514-v1:0", model.ProviderAnthropic},
		{"claude-sonnet-4@20250514", model.ProviderAnthropic},
		{"claude-mystery-20250101", model.ProviderAnthropic},
		{"gpt-5-codex", model.ProviderOpenAI},
		{"openai/gpt-4.1-mini", model.ProviderOpenAI},
		{"totally-unknown-model", model.ProviderOpenAI},
	}

	for _, in := range inputs {
		once := Normalize(in.raw, in.provider)
		twice := Normalize(once, in.provider)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in.raw, once, twice)
		}
	}
}
