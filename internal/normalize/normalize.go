// Package normalize maps raw, vendor-decorated model identifiers to the
// canonical names used as pricing-table keys.
package normalize

import (
	"regexp"
	"strings"

	"github.com/zhaobenny/agenttop/internal/model"
)

// canonicalModels is the allow-list of known canonical model names. Date and
// tool suffixes are only stripped when the remaining base name is listed here,
// so an unknown model's dated variant is never silently merged into the wrong
// pricing bucket.
var canonicalModels = map[string]bool{
	"claude-opus-4-5":   true,
	"claude-opus-4-1":   true,
	"claude-opus-4":     true,
	"claude-sonnet-4-5": true,
	"claude-sonnet-4":   true,
	"claude-haiku-4-5":  true,
	"claude-3-7-sonnet": true,
	"claude-3-5-sonnet": true,
	"claude-3-5-haiku":  true,
	"claude-3-opus":     true,
	"claude-3-haiku":    true,
	"gpt-5":             true,
	"gpt-5-mini":        true,
	"gpt-5-nano":        true,
	"gpt-4.1":           true,
	"gpt-4.1-mini":      true,
	"o3":                true,
	"o4-mini":           true,
	"gemini-2.5-pro":    true,
	"gemini-2.5-flash":  true,
}

var (
	// Bedrock appends a "-v<major>:<minor>" version tag, e.g.
	// anthropic.claude-sonnet-4-20250514-v1:0
	versionTagRe = regexp.MustCompile(`-v\d+:\d+$`)
	dateSuffixRe = regexp.MustCompile(`^(.*)-(\d{8})$`)
)

// Normalize returns the canonical pricing-table key for a raw model
// identifier. It is deterministic, never fails, and is idempotent: at worst
// it returns the trimmed input unchanged.
func Normalize(raw string, provider model.Provider) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return name
	}

	switch provider {
	case model.ProviderAnthropic:
		name = stripVendorPrefix(name, "anthropic")
		name = collapseDottedPrefix(name)
		name = versionTagRe.ReplaceAllString(name, "")
		// Vertex writes date markers as claude-sonnet-4@20250514
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i] + "-" + name[i+1:]
		}
		name = stripDateSuffix(name)
	case model.ProviderOpenAI:
		name = stripVendorPrefix(name, "openai")
		name = stripToolSuffix(name, "-codex")
		name = stripDateSuffix(name)
	}

	return name
}

// stripVendorPrefix removes a literal "<vendor>/" or "<vendor>." path prefix.
func stripVendorPrefix(name, vendor string) string {
	if rest, ok := strings.CutPrefix(name, vendor+"/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(name, vendor+"."); ok {
		return rest
	}
	return name
}

// collapseDottedPrefix handles Bedrock cross-region identifiers like
// us.anthropic.claude-sonnet-4-20250514-v1:0 by taking the last dot-separated
// segment that itself looks like a model name.
func collapseDottedPrefix(name string) string {
	if !strings.Contains(name, ".") {
		return name
	}
	parts := strings.Split(name, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if looksLikeModelName(parts[i]) {
			return parts[i]
		}
	}
	return name
}

func looksLikeModelName(s string) bool {
	return strings.HasPrefix(s, "claude-") || strings.HasPrefix(s, "gpt-")
}

// stripDateSuffix removes a trailing -YYYYMMDD marker, but only when the
// remaining base name is a known canonical model.
func stripDateSuffix(name string) string {
	m := dateSuffixRe.FindStringSubmatch(name)
	if m == nil {
		return name
	}
	if canonicalModels[m[1]] {
		return m[1]
	}
	return name
}

// stripToolSuffix removes a tool marker such as "-codex" under the same
// allow-list discipline as date stripping.
func stripToolSuffix(name, suffix string) string {
	base, ok := strings.CutSuffix(name, suffix)
	if ok && canonicalModels[base] {
		return base
	}
	return name
}
