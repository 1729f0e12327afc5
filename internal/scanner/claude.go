package scanner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/zhaobenny/agenttop/internal/model"
)

// claudeLine is the raw JSON structure of a Claude Code JSONL line. Only
// assistant messages carry usage data.
type claudeLine struct {
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	SessionID string   `json:"sessionId"`
	RequestID string   `json:"requestId"`
	CostUSD   *float64 `json:"costUSD"`
	Message   struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// claudeFormat parses message-oriented logs: every qualifying line is a
// self-contained usage event, so no state is carried between byte ranges.
type claudeFormat struct{}

var (
	claudeKindMarker  = []byte(`"assistant"`)
	claudeUsageMarker = []byte(`"usage"`)
)

func (claudeFormat) parse(s *Scanner, r io.Reader, _ *carried) []model.UsageEvent {
	var events []model.UsageEvent

	// Streaming writes the same message several times with growing partial
	// output; the first line for a (message id, request id) pair carries the
	// final counts in this format, so later lines for the same pair are
	// discarded. The set is scoped to this byte range only.
	seen := make(map[string]bool)

	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		// Cheap pre-filter before attempting a structured parse.
		if !bytes.Contains(line, claudeKindMarker) || !bytes.Contains(line, claudeUsageMarker) {
			continue
		}
		s.linesParsed++

		var raw claudeLine
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		if raw.Type != "assistant" {
			continue
		}
		if raw.Message.Model == "" || raw.Message.Model == "<synthetic>" {
			continue
		}

		usage := model.TokenUsage{
			InputTokens:         raw.Message.Usage.InputTokens,
			OutputTokens:        raw.Message.Usage.OutputTokens,
			CacheReadTokens:     raw.Message.Usage.CacheReadInputTokens,
			CacheCreationTokens: raw.Message.Usage.CacheCreationInputTokens,
		}
		if usage.IsZero() {
			continue
		}

		ts, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			continue
		}

		if raw.Message.ID != "" && raw.RequestID != "" {
			key := raw.Message.ID + ":" + raw.RequestID
			if seen[key] {
				continue
			}
			seen[key] = true
		}

		events = append(events, model.UsageEvent{
			Timestamp: ts,
			DayKey:    ts.Local().Format("2006-01-02"),
			SessionID: raw.SessionID,
			Model:     raw.Message.Model,
			Usage:     usage,
			CostUSD:   raw.CostUSD,
		})
	}

	return events
}
