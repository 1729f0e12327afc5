package scanner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/zhaobenny/agenttop/internal/model"
)

// defaultCodexModel is assumed when a session file never names its model.
const defaultCodexModel = "gpt-5"

// codexLine is the raw JSON envelope of a Codex CLI session line.
type codexLine struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexPayload struct {
	Type  string     `json:"type"`
	Model string     `json:"model"`
	Info  *codexInfo `json:"info"`
}

type codexInfo struct {
	Model           string      `json:"model"`
	TotalTokenUsage *codexUsage `json:"total_token_usage"`
	LastTokenUsage  *codexUsage `json:"last_token_usage"`
}

type codexUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

// codexFormat parses counter-oriented logs. token_count lines report running
// session totals, so each reading is diffed against the previous one; the
// previous totals and the model set by context lines travel in the carried
// resume state across incremental scans of the same file.
type codexFormat struct{}

var codexMarkers = [][]byte{
	[]byte(`"token_count"`),
	[]byte(`"turn_context"`),
	[]byte(`"session_meta"`),
}

func (codexFormat) parse(s *Scanner, r io.Reader, st *carried) []model.UsageEvent {
	var events []model.UsageEvent

	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || !hasCodexMarker(line) {
			continue
		}
		s.linesParsed++

		var raw codexLine
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}

		var payload codexPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			continue
		}

		switch raw.Type {
		case "session_meta", "turn_context":
			// Context lines carry no usage; they set the model for the
			// counter lines that follow.
			if payload.Model != "" {
				st.model = payload.Model
			}
			continue
		case "event_msg":
			if payload.Type != "token_count" || payload.Info == nil {
				continue
			}
		default:
			continue
		}

		var usage model.TokenUsage
		switch {
		case payload.Info.TotalTokenUsage != nil:
			// Cumulative totals: the event is the non-negative delta per
			// category against the previous reading (zero for a fresh file).
			cur := *payload.Info.TotalTokenUsage
			usage = model.TokenUsage{
				InputTokens:     deltaFloor(cur.InputTokens, st.prev.InputTokens),
				OutputTokens:    deltaFloor(cur.OutputTokens, st.prev.OutputTokens),
				CacheReadTokens: deltaFloor(cur.CachedInputTokens, st.prev.CacheReadTokens),
			}
			st.prev = model.TokenUsage{
				InputTokens:     cur.InputTokens,
				OutputTokens:    cur.OutputTokens,
				CacheReadTokens: cur.CachedInputTokens,
			}
		case payload.Info.LastTokenUsage != nil:
			// Per-turn counts are already deltas; no state to advance.
			last := *payload.Info.LastTokenUsage
			usage = model.TokenUsage{
				InputTokens:     last.InputTokens,
				OutputTokens:    last.OutputTokens,
				CacheReadTokens: last.CachedInputTokens,
			}
		default:
			continue
		}

		if usage.CacheReadTokens > usage.InputTokens {
			usage.CacheReadTokens = usage.InputTokens
		}
		if usage.IsZero() {
			continue
		}

		ts, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			continue
		}

		events = append(events, model.UsageEvent{
			Timestamp: ts,
			DayKey:    ts.Local().Format("2006-01-02"),
			Model:     codexModelFor(payload, st),
			Usage:     usage,
		})
	}

	return events
}

// codexModelFor resolves the model of a counter line: the line's own model
// field wins, then the info substructure, then the most recent context line,
// then the default.
func codexModelFor(payload codexPayload, st *carried) string {
	switch {
	case payload.Model != "":
		return payload.Model
	case payload.Info != nil && payload.Info.Model != "":
		return payload.Info.Model
	case st.model != "":
		return st.model
	default:
		return defaultCodexModel
	}
}

// deltaFloor clamps an apparent counter regression to zero.
func deltaFloor(cur, prev int64) int64 {
	if d := cur - prev; d > 0 {
		return d
	}
	return 0
}

func hasCodexMarker(line []byte) bool {
	for _, m := range codexMarkers {
		if bytes.Contains(line, m) {
			return true
		}
	}
	return false
}
