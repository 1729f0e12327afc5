package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func claudeLineJSON(ts, msgID, reqID, modelName string, in, out int64) string {
	return fmt.Sprintf(`{"type":"assistant","timestamp":"%s","sessionId":"sess-1","requestId":"%s","message":{"id":"%s","model":"%s","usage":{"input_tokens":%d,"output_tokens":%d,"cache_creation_input_tokens":0,"cache_read_input_tokens":0}}}`,
		ts, reqID, msgID, modelName, in, out)
}

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func newClaudeScanner(roots ...string) *Scanner {
	return newScanner(roots, claudeFormat{}, zerolog.Nop())
}

func TestClaude_BasicParse(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "proj", "session.jsonl"),
		claudeLineJSON("2025-06-01T10:00:00Z", "msg_1", "req_1", "claude-sonnet-4-5", 100, 50)+"\n")

	s := newClaudeScanner(dir)
	events := s.Scan()

	require.Len(t, events, 1)
	require.Equal(t, "claude-sonnet-4-5", events[0].Model)
	require.Equal(t, int64(100), events[0].Usage.InputTokens)
	require.Equal(t, int64(50), events[0].Usage.OutputTokens)
	require.Equal(t, "sess-1", events[0].SessionID)
}

func TestClaude_SkipsNonQualifyingLines(t *testing.T) {
	dir := t.TempDir()
	lines := "not json at all\n" +
		`{"type":"user","message":{"content":"hi"}}` + "\n" +
		// placeholder model
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"model":"<synthetic>","usage":{"input_tokens":5,"output_tokens":5}}}` + "\n" +
		// all-zero usage
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":0,"output_tokens":0}}}` + "\n" +
		claudeLineJSON("2025-06-01T10:00:00Z", "msg_1", "req_1", "claude-sonnet-4-5", 10, 20) + "\n"
	writeLog(t, filepath.Join(dir, "a.jsonl"), lines)

	s := newClaudeScanner(dir)
	events := s.Scan()
	require.Len(t, events, 1)
	require.Equal(t, int64(10), events[0].Usage.InputTokens)
}

// Three lines sharing one (message id, request id) pair collapse to a single
// event carrying the first line's counts.
func TestClaude_DedupFirstWins(t *testing.T) {
	dir := t.TempDir()
	lines := claudeLineJSON("2025-06-01T10:00:00Z", "msg_1", "req_1", "claude-sonnet-4-5", 100, 40) + "\n" +
		claudeLineJSON("2025-06-01T10:00:01Z", "msg_1", "req_1", "claude-sonnet-4-5", 100, 10) + "\n" +
		claudeLineJSON("2025-06-01T10:00:02Z", "msg_1", "req_1", "claude-sonnet-4-5", 100, 20) + "\n"
	writeLog(t, filepath.Join(dir, "a.jsonl"), lines)

	events := newClaudeScanner(dir).Scan()
	require.Len(t, events, 1)
	require.Equal(t, int64(40), events[0].Usage.OutputTokens)
}

// Entries lacking either id are never deduplicated.
func TestClaude_NoIDsAllRetained(t *testing.T) {
	dir := t.TempDir()
	lines := claudeLineJSON("2025-06-01T10:00:00Z", "", "", "claude-sonnet-4-5", 10, 10) + "\n" +
		claudeLineJSON("2025-06-01T10:00:00Z", "", "", "claude-sonnet-4-5", 10, 10) + "\n"
	writeLog(t, filepath.Join(dir, "a.jsonl"), lines)

	events := newClaudeScanner(dir).Scan()
	require.Len(t, events, 2)
}

func TestClaude_PrecomputedCostPassthrough(t *testing.T) {
	dir := t.TempDir()
	line := `{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","costUSD":0.42,"message":{"id":"m","model":"claude-sonnet-4-5","usage":{"input_tokens":10,"output_tokens":10}}}` + "\n"
	writeLog(t, filepath.Join(dir, "a.jsonl"), line)

	events := newClaudeScanner(dir).Scan()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].CostUSD)
	require.InDelta(t, 0.42, *events[0].CostUSD, 1e-12)
}

// Scanning after writing fragment 1 then appending fragment 2 yields the same
// event set as scanning the fully concatenated file once from scratch.
func TestClaude_IncrementalEqualsFull(t *testing.T) {
	frag1 := claudeLineJSON("2025-06-01T10:00:00Z", "msg_1", "req_1", "claude-sonnet-4-5", 100, 40) + "\n" +
		claudeLineJSON("2025-06-01T10:01:00Z", "msg_2", "req_2", "claude-sonnet-4-5", 200, 80) + "\n"
	frag2 := claudeLineJSON("2025-06-01T10:02:00Z", "msg_3", "req_3", "claude-opus-4-5", 300, 120) + "\n"

	incDir := t.TempDir()
	incPath := filepath.Join(incDir, "a.jsonl")
	writeLog(t, incPath, frag1)

	inc := newClaudeScanner(incDir)
	first := inc.Scan()
	require.Len(t, first, 2)

	appendLog(t, incPath, frag2)
	incremental := inc.Scan()

	fullDir := t.TempDir()
	writeLog(t, filepath.Join(fullDir, "a.jsonl"), frag1+frag2)
	full := newClaudeScanner(fullDir).Scan()

	require.ElementsMatch(t, full, incremental)
}

// A second scan with no file change returns identical events and parses no
// additional lines.
func TestClaude_CacheHitPurity(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "a.jsonl"),
		claudeLineJSON("2025-06-01T10:00:00Z", "msg_1", "req_1", "claude-sonnet-4-5", 100, 40)+"\n")

	s := newClaudeScanner(dir)
	first := s.Scan()
	parsed := s.linesParsed

	second := s.Scan()
	require.Equal(t, first, second)
	require.Equal(t, parsed, s.linesParsed, "cache hit must not re-parse lines")
}

// A file that shrank is treated as replaced: state resets and the file is
// re-parsed from byte zero.
func TestClaude_ShrunkFileReparsed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeLog(t, path,
		claudeLineJSON("2025-06-01T10:00:00Z", "msg_1", "req_1", "claude-sonnet-4-5", 100, 40)+"\n"+
			claudeLineJSON("2025-06-01T10:01:00Z", "msg_2", "req_2", "claude-sonnet-4-5", 200, 80)+"\n")

	s := newClaudeScanner(dir)
	require.Len(t, s.Scan(), 2)

	writeLog(t, path, claudeLineJSON("2025-06-02T09:00:00Z", "msg_9", "req_9", "claude-opus-4-5", 7, 7)+"\n")
	events := s.Scan()
	require.Len(t, events, 1)
	require.Equal(t, "claude-opus-4-5", events[0].Model)
}

// State of a vanished file is dropped; its events disappear from the scan.
func TestClaude_GoneFileDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeLog(t, path, claudeLineJSON("2025-06-01T10:00:00Z", "msg_1", "req_1", "claude-sonnet-4-5", 1, 1)+"\n")

	s := newClaudeScanner(dir)
	require.Len(t, s.Scan(), 1)

	require.NoError(t, os.Remove(path))
	require.Empty(t, s.Scan())
	require.Empty(t, s.states)
}

func TestClaude_HiddenEntriesSkipped(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, ".hidden", "a.jsonl"),
		claudeLineJSON("2025-06-01T10:00:00Z", "m", "r", "claude-sonnet-4-5", 1, 1)+"\n")
	writeLog(t, filepath.Join(dir, ".secret.jsonl"),
		claudeLineJSON("2025-06-01T10:00:00Z", "m", "r", "claude-sonnet-4-5", 1, 1)+"\n")
	writeLog(t, filepath.Join(dir, "visible.jsonl"),
		claudeLineJSON("2025-06-01T10:00:00Z", "m", "r", "claude-sonnet-4-5", 1, 1)+"\n")

	events := newClaudeScanner(dir).Scan()
	require.Len(t, events, 1)
}

func TestClaude_MissingRootIsNotAnError(t *testing.T) {
	s := newClaudeScanner(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Empty(t, s.Scan())
}

func TestRootOverrides(t *testing.T) {
	t.Setenv("CLAUDE_CONFIG_DIR", "/tmp/claude-a,/tmp/claude-b/projects")
	roots := claudeRoots()
	require.Equal(t, []string{
		filepath.Join("/tmp/claude-a", "projects"),
		"/tmp/claude-b/projects",
	}, roots)

	t.Setenv("CODEX_HOME", " /tmp/codex , ")
	require.Equal(t, []string{filepath.Join("/tmp/codex", "sessions")}, codexRoots())
}

func TestRootDefaults(t *testing.T) {
	t.Setenv("CLAUDE_CONFIG_DIR", "")
	t.Setenv("HOME", "/home/someone")
	require.Equal(t, []string{
		"/home/someone/.claude/projects",
		"/home/someone/.config/claude/projects",
	}, claudeRoots())

	t.Setenv("CODEX_HOME", "")
	require.Equal(t, []string{"/home/someone/.codex/sessions"}, codexRoots())
}
