// Package scanner incrementally extracts usage events from the JSONL logs
// written by Claude Code and Codex CLI. Each scanner keeps per-file resume
// state so unchanged files cost one stat and grown files are read only from
// the previously consumed byte offset.
package scanner

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zhaobenny/agenttop/internal/model"
)

// carried is the non-trivial resume state of counter-oriented files: the
// model name in effect and the last cumulative totals seen, both needed to
// interpret the next lines of the same file. Message-oriented files are
// stateless per line and never touch it.
type carried struct {
	model string
	prev  model.TokenUsage
}

// fileState tracks one observed log file across scan passes.
type fileState struct {
	size    int64
	modTime time.Time
	offset  int64 // bytes consumed so far; monotone unless the file was replaced
	events  []model.UsageEvent
	carried carried
}

// format parses one byte range of a log file. st carries format-specific
// resume state across incremental ranges of the same file.
type format interface {
	parse(s *Scanner, r io.Reader, st *carried) []model.UsageEvent
}

// Scanner walks a set of root directories and returns the usage events of
// every eligible log file, using cached per-file state to avoid re-reading
// unchanged content. It is not safe for concurrent use; the ingestion driver
// calls Scan from a single goroutine.
type Scanner struct {
	roots  []string
	states map[string]*fileState
	format format
	log    zerolog.Logger

	// warn throttles malformed-line logging so one corrupt file cannot
	// flood the log.
	warn *rate.Limiter

	// linesParsed counts lines handed to the line parser, across all files.
	linesParsed int64
}

// NewClaude returns a scanner for Claude Code project logs. With no explicit
// roots it resolves them from CLAUDE_CONFIG_DIR or the default locations.
func NewClaude(log zerolog.Logger, roots ...string) *Scanner {
	if len(roots) == 0 {
		roots = claudeRoots()
	}
	return newScanner(roots, claudeFormat{}, log.With().Str("scanner", "claude").Logger())
}

// NewCodex returns a scanner for Codex CLI session logs. With no explicit
// roots it resolves them from CODEX_HOME or the default location.
func NewCodex(log zerolog.Logger, roots ...string) *Scanner {
	if len(roots) == 0 {
		roots = codexRoots()
	}
	return newScanner(roots, codexFormat{}, log.With().Str("scanner", "codex").Logger())
}

func newScanner(roots []string, f format, log zerolog.Logger) *Scanner {
	return &Scanner{
		roots:  roots,
		states: make(map[string]*fileState),
		format: f,
		log:    log,
		warn:   rate.NewLimiter(rate.Every(time.Minute), 5),
	}
}

// Scan walks the roots and returns all currently known usage events. Files
// that vanished since the previous pass have their state dropped. Transient
// I/O faults skip the affected file and never fail the scan.
func (s *Scanner) Scan() []model.UsageEvent {
	files := s.discover()

	seen := make(map[string]bool, len(files))
	var events []model.UsageEvent
	for _, path := range files {
		seen[path] = true
		events = append(events, s.scanFile(path)...)
	}

	for path := range s.states {
		if !seen[path] {
			delete(s.states, path)
		}
	}

	return events
}

// scanFile returns the event list for one file, reading only what changed
// since the previous pass.
func (s *Scanner) scanFile(path string) []model.UsageEvent {
	info, err := os.Stat(path)
	if err != nil {
		// Vanished between discovery and stat; state is dropped by Scan.
		return nil
	}

	st := s.states[path]

	// Unchanged file: the cached events are still authoritative.
	if st != nil && info.Size() == st.size && info.ModTime().Equal(st.modTime) {
		return st.events
	}

	// Grown file with a usable offset: parse only the appended byte range.
	if st != nil && info.Size() > st.size && st.offset > 0 && st.offset <= info.Size() {
		f, err := os.Open(path)
		if err != nil {
			return st.events
		}
		defer f.Close()

		if _, err := f.Seek(st.offset, io.SeekStart); err == nil {
			fresh := s.format.parse(s, io.LimitReader(f, info.Size()-st.offset), &st.carried)
			st.events = append(st.events, fresh...)
			st.size = info.Size()
			st.modTime = info.ModTime()
			st.offset = info.Size()
			return st.events
		}
	}

	// New, shrunk or otherwise reset file: full re-parse from byte 0.
	f, err := os.Open(path)
	if err != nil {
		if s.warn.Allow() {
			s.log.Warn().Err(err).Str("path", path).Msg("cannot open log file")
		}
		delete(s.states, path)
		return nil
	}
	defer f.Close()

	st = &fileState{size: info.Size(), modTime: info.ModTime(), offset: info.Size()}
	st.events = s.format.parse(s, io.LimitReader(f, info.Size()), &st.carried)
	s.states[path] = st
	return st.events
}

// discover collects every .jsonl file under the roots, recursively, skipping
// hidden entries. Missing roots are not an error.
func (s *Scanner) discover() []string {
	var files []string
	for _, root := range s.roots {
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil {
				return nil
			}
			name := info.Name()
			if strings.HasPrefix(name, ".") && path != root {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.IsDir() && filepath.Ext(path) == ".jsonl" {
				files = append(files, path)
			}
			return nil
		})
	}
	sort.Strings(files)
	return files
}

// splitRoots parses a comma-separated root override, appending subdir to each
// entry unless the entry already ends with it.
func splitRoots(value, subdir string) []string {
	var roots []string
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if filepath.Base(p) != subdir {
			p = filepath.Join(p, subdir)
		}
		roots = append(roots, p)
	}
	return roots
}

func claudeRoots() []string {
	if v := os.Getenv("CLAUDE_CONFIG_DIR"); v != "" {
		return splitRoots(v, "projects")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".claude", "projects"),
		filepath.Join(home, ".config", "claude", "projects"),
	}
}

func codexRoots() []string {
	if v := os.Getenv("CODEX_HOME"); v != "" {
		return splitRoots(v, "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".codex", "sessions")}
}
