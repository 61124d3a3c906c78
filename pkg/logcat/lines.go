package logcat

import (
	"bytes"
	"strings"
	"sync"
)

// lineSplitter turns arbitrarily sized chunks into complete lines. A trailing
// fragment is held until a later chunk terminates it.
type lineSplitter struct {
	partial []byte
}

// Feed appends chunk and returns every line it completed, without line
// endings. Blank lines are dropped.
func (s *lineSplitter) Feed(chunk []byte) []string {
	var lines []string
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			s.partial = append(s.partial, chunk...)
			break
		}
		var line string
		if len(s.partial) > 0 {
			s.partial = append(s.partial, chunk[:i]...)
			line = string(s.partial)
			s.partial = s.partial[:0]
		} else {
			line = string(chunk[:i])
		}
		chunk = chunk[i+1:]

		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Rest returns and clears the unterminated fragment, if it holds anything
// other than whitespace.
func (s *lineSplitter) Rest() string {
	rest := strings.TrimSuffix(string(s.partial), "\r")
	s.partial = nil
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest
}

// tailWriter keeps the last few lines written to it. It captures the
// stream's stderr for error reporting.
type tailWriter struct {
	mu    sync.Mutex
	max   int
	split lineSplitter
	lines []string
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, w.split.Feed(p)...)
	if len(w.lines) > w.max {
		w.lines = w.lines[len(w.lines)-w.max:]
	}
	return len(p), nil
}

// String returns the captured lines joined by "; ", including any
// unterminated fragment.
func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := w.lines
	if rest := strings.TrimSpace(string(w.split.partial)); rest != "" {
		lines = append(lines[:len(lines):len(lines)], rest)
	}
	return strings.Join(lines, "; ")
}
