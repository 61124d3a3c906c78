package logcat

import "strings"

// Level is a logcat priority letter.
type Level string

const (
	LevelVerbose Level = "V"
	LevelDebug   Level = "D"
	LevelInfo    Level = "I"
	LevelWarn    Level = "W"
	LevelError   Level = "E"
	LevelFatal   Level = "F"
)

// Levels lists every level in ascending severity.
var Levels = []Level{LevelVerbose, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal}

// Ordinal returns the severity rank of l, or -1 for an unknown level.
func (l Level) Ordinal() int {
	for i, lv := range Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l.Ordinal() >= 0
}

// ParseLevel accepts a level letter or name (case-insensitive).
// "A" (assert) maps to F. ok is false for anything else.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "V", "VERBOSE":
		return LevelVerbose, true
	case "D", "DEBUG":
		return LevelDebug, true
	case "I", "INFO":
		return LevelInfo, true
	case "W", "WARN", "WARNING":
		return LevelWarn, true
	case "E", "ERROR":
		return LevelError, true
	case "F", "FATAL", "A", "ASSERT":
		return LevelFatal, true
	}
	return "", false
}

// Record is a single parsed logcat line. Records are values and never
// mutated after Parse returns them.
type Record struct {
	ID        string `json:"id"`
	Raw       string `json:"raw"`
	Timestamp string `json:"timestamp"`
	PID       string `json:"pid"`
	TID       string `json:"tid"`
	Level     Level  `json:"level"`
	Tag       string `json:"tag"`
	Message   string `json:"message"`
}

// Structured reports whether the record was produced by the threadtime grammar.
func (r Record) Structured() bool {
	return r.Timestamp != ""
}
