package logcat

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// threadtime matches `logcat -v threadtime` output:
//
//	MM-DD HH:MM:SS.mmm  PID  TID L Tag: message
var threadtime = regexp.MustCompile(`^(\d{2}-\d{2}\s\d{2}:\d{2}:\d{2}\.\d{3})\s+(\d+)\s+(\d+)\s+([A-Z])\s+(.*?):\s+(.*)$`)

// Parse turns one logcat line (without its trailing newline) into a Record.
// It never fails: lines outside the threadtime grammar come back with only
// Raw and Message set and Level defaulted to I.
func Parse(line string) Record {
	if m := threadtime.FindStringSubmatch(line); m != nil {
		if level, ok := ParseLevel(m[4]); ok {
			return Record{
				ID:        uuid.NewString(),
				Raw:       line,
				Timestamp: m[1],
				PID:       m[2],
				TID:       m[3],
				Level:     level,
				Tag:       strings.TrimSpace(m[5]),
				Message:   m[6],
			}
		}
	}
	return fallback(line)
}

func fallback(line string) Record {
	return Record{
		ID:      uuid.NewString(),
		Raw:     line,
		Level:   LevelInfo,
		Message: line,
	}
}
