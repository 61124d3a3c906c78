package logcat

import "strings"

// Filter derives the visible view of records: entries below minLevel are
// dropped, then, if search is non-blank, only entries whose tag or message
// contains it case-insensitively are kept. The search text is matched as
// typed, surrounding spaces included. Order is preserved and the input slice
// is never modified. An empty or unknown minLevel keeps every level.
func Filter(records []Record, minLevel Level, search string) []Record {
	floor := minLevel.Ordinal()
	needle := ""
	if strings.TrimSpace(search) != "" {
		needle = strings.ToLower(search)
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if floor > 0 && r.Level.Ordinal() < floor {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Tag), needle) &&
			!strings.Contains(strings.ToLower(r.Message), needle) {
			continue
		}
		out = append(out, r)
	}
	return out
}
