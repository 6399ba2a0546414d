package source

import (
	"strconv"
	"strings"
	"time"
)

// NormCol lowercases and trims a header cell for cross-format column
// matching, stripping the UTF-8 BOM some exports prepend to the first
// cell. It is the one canonical column normalization: the aggregator and
// dataset renderer look summary keys up through it so declared names and
// loaded payload keys can never drift apart.
func NormCol(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	return strings.ToLower(strings.TrimSpace(s))
}

// mapColumns builds a normalized column name → index map, applying the
// declared renames so downstream code only ever sees canonical names.
func mapColumns(header []string, rename map[string]string) map[string]int {
	renamed := make(map[string]string, len(rename))
	for from, to := range rename {
		renamed[NormCol(from)] = NormCol(to)
	}
	m := make(map[string]int, len(header))
	for i, col := range header {
		name := NormCol(col)
		if to, ok := renamed[name]; ok {
			name = to
		}
		m[name] = i
	}
	return m
}

// rowKey assembles a record's dedupe key from the declared key columns.
// Every part must carry a value; composite parts are joined with a unit
// separator so "a"+"bc" and "ab"+"c" stay distinct keys.
func rowKey(record []string, colIdx map[string]int, keyCols []string) (string, bool) {
	parts := make([]string, len(keyCols))
	for i, col := range keyCols {
		v := getCol(record, colIdx, col)
		if v == "" {
			return "", false
		}
		parts[i] = v
	}
	return strings.Join(parts, "\x1f"), true
}

// getCol gets a trimmed column value by normalized name.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[NormCol(name)]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// NormCell canonicalizes a cell for equality matching: trims, strips
// surrounding quotes, lowercases, collapses float-formatted integers
// ("1.0" → "1"), and folds boolean words onto the numeric encoding
// ("true" → "1", "false" → "0"). Upstream jobs export the same flag as
// 1/0, 1.0/0.0, or true/false depending on which store produced the
// extract, and all of them must match one declared value.
func NormCell(s string) string {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), `"`))
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if n := int64(f); float64(n) == f {
				s = strconv.FormatInt(n, 10)
			}
		}
	}
	switch s {
	case "true":
		return "1"
	case "false":
		return "0"
	}
	return s
}

// timeLayouts covers the formats the upstream exporters actually emit:
// RFC 3339 from the event store, space-separated Postgres timestamps with
// optional fraction and offset, and bare dates.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTime parses a timestamp cell against the known layouts.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sanitizeUTF8 drops invalid byte sequences (Latin-1 leftovers) so values
// can reach Postgres unrejected.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
