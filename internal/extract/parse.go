package extract

import (
	"strconv"
	"strings"
	"time"
)

// dateFormats is the ordered list of layouts tried by ParseDate. Sources
// disagree on date encoding; the list covers every format observed across
// the integrated systems.
var dateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate tries each known layout in order and returns nil when none
// match. Extraction never raises on a bad date; the change detector treats
// nil modification times as "include".
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// ParseDecimal parses a decimal that may carry currency symbols, thousands
// separators, or accounting-style parentheses for negatives. Returns nil
// on total failure.
func ParseDecimal(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if negative {
		v = -v
	}
	return &v
}

// ParseInt parses an integer field, returning nil on failure.
func ParseInt(s string) *int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// ParseBoolYN returns true for "Y"/"yes"/"true" (case-insensitive).
func ParseBoolYN(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1":
		return true
	default:
		return false
	}
}
