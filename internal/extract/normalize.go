// Package extract projects raw source documents into normalized typed
// fields. Everything downstream of this package works with typed values;
// raw JSON is never re-interpreted past the bronze boundary.
package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormString trims, NFC-normalizes, and collapses internal whitespace.
// Returns nil for values that normalize to empty, so "", "  ", and absent
// all land as null downstream.
func NormString(s string) *string {
	cleaned := norm.NFC.String(strings.TrimSpace(s))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// NormLower normalizes like NormString and lowercases. Used for
// case-insensitive cross-source comparisons (e.g., name mismatch checks).
func NormLower(s string) *string {
	p := NormString(s)
	if p == nil {
		return nil
	}
	lowered := strings.ToLower(*p)
	return &lowered
}

// StringValue dereferences a normalized string, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Field pulls a string-typed field out of a raw document, tolerating
// missing keys and non-string values. Non-string scalars are ignored
// rather than coerced; sources that encode numbers as strings get them
// through ParseDecimal instead.
func Field(doc map[string]any, key string) string {
	v, ok := doc[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// IntField pulls an integer field out of a raw document. JSON decoding
// delivers numbers as float64; ints and numeric strings are accepted too.
func IntField(doc map[string]any, key string) *int {
	v, ok := doc[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case float64:
		n := int(t)
		return &n
	case int:
		n := t
		return &n
	case int64:
		n := int(t)
		return &n
	case string:
		return ParseInt(t)
	default:
		return nil
	}
}

// StringList pulls a list-of-strings field out of a raw document. JSON
// decoding yields []any; both that and []string are accepted.
func StringList(doc map[string]any, key string) []string {
	v, ok := doc[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
