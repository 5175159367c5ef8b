// Package detect decides which fetched documents need capturing: either by
// comparing source modification timestamps against the incremental cursor,
// or by content-hashing the declared significant fields.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Canonicalize renders the given fields as canonical JSON: object keys
// sorted, no insignificant whitespace, nil values omitted. Two payloads
// with the same logical content always canonicalize identically regardless
// of field ordering in the source document.
//
// time.Time values are rendered as RFC 3339 UTC so the same instant hashes
// the same no matter which zone the source reported it in.
func Canonicalize(fields map[string]any) ([]byte, error) {
	cleaned := canonicalValue(fields)
	b, err := json.Marshal(cleaned)
	if err != nil {
		return nil, eris.Wrap(err, "detect: canonicalize")
	}
	return b, nil
}

// canonicalValue normalizes a value tree for hashing. encoding/json already
// sorts map keys; this pass strips nils and pins time formatting.
func canonicalValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			cv := canonicalValue(val)
			if cv == nil {
				continue
			}
			out[k] = cv
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			out = append(out, canonicalValue(val))
		}
		return out
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	case *int:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}

// EntityHash returns the SHA-256 hex digest of the canonical JSON form of
// the given significant fields. Only fields the entity declaration lists as
// significant should ever be passed in; volatile fields (sync timestamps,
// counters) must be excluded by the caller.
func EntityHash(significant map[string]any) (string, error) {
	b, err := Canonicalize(significant)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SelectSignificant projects the declared significant fields out of a full
// field map. Absent and nil fields are omitted, so "missing" and "null"
// hash identically.
func SelectSignificant(fields map[string]any, significant []string) map[string]any {
	out := make(map[string]any, len(significant))
	for _, k := range significant {
		if v, ok := fields[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}
