package consolidate

import (
	"fmt"
	"strings"
)

// Deduction is one entry in an entity's declarative quality table. Every
// point lost is auditable: when Applies returns true, Points are deducted
// and Flag is appended to the record's quality flags.
type Deduction struct {
	Flag    string
	Points  float64
	Applies func(c *Consolidated, bySource map[string][]SourceRecord) bool
}

// scoreQuality starts at 1.00, applies the deduction table, and clamps to
// [0.00, 1.00]. Flags are emitted in table order.
func scoreQuality(table []Deduction, c *Consolidated, bySource map[string][]SourceRecord) (float64, []string) {
	score := 1.0
	var flags []string
	for _, d := range table {
		if d.Applies == nil || !d.Applies(c, bySource) {
			continue
		}
		score -= d.Points
		flags = append(flags, d.Flag)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, flags
}

// MissingField deducts when the merged output lacks a value for the field.
func MissingField(field string, points float64) Deduction {
	return Deduction{
		Flag:   "missing_" + field,
		Points: points,
		Applies: func(c *Consolidated, _ map[string][]SourceRecord) bool {
			v, ok := c.Fields[field]
			return !ok || isEmpty(v)
		},
	}
}

// MissingSource deducts when the named source contributed no records.
func MissingSource(source string, points float64) Deduction {
	return Deduction{
		Flag:   "no_" + source + "_record",
		Points: points,
		Applies: func(_ *Consolidated, bySource map[string][]SourceRecord) bool {
			return len(bySource[source]) == 0
		},
	}
}

// FieldMismatch deducts when two sources both carry the field and their
// values differ after case-insensitive whitespace-normalized comparison.
func FieldMismatch(field, sourceA, sourceB string, points float64) Deduction {
	return Deduction{
		Flag:   fmt.Sprintf("%s_mismatch_%s_%s", field, sourceA, sourceB),
		Points: points,
		Applies: func(_ *Consolidated, bySource map[string][]SourceRecord) bool {
			a, okA := firstValue(bySource[sourceA], field)
			b, okB := firstValue(bySource[sourceB], field)
			if !okA || !okB {
				return false
			}
			return normalizeCompare(a) != normalizeCompare(b)
		},
	}
}

// firstValue returns the first non-empty value of field across a source's
// ordered records.
func firstValue(recs []SourceRecord, field string) (any, bool) {
	for _, rec := range recs {
		if v, ok := rec.Fields[field]; ok && !isEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

func normalizeCompare(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case *string:
		if t != nil {
			s = *t
		}
	default:
		s = fmt.Sprint(v)
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
