// Package consolidate merges per-source typed records sharing a business
// key into one canonical record. Merge behavior is declared per output
// field; one generic engine interprets the declarations for every entity
// type, so adding an entity never means copying merge code.
package consolidate

import (
	"time"
)

// RuleKind selects how an output field is populated from source records.
type RuleKind int

const (
	// Priority takes the first non-empty value from an ordered source list.
	Priority RuleKind = iota

	// SourceExclusive populates the field from exactly one named source.
	SourceExclusive

	// Union concatenates list values across sources and deduplicates.
	Union

	// AggregateByRecord projects one output array per field across a
	// single source's multiple records, preserving that source's own
	// record ordering.
	AggregateByRecord
)

// FieldRule declares how one output field merges.
type FieldRule struct {
	// Field is the output field name.
	Field string

	// Kind selects the merge behavior.
	Kind RuleKind

	// Sources is the ordered list of source names consulted. Priority
	// tries them in order; SourceExclusive and AggregateByRecord use only
	// the first entry; Union concatenates in declared order.
	Sources []string

	// From optionally names the input field when it differs from Field.
	From string

	// Fallback optionally supplies a value when every source is empty.
	// Receives the business key (e.g., "name falls back to the key").
	Fallback func(businessKey string) any
}

// inputField returns the source-side field name for the rule.
func (r FieldRule) inputField() string {
	if r.From != "" {
		return r.From
	}
	return r.Field
}

// SourceRecord is one typed per-source projection feeding the merge.
type SourceRecord struct {
	Source      string         `json:"source"`
	NaturalKey  string         `json:"natural_key"`
	BusinessKey string         `json:"business_key"`
	Seq         int            `json:"seq"` // ordering within the source (e.g., employment record number)
	Fields      map[string]any `json:"fields"`
	Hash        string         `json:"hash"`
	RawID       int64          `json:"raw_id"`
}

// Consolidated is the canonical merged record.
type Consolidated struct {
	EntityType   string         `json:"entity_type"`
	BusinessKey  string         `json:"business_key"`
	Fields       map[string]any `json:"fields"`
	Sources      []string       `json:"sources"`
	QualityScore float64        `json:"data_quality_score"`
	QualityFlags []string       `json:"quality_flags"`
	Hash         string         `json:"entity_hash"`
	RunID        string         `json:"ingestion_run_id"`
}

// Spec is the full merge declaration for one entity type.
type Spec struct {
	EntityType string

	// BusinessKeyField names the output field carrying the business key.
	BusinessKeyField string

	// Rules, applied in declared order.
	Rules []FieldRule

	// Quality is the deduction table interpreted by the scorer.
	Quality []Deduction

	// SignificantFields are the output fields covered by the entity hash.
	SignificantFields []string
}

// isEmpty reports whether a merged input value counts as "no value" for
// priority selection.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case *string:
		return t == nil || *t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case *float64:
		return t == nil
	case *int:
		return t == nil
	case *time.Time:
		return t == nil
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
