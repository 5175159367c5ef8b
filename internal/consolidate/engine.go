package consolidate

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/lsa-ts/orgsync/internal/detect"
)

// Merge consolidates the source records sharing one business key according
// to the entity's merge Spec. It is pure and independent of input ordering:
// records are
// grouped by declared source name and ordered by their Seq within each
// source before any rule runs, so Merge({A,B}) == Merge({B,A}).
func Merge(spec Spec, businessKey string, records []SourceRecord) (*Consolidated, error) {
	if len(records) == 0 {
		return nil, eris.Errorf("consolidate: no source records for %s %q", spec.EntityType, businessKey)
	}

	bySource := groupBySource(records)

	out := &Consolidated{
		EntityType:  spec.EntityType,
		BusinessKey: businessKey,
		Fields:      make(map[string]any, len(spec.Rules)+1),
		Sources:     sourceNames(bySource),
	}
	if spec.BusinessKeyField != "" {
		out.Fields[spec.BusinessKeyField] = businessKey
	}

	for _, rule := range spec.Rules {
		v := applyRule(rule, businessKey, bySource)
		if v != nil {
			out.Fields[rule.Field] = v
		}
	}

	score, flags := scoreQuality(spec.Quality, out, bySource)
	out.QualityScore = score
	out.QualityFlags = flags

	hash, err := detect.EntityHash(detect.SelectSignificant(out.Fields, spec.SignificantFields))
	if err != nil {
		return nil, eris.Wrapf(err, "consolidate: hash %s %q", spec.EntityType, businessKey)
	}
	out.Hash = hash

	return out, nil
}

// groupBySource buckets records by source and orders each bucket by Seq
// (ties broken by natural key) so downstream iteration is deterministic
// regardless of arrival order.
func groupBySource(records []SourceRecord) map[string][]SourceRecord {
	bySource := make(map[string][]SourceRecord)
	for _, r := range records {
		bySource[r.Source] = append(bySource[r.Source], r)
	}
	for src := range bySource {
		recs := bySource[src]
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].Seq != recs[j].Seq {
				return recs[i].Seq < recs[j].Seq
			}
			return recs[i].NaturalKey < recs[j].NaturalKey
		})
	}
	return bySource
}

// sourceNames returns the contributing sources, sorted. The set is never
// empty because Merge rejects empty input.
func sourceNames(bySource map[string][]SourceRecord) []string {
	names := make([]string, 0, len(bySource))
	for src := range bySource {
		names = append(names, src)
	}
	sort.Strings(names)
	return names
}

func applyRule(rule FieldRule, businessKey string, bySource map[string][]SourceRecord) any {
	switch rule.Kind {
	case Priority:
		return applyPriority(rule, businessKey, bySource)
	case SourceExclusive:
		return applyExclusive(rule, bySource)
	case Union:
		return applyUnion(rule, bySource)
	case AggregateByRecord:
		return applyAggregate(rule, bySource)
	default:
		return nil
	}
}

// applyPriority returns the first non-empty value walking the declared
// source list; within a source, records are consulted in Seq order.
func applyPriority(rule FieldRule, businessKey string, bySource map[string][]SourceRecord) any {
	field := rule.inputField()
	for _, src := range rule.Sources {
		for _, rec := range bySource[src] {
			if v, ok := rec.Fields[field]; ok && !isEmpty(v) {
				return v
			}
		}
	}
	if rule.Fallback != nil {
		return rule.Fallback(businessKey)
	}
	return nil
}

// applyExclusive reads the field from the single declared source only,
// even when other sources carry a value under the same name.
func applyExclusive(rule FieldRule, bySource map[string][]SourceRecord) any {
	if len(rule.Sources) == 0 {
		return nil
	}
	field := rule.inputField()
	for _, rec := range bySource[rule.Sources[0]] {
		if v, ok := rec.Fields[field]; ok && !isEmpty(v) {
			return v
		}
	}
	return nil
}

// applyUnion concatenates list values across the declared sources in
// order and deduplicates, keeping first occurrence.
func applyUnion(rule FieldRule, bySource map[string][]SourceRecord) any {
	field := rule.inputField()
	seen := make(map[string]bool)
	var out []string
	for _, src := range rule.Sources {
		for _, rec := range bySource[src] {
			for _, item := range toStringList(rec.Fields[field]) {
				if item == "" || seen[item] {
					continue
				}
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// applyAggregate projects one output array across the declared source's
// records, preserving that source's own ordering. Empty values are kept as
// nil entries so parallel aggregate fields stay index-aligned.
func applyAggregate(rule FieldRule, bySource map[string][]SourceRecord) any {
	if len(rule.Sources) == 0 {
		return nil
	}
	recs := bySource[rule.Sources[0]]
	if len(recs) == 0 {
		return nil
	}
	field := rule.inputField()
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		v := rec.Fields[field]
		if isEmpty(v) {
			out = append(out, nil)
		} else {
			out = append(out, v)
		}
	}
	return out
}

func toStringList(v any) []string {
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
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}
