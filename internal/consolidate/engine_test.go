package consolidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personSpec() Spec {
	return Spec{
		EntityType:       "person",
		BusinessKeyField: "uniqname",
		Rules: []FieldRule{
			{Field: "display_name", Kind: Priority, Sources: []string{"mcomm", "hr"},
				Fallback: func(key string) any { return key }},
			{Field: "uniqname_src", From: "uniqname", Kind: Priority, Sources: []string{"hr", "mcomm"}},
			{Field: "department", Kind: SourceExclusive, Sources: []string{"hr"}},
			{Field: "groups", Kind: Union, Sources: []string{"mcomm", "tdx"}},
			{Field: "job_titles", From: "title", Kind: AggregateByRecord, Sources: []string{"hr"}},
			{Field: "appt_fractions", From: "fraction", Kind: AggregateByRecord, Sources: []string{"hr"}},
		},
		Quality: []Deduction{
			MissingField("uniqname_src", 0.30),
			MissingField("department", 0.10),
			MissingSource("mcomm", 0.05),
			FieldMismatch("display_name", "hr", "mcomm", 0.05),
		},
		SignificantFields: []string{"uniqname", "display_name", "department", "groups", "job_titles"},
	}
}

func hrRecord(seq int, fields map[string]any) SourceRecord {
	return SourceRecord{Source: "hr", NaturalKey: "00123456-" + string(rune('0'+seq)), BusinessKey: "jdoe", Seq: seq, Fields: fields}
}

func TestMerge_OrderIndependent(t *testing.T) {
	spec := personSpec()
	a := SourceRecord{Source: "hr", BusinessKey: "jdoe", Fields: map[string]any{"uniqname": "jdoe", "display_name": "Jane Doe", "department": "Chemistry"}}
	b := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"display_name": "Jane Doe", "groups": []string{"chem-all"}}}

	ab, err := Merge(spec, "jdoe", []SourceRecord{a, b})
	require.NoError(t, err)
	ba, err := Merge(spec, "jdoe", []SourceRecord{b, a})
	require.NoError(t, err)

	assert.Equal(t, ab.Fields, ba.Fields)
	assert.Equal(t, ab.Hash, ba.Hash)
	assert.Equal(t, ab.Sources, ba.Sources)
	assert.Equal(t, []string{"hr", "mcomm"}, ab.Sources)
}

func TestMerge_PriorityIgnoresLowerWhenHigherPresent(t *testing.T) {
	spec := personSpec()
	hr := hrRecord(0, map[string]any{"uniqname": "jdoe", "department": "Chemistry"})
	mcommA := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"display_name": "Jane Doe"}}
	mcommB := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"display_name": "J. Doe"}}

	// display_name is declared "mcomm else hr": with mcomm present the hr
	// value never matters.
	withA, err := Merge(spec, "jdoe", []SourceRecord{hr, mcommA})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", withA.Fields["display_name"])

	withB, err := Merge(spec, "jdoe", []SourceRecord{hr, mcommB})
	require.NoError(t, err)
	assert.Equal(t, "J. Doe", withB.Fields["display_name"])
}

func TestMerge_PriorityEmptySkipsToNext(t *testing.T) {
	// Source A yields uniqname="", source B yields "jdoe": merged value is
	// "jdoe" and no missing flag fires.
	spec := personSpec()
	hr := hrRecord(0, map[string]any{"uniqname": "", "department": "Chemistry"})
	mcomm := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"uniqname": "jdoe", "display_name": "Jane Doe"}}

	out, err := Merge(spec, "jdoe", []SourceRecord{hr, mcomm})
	require.NoError(t, err)
	assert.Equal(t, "jdoe", out.Fields["uniqname_src"])
	assert.NotContains(t, out.QualityFlags, "missing_uniqname_src")
}

func TestMerge_PriorityAllEmptyFlagsAndDeducts(t *testing.T) {
	spec := personSpec()
	hr := hrRecord(0, map[string]any{"uniqname": "", "department": "Chemistry", "display_name": "Jane Doe"})
	mcomm := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"uniqname": "", "display_name": "Jane Doe"}}

	out, err := Merge(spec, "jdoe", []SourceRecord{hr, mcomm})
	require.NoError(t, err)
	assert.Contains(t, out.QualityFlags, "missing_uniqname_src")
	assert.InDelta(t, 0.70, out.QualityScore, 1e-9)
}

func TestMerge_Fallback(t *testing.T) {
	spec := personSpec()
	hr := hrRecord(0, map[string]any{"uniqname": "jdoe", "department": "Chemistry"})

	out, err := Merge(spec, "jdoe", []SourceRecord{hr})
	require.NoError(t, err)
	// Neither source carried display_name; it falls back to the key.
	assert.Equal(t, "jdoe", out.Fields["display_name"])
}

func TestMerge_SourceExclusive(t *testing.T) {
	spec := personSpec()
	hr := hrRecord(0, map[string]any{"uniqname": "jdoe", "department": "Chemistry"})
	// tdx also claims a department; the declaration says hr only.
	tdx := SourceRecord{Source: "tdx", BusinessKey: "jdoe", Fields: map[string]any{"department": "Facilities"}}

	out, err := Merge(spec, "jdoe", []SourceRecord{tdx, hr})
	require.NoError(t, err)
	assert.Equal(t, "Chemistry", out.Fields["department"])

	// Without hr, the field stays empty rather than borrowing from tdx.
	out, err = Merge(spec, "jdoe", []SourceRecord{tdx})
	require.NoError(t, err)
	_, ok := out.Fields["department"]
	assert.False(t, ok)
}

func TestMerge_UnionDeduplicates(t *testing.T) {
	spec := personSpec()
	mcomm := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"uniqname": "jdoe", "groups": []string{"chem-all", "lsa-staff"}}}
	tdx := SourceRecord{Source: "tdx", BusinessKey: "jdoe", Fields: map[string]any{"groups": []string{"lsa-staff", "tdx-techs"}}}

	out, err := Merge(spec, "jdoe", []SourceRecord{tdx, mcomm})
	require.NoError(t, err)
	assert.Equal(t, []string{"chem-all", "lsa-staff", "tdx-techs"}, out.Fields["groups"])
}

func TestMerge_AggregateByRecordPreservesSourceOrder(t *testing.T) {
	spec := personSpec()
	// Two concurrent employment records; arrays must align by record.
	emp2 := hrRecord(2, map[string]any{"uniqname": "jdoe", "title": "Lecturer", "fraction": 0.5, "department": "Chemistry"})
	emp1 := hrRecord(1, map[string]any{"uniqname": "jdoe", "title": "Research Fellow", "fraction": 0.5})

	out, err := Merge(spec, "jdoe", []SourceRecord{emp2, emp1})
	require.NoError(t, err)
	assert.Equal(t, []any{"Research Fellow", "Lecturer"}, out.Fields["job_titles"])
	assert.Equal(t, []any{0.5, 0.5}, out.Fields["appt_fractions"])
}

func TestMerge_EmptyInputRejected(t *testing.T) {
	_, err := Merge(personSpec(), "jdoe", nil)
	assert.Error(t, err)
}

func TestMerge_SourcesNeverEmpty(t *testing.T) {
	out, err := Merge(personSpec(), "jdoe", []SourceRecord{hrRecord(0, map[string]any{"uniqname": "jdoe"})})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Sources)
}
