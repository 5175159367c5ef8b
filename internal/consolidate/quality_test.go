package consolidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreQuality_ClampedToZero(t *testing.T) {
	spec := Spec{
		EntityType:       "computer",
		BusinessKeyField: "serial_number",
		Rules: []FieldRule{
			{Field: "hostname", Kind: Priority, Sources: []string{"ad", "tdx"}},
			{Field: "department", Kind: SourceExclusive, Sources: []string{"ad"}},
			{Field: "college", Kind: SourceExclusive, Sources: []string{"ad"}},
			{Field: "owner", Kind: Priority, Sources: []string{"tdx"}},
		},
		Quality: []Deduction{
			MissingField("hostname", 0.30),
			MissingField("department", 0.30),
			MissingField("college", 0.30),
			MissingField("owner", 0.30),
		},
	}

	bare := SourceRecord{Source: "tdx", BusinessKey: "SN-1", Fields: map[string]any{}}
	out, err := Merge(spec, "SN-1", []SourceRecord{bare})
	require.NoError(t, err)

	assert.Equal(t, 0.0, out.QualityScore, "score clamps at zero")
	assert.Len(t, out.QualityFlags, 4, "every deduction is auditable even past the clamp")
}

func TestScoreQuality_Monotonic(t *testing.T) {
	// Adding one more missing condition while holding all else fixed never
	// increases the score.
	spec := personSpec()

	full := hrRecord(0, map[string]any{"uniqname": "jdoe", "department": "Chemistry", "display_name": "Jane Doe"})
	outFull, err := Merge(spec, "jdoe", []SourceRecord{full})
	require.NoError(t, err)

	noDept := hrRecord(0, map[string]any{"uniqname": "jdoe", "display_name": "Jane Doe"})
	outNoDept, err := Merge(spec, "jdoe", []SourceRecord{noDept})
	require.NoError(t, err)

	assert.LessOrEqual(t, outNoDept.QualityScore, outFull.QualityScore)
	assert.Contains(t, outNoDept.QualityFlags, "missing_department")
}

func TestScoreQuality_Bounds(t *testing.T) {
	spec := personSpec()
	recs := []SourceRecord{
		hrRecord(0, map[string]any{"uniqname": "jdoe", "department": "Chemistry", "display_name": "Jane Doe"}),
		{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"display_name": "Jane Doe", "groups": []string{"chem-all"}}},
	}
	out, err := Merge(spec, "jdoe", recs)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.QualityScore, 0.0)
	assert.LessOrEqual(t, out.QualityScore, 1.0)
	assert.Equal(t, 1.0, out.QualityScore, "complete two-source record scores 1.00")
	assert.Empty(t, out.QualityFlags)
}

func TestFieldMismatch_CaseInsensitive(t *testing.T) {
	spec := personSpec()
	hr := hrRecord(0, map[string]any{"uniqname": "jdoe", "department": "Chemistry", "display_name": "JANE  DOE"})
	mcomm := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"display_name": "Jane Doe"}}

	out, err := Merge(spec, "jdoe", []SourceRecord{hr, mcomm})
	require.NoError(t, err)
	for _, f := range out.QualityFlags {
		assert.NotContains(t, f, "mismatch", "case and spacing differences are not mismatches")
	}
}

func TestFieldMismatch_RealDisagreement(t *testing.T) {
	spec := personSpec()
	hr := hrRecord(0, map[string]any{"uniqname": "jdoe", "department": "Chemistry", "display_name": "Jane Doe"})
	mcomm := SourceRecord{Source: "mcomm", BusinessKey: "jdoe", Fields: map[string]any{"display_name": "Janet Doe"}}

	out, err := Merge(spec, "jdoe", []SourceRecord{hr, mcomm})
	require.NoError(t, err)
	assert.Contains(t, out.QualityFlags, "display_name_mismatch_hr_mcomm")
	assert.InDelta(t, 0.95, out.QualityScore, 1e-9)
}
