package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsa-ts/orgsync/internal/source"
)

func TestEntityHash_FieldOrderInvariant(t *testing.T) {
	a := map[string]any{"uniqname": "jdoe", "dept_id": "172800", "title": "Research Fellow"}
	b := map[string]any{"title": "Research Fellow", "uniqname": "jdoe", "dept_id": "172800"}

	ha, err := EntityHash(a)
	require.NoError(t, err)
	hb, err := EntityHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestEntityHash_ChangesOnSignificantValue(t *testing.T) {
	base := map[string]any{"uniqname": "jdoe", "dept_id": "172800"}
	changed := map[string]any{"uniqname": "jdoe", "dept_id": "190000"}

	hBase, err := EntityHash(base)
	require.NoError(t, err)
	hChanged, err := EntityHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, hBase, hChanged)
}

func TestEntityHash_NilEqualsAbsent(t *testing.T) {
	withNil := map[string]any{"uniqname": "jdoe", "middle_name": nil}
	without := map[string]any{"uniqname": "jdoe"}

	h1, err := EntityHash(withNil)
	require.NoError(t, err)
	h2, err := EntityHash(without)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestEntityHash_TimeZoneNormalized(t *testing.T) {
	est, err := time.LoadLocation("America/Detroit")
	require.NoError(t, err)

	utc := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	local := utc.In(est)

	h1, err := EntityHash(map[string]any{"funded_at": utc})
	require.NoError(t, err)
	h2, err := EntityHash(map[string]any{"funded_at": local})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestSelectSignificant_ExcludesVolatileFields(t *testing.T) {
	fields := map[string]any{
		"uniqname":    "jdoe",
		"dept_id":     "172800",
		"sync_count":  42,
		"last_synced": time.Now(),
	}
	significant := SelectSignificant(fields, []string{"uniqname", "dept_id"})

	h1, err := EntityHash(significant)
	require.NoError(t, err)

	fields["sync_count"] = 43
	h2, err := EntityHash(SelectSignificant(fields, []string{"uniqname", "dept_id"}))
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "volatile field change must not affect the hash")
}

func TestTimestampDetector_NilCursorIncludesAll(t *testing.T) {
	d := &TimestampDetector{Cursor: nil}
	ok, err := d.ShouldCapture(context.Background(), source.Document{ExternalID: "1"}, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTimestampDetector_FailOpenOnMissingModified(t *testing.T) {
	cursor := time.Now()
	d := &TimestampDetector{Cursor: &cursor}
	ok, err := d.ShouldCapture(context.Background(), source.Document{ExternalID: "1", ModifiedAt: nil}, "")
	require.NoError(t, err)
	assert.True(t, ok, "documents without a modified date are included defensively")
}

func TestTimestampDetector_CursorFilters(t *testing.T) {
	cursor := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	d := &TimestampDetector{Cursor: &cursor}

	before := cursor.Add(-time.Hour)
	after := cursor.Add(time.Hour)

	ok, err := d.ShouldCapture(context.Background(), source.Document{ModifiedAt: &before}, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.ShouldCapture(context.Background(), source.Document{ModifiedAt: &after}, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

type fakeHashLookup struct {
	hashes map[string]string
}

func (f *fakeHashLookup) LatestHash(_ context.Context, _, _, externalID string) (string, bool, error) {
	h, ok := f.hashes[externalID]
	return h, ok, nil
}

func TestHashDetector(t *testing.T) {
	lookup := &fakeHashLookup{hashes: map[string]string{"ext-1": "abc"}}
	d := &HashDetector{EntityType: "labfund", SourceSystem: "sheet", Store: lookup}

	// Unchanged hash: skip.
	ok, err := d.ShouldCapture(context.Background(), source.Document{ExternalID: "ext-1"}, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	// Changed hash: capture.
	ok, err = d.ShouldCapture(context.Background(), source.Document{ExternalID: "ext-1"}, "def")
	require.NoError(t, err)
	assert.True(t, ok)

	// Never captured: capture.
	ok, err = d.ShouldCapture(context.Background(), source.Document{ExternalID: "ext-2"}, "zzz")
	require.NoError(t, err)
	assert.True(t, ok)
}
