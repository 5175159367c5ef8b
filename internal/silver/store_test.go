package silver

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsa-ts/orgsync/internal/consolidate"
)

func consolidatedFixture() *consolidate.Consolidated {
	return &consolidate.Consolidated{
		EntityType:   "person",
		BusinessKey:  "jdoe",
		Fields:       map[string]any{"uniqname": "jdoe"},
		Sources:      []string{"hr", "mcomm"},
		QualityScore: 0.95,
		QualityFlags: []string{"no_tdx_record"},
		Hash:         "new-hash",
		RunID:        "run-1",
	}
}

func TestUpsert_Created(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	inserted := true
	mock.ExpectQuery("INSERT INTO org.consolidated_records").
		WithArgs("person", "jdoe", pgxmock.AnyArg(), pgxmock.AnyArg(), 0.95, pgxmock.AnyArg(), "new-hash", "run-1").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(&inserted))

	store := NewStore(mock)
	outcome, err := store.Upsert(context.Background(), consolidatedFixture())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
}

func TestUpsert_Updated(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	inserted := false
	mock.ExpectQuery("INSERT INTO org.consolidated_records").
		WithArgs("person", "jdoe", pgxmock.AnyArg(), pgxmock.AnyArg(), 0.95, pgxmock.AnyArg(), "new-hash", "run-1").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(&inserted))

	store := NewStore(mock)
	outcome, err := store.Upsert(context.Background(), consolidatedFixture())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
}

func TestUpsert_SkippedWhenHashUnchanged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// The guard predicate suppresses the update, so no row comes back.
	mock.ExpectQuery("INSERT INTO org.consolidated_records").
		WithArgs("person", "jdoe", pgxmock.AnyArg(), pgxmock.AnyArg(), 0.95, pgxmock.AnyArg(), "new-hash", "run-1").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}))

	store := NewStore(mock)
	outcome, err := store.Upsert(context.Background(), consolidatedFixture())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestUpsertSourceRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	inserted := true
	mock.ExpectQuery("INSERT INTO org.source_records").
		WithArgs("person", "hr", "00123456-0", "jdoe", 0, pgxmock.AnyArg(), "h1", int64(9), "run-1").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(&inserted))

	store := NewStore(mock)
	outcome, err := store.UpsertSourceRecord(context.Background(), "person", consolidate.SourceRecord{
		Source:      "hr",
		NaturalKey:  "00123456-0",
		BusinessKey: "jdoe",
		Fields:      map[string]any{"uniqname": "jdoe"},
		Hash:        "h1",
		RawID:       9,
	}, "run-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
}

func TestSourceRecordsFor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT source_system, natural_key").
		WithArgs("person", "jdoe").
		WillReturnRows(pgxmock.NewRows([]string{
			"source_system", "natural_key", "business_key", "seq", "fields", "entity_hash", "raw_id",
		}).
			AddRow("hr", "00123456-0", "jdoe", 0, []byte(`{"uniqname":"jdoe"}`), "h1", int64(1)).
			AddRow("mcomm", "jdoe", "jdoe", 0, []byte(`{"display_name":"Jane Doe"}`), "h2", int64(2)))

	store := NewStore(mock)
	recs, err := store.SourceRecordsFor(context.Background(), "person", "jdoe")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "hr", recs[0].Source)
	assert.Equal(t, "jdoe", recs[0].Fields["uniqname"])
	assert.Equal(t, "Jane Doe", recs[1].Fields["display_name"])
}

func TestBusinessKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT business_key").
		WithArgs("department").
		WillReturnRows(pgxmock.NewRows([]string{"business_key"}).AddRow("172800").AddRow("190000"))

	store := NewStore(mock)
	keys, err := store.BusinessKeys(context.Background(), "department")
	require.NoError(t, err)
	assert.Equal(t, []string{"172800", "190000"}, keys)
}

func TestUpsert_SkippedOnWrappedNoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO org.consolidated_records").
		WithArgs("person", "jdoe", pgxmock.AnyArg(), pgxmock.AnyArg(), 0.95, pgxmock.AnyArg(), "new-hash", "run-1").
		WillReturnError(fmt.Errorf("scan inserted: %w", pgx.ErrNoRows))

	store := NewStore(mock)
	outcome, err := store.Upsert(context.Background(), consolidatedFixture())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome, "a wrapped no-rows error is still the guard firing")
}
