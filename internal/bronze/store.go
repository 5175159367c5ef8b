// Package bronze is the append-only raw capture layer. Every document
// fetched from a source is stored with full fidelity before any typed
// extraction happens; rows are superseded by inserting newer versions,
// never updated.
package bronze

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/lsa-ts/orgsync/internal/db"
)

// RawRecord is one captured version of a source document.
type RawRecord struct {
	ID             int64          `json:"id"`
	EntityType     string         `json:"entity_type"`
	SourceSystem   string         `json:"source_system"`
	ExternalID     string         `json:"external_id"`
	Document       map[string]any `json:"document"`
	EntityHash     string         `json:"entity_hash"`
	IngestionRunID string         `json:"ingestion_run_id"`
	IngestedAt     time.Time      `json:"ingested_at"`
}

// Store provides append-only access to org.raw_records.
type Store struct {
	pool db.Pool
}

// NewStore creates a bronze store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts a new raw record version and returns its id. It never
// updates an existing row; a changed document supersedes the previous
// version and "latest" selection picks it up by ingested_at.
func (s *Store) Append(ctx context.Context, rec RawRecord) (int64, error) {
	docJSON, err := json.Marshal(rec.Document)
	if err != nil {
		return 0, eris.Wrapf(err, "bronze: marshal document %s/%s", rec.SourceSystem, rec.ExternalID)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO org.raw_records
		   (entity_type, source_system, external_id, document, entity_hash, ingestion_run_id, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 RETURNING id`,
		rec.EntityType, rec.SourceSystem, rec.ExternalID, docJSON, rec.EntityHash, rec.IngestionRunID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "bronze: append %s/%s/%s", rec.EntityType, rec.SourceSystem, rec.ExternalID)
	}
	return id, nil
}

// AppendBatch bulk-inserts raw records in batches of batchSize using the
// COPY protocol. Returns the number of rows written.
func (s *Store) AppendBatch(ctx context.Context, recs []RawRecord, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	columns := []string{"entity_type", "source_system", "external_id", "document", "entity_hash", "ingestion_run_id", "ingested_at"}

	var total int64
	now := time.Now().UTC()

	for start := 0; start < len(recs); start += batchSize {
		end := min(start+batchSize, len(recs))

		rows := make([][]any, 0, end-start)
		for _, rec := range recs[start:end] {
			docJSON, err := json.Marshal(rec.Document)
			if err != nil {
				return total, eris.Wrapf(err, "bronze: marshal document %s/%s", rec.SourceSystem, rec.ExternalID)
			}
			rows = append(rows, []any{rec.EntityType, rec.SourceSystem, rec.ExternalID, docJSON, rec.EntityHash, rec.IngestionRunID, now})
		}

		n, err := db.CopyFromSchema(ctx, s.pool, "org", "raw_records", columns, rows)
		if err != nil {
			return total, eris.Wrap(err, "bronze: append batch")
		}
		total += n
	}

	return total, nil
}

// latestSQL selects the most recent version per key. Ties on ingested_at
// are broken by the id sequence, so "latest" is always deterministic.
const latestSQL = `
SELECT id, entity_type, source_system, external_id, document, entity_hash, ingestion_run_id, ingested_at
FROM (
  SELECT *, ROW_NUMBER() OVER (
    PARTITION BY entity_type, source_system, external_id
    ORDER BY ingested_at DESC, id DESC
  ) AS rn
  FROM org.raw_records
  WHERE entity_type = $1 AND source_system = $2 AND external_id = $3
) ranked
WHERE rn = 1`

// LatestFor returns the most recent captured version for a key, or nil if
// the key has never been captured.
func (s *Store) LatestFor(ctx context.Context, entityType, sourceSystem, externalID string) (*RawRecord, error) {
	var rec RawRecord
	var docJSON []byte

	err := s.pool.QueryRow(ctx, latestSQL, entityType, sourceSystem, externalID).Scan(
		&rec.ID, &rec.EntityType, &rec.SourceSystem, &rec.ExternalID,
		&docJSON, &rec.EntityHash, &rec.IngestionRunID, &rec.IngestedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "bronze: latest for %s/%s/%s", entityType, sourceSystem, externalID)
	}

	if docJSON != nil {
		if err := json.Unmarshal(docJSON, &rec.Document); err != nil {
			return nil, eris.Wrapf(err, "bronze: unmarshal document %d", rec.ID)
		}
	}
	return &rec, nil
}

// LatestHash returns the entity hash stored on the most recent version of a
// key. The bool reports whether any version exists. Implements
// detect.HashLookup.
func (s *Store) LatestHash(ctx context.Context, entityType, sourceSystem, externalID string) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT entity_hash FROM org.raw_records
		 WHERE entity_type = $1 AND source_system = $2 AND external_id = $3
		 ORDER BY ingested_at DESC, id DESC
		 LIMIT 1`,
		entityType, sourceSystem, externalID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, eris.Wrapf(err, "bronze: latest hash for %s/%s/%s", entityType, sourceSystem, externalID)
	}
	return hash, true, nil
}

// CountForRun returns how many raw records a given ingestion run captured.
func (s *Store) CountForRun(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM org.raw_records WHERE ingestion_run_id = $1`,
		runID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "bronze: count for run %s", runID)
	}
	return n, nil
}
