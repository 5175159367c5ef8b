// Package silver persists the typed tiers: per-source projections
// (org.source_records) and canonical consolidated entities
// (org.consolidated_records). Consolidated writes are hash-gated so
// re-running an unchanged pipeline touches nothing.
package silver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/db"
)

// Outcome classifies one upsert. Exactly one outcome is reported per
// processed business key.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

// Store provides access to the silver tables.
type Store struct {
	pool db.Pool
}

// NewStore creates a silver store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertSourceRecord writes one tier-1 typed projection, superseding any
// previous row for the same (entity, source, natural key). The write is
// gated on the entity hash, so unchanged projections leave the row
// untouched.
func (s *Store) UpsertSourceRecord(ctx context.Context, entityType string, rec consolidate.SourceRecord, runID string) (Outcome, error) {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", eris.Wrapf(err, "silver: marshal fields %s/%s", rec.Source, rec.NaturalKey)
	}

	var inserted *bool
	err = s.pool.QueryRow(ctx,
		`INSERT INTO org.source_records
		   (entity_type, source_system, natural_key, business_key, seq, fields, entity_hash, raw_id, ingestion_run_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (entity_type, source_system, natural_key) DO UPDATE SET
		   business_key = EXCLUDED.business_key,
		   seq = EXCLUDED.seq,
		   fields = EXCLUDED.fields,
		   entity_hash = EXCLUDED.entity_hash,
		   raw_id = EXCLUDED.raw_id,
		   ingestion_run_id = EXCLUDED.ingestion_run_id,
		   updated_at = now()
		 WHERE org.source_records.entity_hash IS DISTINCT FROM EXCLUDED.entity_hash
		 RETURNING (xmax = 0) AS inserted`,
		entityType, rec.Source, rec.NaturalKey, rec.BusinessKey, rec.Seq, fieldsJSON, rec.Hash, rec.RawID, runID,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OutcomeSkipped, nil
		}
		return "", eris.Wrapf(err, "silver: upsert source record %s/%s/%s", entityType, rec.Source, rec.NaturalKey)
	}
	if inserted != nil && *inserted {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// Upsert writes one consolidated record. The DO UPDATE is guarded by the
// stored hash, so a re-merge with identical content reports skipped.
// Concurrent writers on disjoint business keys are safe; the orchestrator
// guarantees a single key is never dispatched to two workers in one run.
func (s *Store) Upsert(ctx context.Context, rec *consolidate.Consolidated) (Outcome, error) {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", eris.Wrapf(err, "silver: marshal consolidated %s/%s", rec.EntityType, rec.BusinessKey)
	}
	sourcesJSON, err := json.Marshal(rec.Sources)
	if err != nil {
		return "", eris.Wrap(err, "silver: marshal sources")
	}
	flagsJSON, err := json.Marshal(rec.QualityFlags)
	if err != nil {
		return "", eris.Wrap(err, "silver: marshal quality flags")
	}

	var inserted *bool
	err = s.pool.QueryRow(ctx,
		`INSERT INTO org.consolidated_records
		   (entity_type, business_key, fields, sources, data_quality_score, quality_flags, entity_hash, ingestion_run_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (entity_type, business_key) DO UPDATE SET
		   fields = EXCLUDED.fields,
		   sources = EXCLUDED.sources,
		   data_quality_score = EXCLUDED.data_quality_score,
		   quality_flags = EXCLUDED.quality_flags,
		   entity_hash = EXCLUDED.entity_hash,
		   ingestion_run_id = EXCLUDED.ingestion_run_id,
		   updated_at = now()
		 WHERE org.consolidated_records.entity_hash IS DISTINCT FROM EXCLUDED.entity_hash
		 RETURNING (xmax = 0) AS inserted`,
		rec.EntityType, rec.BusinessKey, fieldsJSON, sourcesJSON, rec.QualityScore, flagsJSON, rec.Hash, rec.RunID,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OutcomeSkipped, nil
		}
		return "", eris.Wrapf(err, "silver: upsert consolidated %s/%s", rec.EntityType, rec.BusinessKey)
	}
	if inserted != nil && *inserted {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// SourceRecordsFor returns every tier-1 record sharing a business key,
// across sources, ready for the merge.
func (s *Store) SourceRecordsFor(ctx context.Context, entityType, businessKey string) ([]consolidate.SourceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_system, natural_key, business_key, seq, fields, entity_hash, raw_id
		 FROM org.source_records
		 WHERE entity_type = $1 AND business_key = $2
		 ORDER BY source_system, seq, natural_key`,
		entityType, businessKey,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "silver: source records for %s/%s", entityType, businessKey)
	}
	defer rows.Close()

	return scanSourceRecords(rows)
}

// BusinessKeys returns the distinct business keys present in tier 1 for an
// entity type. The consolidation pass iterates this set.
func (s *Store) BusinessKeys(ctx context.Context, entityType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT business_key FROM org.source_records
		 WHERE entity_type = $1 AND business_key <> ''
		 ORDER BY business_key`,
		entityType,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "silver: business keys for %s", entityType)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "silver: scan business key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanSourceRecords(rows pgx.Rows) ([]consolidate.SourceRecord, error) {
	var recs []consolidate.SourceRecord
	for rows.Next() {
		var rec consolidate.SourceRecord
		var fieldsJSON []byte
		if err := rows.Scan(&rec.Source, &rec.NaturalKey, &rec.BusinessKey, &rec.Seq, &fieldsJSON, &rec.Hash, &rec.RawID); err != nil {
			return nil, eris.Wrap(err, "silver: scan source record")
		}
		if fieldsJSON != nil {
			if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
				return nil, eris.Wrapf(err, "silver: unmarshal fields %s/%s", rec.Source, rec.NaturalKey)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
