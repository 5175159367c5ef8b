// Package runlog records every ingestion and transformation execution in
// org.ingestion_runs. The run table is the durable audit trail and the
// source of the incremental cursor.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lsa-ts/orgsync/internal/db"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StaleRunMessage is the fixed error recorded when a new run reaps a
// predecessor left in running state by a crashed process. Reaping on start
// is the sole crash-recovery mechanism; there is no checkpoint below run
// granularity.
const StaleRunMessage = "stale — terminated before completion"

// Run represents a row in org.ingestion_runs.
type Run struct {
	RunID            string         `json:"run_id"`
	SourceSystem     string         `json:"source_system"`
	EntityType       string         `json:"entity_type"`
	Status           string         `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	RecordsProcessed int64          `json:"records_processed"`
	RecordsCreated   int64          `json:"records_created"`
	RecordsUpdated   int64          `json:"records_updated"`
	RecordsSkipped   int64          `json:"records_skipped"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Counts holds the outcome counters of a run, passed to Complete.
type Counts struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Skipped   int64 `json:"skipped"`
}

// Log provides read/write access to org.ingestion_runs.
type Log struct {
	pool db.Pool
}

// NewLog creates a run log backed by the given connection pool.
func NewLog(pool db.Pool) *Log {
	return &Log{pool: pool}
}

// Start records the beginning of a run for a (source, entity) pair and
// returns the new run id. Any run for the same pair still marked running
// is first flipped to failed with StaleRunMessage, so a crashed process
// never blocks the next run.
func (l *Log) Start(ctx context.Context, sourceSystem, entityType string, metadata map[string]any) (string, error) {
	tag, err := l.pool.Exec(ctx,
		`UPDATE org.ingestion_runs
		 SET status = $1, completed_at = now(), error_message = $2
		 WHERE source_system = $3 AND entity_type = $4 AND status = $5`,
		StatusFailed, StaleRunMessage, sourceSystem, entityType, StatusRunning,
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: reap stale runs for %s/%s", sourceSystem, entityType)
	}
	if n := tag.RowsAffected(); n > 0 {
		zap.L().Warn("reaped stale runs",
			zap.String("source_system", sourceSystem),
			zap.String("entity_type", entityType),
			zap.Int64("count", n),
		)
	}

	var metaJSON []byte
	if metadata != nil {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return "", eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	runID := uuid.NewString()
	_, err = l.pool.Exec(ctx,
		`INSERT INTO org.ingestion_runs (run_id, source_system, entity_type, status, started_at, metadata)
		 VALUES ($1, $2, $3, $4, now(), $5)`,
		runID, sourceSystem, entityType, StatusRunning, metaJSON,
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start run for %s/%s", sourceSystem, entityType)
	}
	return runID, nil
}

// Complete marks a run finished. An empty errMsg means completed; a
// non-empty one means failed. completed_at is stamped either way.
func (l *Log) Complete(ctx context.Context, runID string, counts Counts, errMsg string) error {
	status := StatusCompleted
	if errMsg != "" {
		status = StatusFailed
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE org.ingestion_runs
		 SET status = $1, completed_at = now(),
		     records_processed = $2, records_created = $3, records_updated = $4, records_skipped = $5,
		     error_message = NULLIF($6, '')
		 WHERE run_id = $7`,
		status, counts.Processed, counts.Created, counts.Updated, counts.Skipped, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", runID)
	}
	return nil
}

// AnnotateMetadata merges additional keys into a run's metadata. Used to
// attach the bounded per-record error sample at completion.
func (l *Log) AnnotateMetadata(ctx context.Context, runID string, extra map[string]any) error {
	if len(extra) == 0 {
		return nil
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal metadata annotation")
	}
	_, err = l.pool.Exec(ctx,
		`UPDATE org.ingestion_runs
		 SET metadata = COALESCE(metadata, '{}'::jsonb) || $1::jsonb
		 WHERE run_id = $2`,
		extraJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: annotate run %s", runID)
	}
	return nil
}

// LastSuccess returns the started_at of the most recent completed run for
// a (source, entity) pair. Nil means the pair has never synced successfully,
// so the caller processes everything (first run and full sync behave the
// same way).
func (l *Log) LastSuccess(ctx context.Context, sourceSystem, entityType string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM org.ingestion_runs
		 WHERE source_system = $1 AND entity_type = $2 AND status = $3
		 ORDER BY started_at DESC LIMIT 1`,
		sourceSystem, entityType, StatusCompleted,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s/%s", sourceSystem, entityType)
	}
	return &t, nil
}

// List returns recent runs ordered by most recent first. A limit <= 0
// defaults to 50.
func (l *Log) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.pool.Query(ctx,
		`SELECT run_id, source_system, entity_type, status, started_at, completed_at,
		        records_processed, records_created, records_updated, records_skipped,
		        error_message, metadata
		 FROM org.ingestion_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var completedAt *time.Time
		var errMsg *string
		var metaJSON []byte
		if err := rows.Scan(&r.RunID, &r.SourceSystem, &r.EntityType, &r.Status, &r.StartedAt, &completedAt,
			&r.RecordsProcessed, &r.RecordsCreated, &r.RecordsUpdated, &r.RecordsSkipped,
			&errMsg, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		r.CompletedAt = completedAt
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &r.Metadata)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
