package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/entity"
	"github.com/lsa-ts/orgsync/internal/resilience"
	"github.com/lsa-ts/orgsync/internal/runlog"
	"github.com/lsa-ts/orgsync/internal/silver"
)

// consolidationSource is the pseudo-source recorded for consolidation runs
// in the run log; the pass reads tier-1, not an external system.
const consolidationSource = "consolidation"

// Consolidate merges every business key of an entity type from tier-1
// records into its canonical record. Per-key failures are isolated and
// counted; the pass is idempotent because the canonical upsert is
// hash-gated.
func (e *Engine) Consolidate(ctx context.Context, decl *entity.Declaration) (*Summary, error) {
	log := e.log.With(zap.String("entity_type", decl.Name))

	runID, err := e.runs.Start(ctx, consolidationSource, decl.Name, map[string]any{
		"dry_run": e.cfg.DryRun,
	})
	if err != nil {
		return nil, err
	}

	keys, err := e.typed.BusinessKeys(ctx, decl.Name)
	if err != nil {
		_ = e.runs.Complete(ctx, runID, runlog.Counts{}, err.Error())
		return nil, err
	}

	summary := &Summary{
		RunID:        runID,
		SourceSystem: consolidationSource,
		EntityType:   decl.Name,
		DryRun:       e.cfg.DryRun,
	}

	var counts runlog.Counts
	var errs []string
	errCount := 0
	record := func(key string, err error) {
		errCount++
		if len(errs) < e.cfg.MaxErrors {
			errs = append(errs, fmt.Sprintf("%s: %s", key, err.Error()))
		}
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			_ = e.runs.Complete(ctx, runID, counts, ctx.Err().Error())
			return summary, ctx.Err()
		}

		recs, err := e.typed.SourceRecordsFor(ctx, decl.Name, key)
		if err != nil {
			record(key, err)
			continue
		}

		merged, err := consolidate.Merge(decl.Merge, key, recs)
		if err != nil {
			record(key, resilience.NewRecordError(decl.Name, consolidationSource, key, err))
			continue
		}
		merged.RunID = runID

		counts.Processed++
		if e.cfg.DryRun {
			continue
		}

		outcome, err := e.typed.Upsert(ctx, merged)
		if err != nil {
			record(key, err)
			continue
		}
		switch outcome {
		case silver.OutcomeCreated:
			counts.Created++
		case silver.OutcomeUpdated:
			counts.Updated++
		case silver.OutcomeSkipped:
			counts.Skipped++
		}
	}

	summary.Counts = counts
	summary.ErrorCount = errCount
	summary.Errors = errs
	summary.Failed = e.cfg.HardFailureThreshold > 0 && errCount > e.cfg.HardFailureThreshold

	if len(errs) > 0 {
		if err := e.runs.AnnotateMetadata(ctx, runID, map[string]any{
			"error_count":  errCount,
			"error_sample": errs,
		}); err != nil {
			log.Warn("failed to annotate run metadata", zap.Error(err))
		}
	}

	errMsg := ""
	if summary.Failed {
		errMsg = fmt.Sprintf("%d errors exceeded hard-failure threshold %d", errCount, e.cfg.HardFailureThreshold)
	}
	if err := e.runs.Complete(ctx, runID, counts, errMsg); err != nil {
		return summary, err
	}

	log.Info("consolidation finished",
		zap.String("run_id", runID),
		zap.Int("business_keys", len(keys)),
		zap.Int64("created", counts.Created),
		zap.Int64("updated", counts.Updated),
		zap.Int64("skipped", counts.Skipped),
		zap.Int("errors", errCount),
		zap.Bool("failed", summary.Failed),
	)
	return summary, nil
}
