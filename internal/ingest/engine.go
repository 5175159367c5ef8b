// Package ingest runs the ingestion and consolidation passes. One engine
// serves every entity type; everything entity-specific lives in the
// declarations it is handed, so the pass structure is written exactly
// once.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lsa-ts/orgsync/internal/bronze"
	"github.com/lsa-ts/orgsync/internal/config"
	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/entity"
	"github.com/lsa-ts/orgsync/internal/orchestrator"
	"github.com/lsa-ts/orgsync/internal/resilience"
	"github.com/lsa-ts/orgsync/internal/runlog"
	"github.com/lsa-ts/orgsync/internal/silver"
	"github.com/lsa-ts/orgsync/internal/source"
)

// RawStore is the bronze surface the engine needs.
type RawStore interface {
	Append(ctx context.Context, rec bronze.RawRecord) (int64, error)
	LatestHash(ctx context.Context, entityType, sourceSystem, externalID string) (string, bool, error)
}

// TypedStore is the silver surface the engine needs.
type TypedStore interface {
	UpsertSourceRecord(ctx context.Context, entityType string, rec consolidate.SourceRecord, runID string) (silver.Outcome, error)
	Upsert(ctx context.Context, rec *consolidate.Consolidated) (silver.Outcome, error)
	SourceRecordsFor(ctx context.Context, entityType, businessKey string) ([]consolidate.SourceRecord, error)
	BusinessKeys(ctx context.Context, entityType string) ([]string, error)
}

// RunLog is the run-tracking surface the engine needs.
type RunLog interface {
	Start(ctx context.Context, sourceSystem, entityType string, metadata map[string]any) (string, error)
	Complete(ctx context.Context, runID string, counts runlog.Counts, errMsg string) error
	AnnotateMetadata(ctx context.Context, runID string, extra map[string]any) error
	LastSuccess(ctx context.Context, sourceSystem, entityType string) (*time.Time, error)
}

// Engine executes ingestion runs (source to bronze to tier-1 silver) and
// consolidation runs (tier-1 to canonical). All dependencies are injected;
// the engine holds no connection state of its own.
type Engine struct {
	raw   RawStore
	typed TypedStore
	runs  RunLog
	cfg   config.EngineConfig
	retry resilience.RetryConfig
	log   *zap.Logger
}

// NewEngine wires an engine from its stores and sizing config.
func NewEngine(raw RawStore, typed TypedStore, runs RunLog, cfg config.EngineConfig, retry resilience.RetryConfig) *Engine {
	return &Engine{
		raw:   raw,
		typed: typed,
		runs:  runs,
		cfg:   cfg,
		retry: retry,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// Summary reports one (source, entity) ingestion run.
type Summary struct {
	RunID        string        `json:"run_id"`
	SourceSystem string        `json:"source_system"`
	EntityType   string        `json:"entity_type"`
	Fetched      int64         `json:"fetched"`
	Captured     int64         `json:"captured"`
	Counts       runlog.Counts `json:"counts"`
	ErrorCount   int           `json:"error_count"`
	Errors       []string      `json:"errors,omitempty"`
	Failed       bool          `json:"failed"`
	DryRun       bool          `json:"dry_run,omitempty"`
}

// counters accumulates run outcomes across concurrent persist workers.
type counters struct {
	mu       sync.Mutex
	fetched  int64
	captured int64
	counts   runlog.Counts
}

func (c *counters) addOutcome(outcome silver.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Processed++
	switch outcome {
	case silver.OutcomeCreated:
		c.counts.Created++
	case silver.OutcomeUpdated:
		c.counts.Updated++
	case silver.OutcomeSkipped:
		c.counts.Skipped++
	}
}

func (c *counters) skip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Processed++
	c.counts.Skipped++
}

// SyncSource runs one full ingestion pass for a (source, entity) pair:
// fetch, change-detect, capture to bronze, extract, upsert to tier-1.
// Per-record failures are isolated and annotated; the run fails only when
// the error count exceeds the hard-failure threshold or the pass cannot
// start at all.
func (e *Engine) SyncSource(ctx context.Context, decl *entity.Declaration, src source.Source) (*Summary, error) {
	binding, err := decl.Binding(src.Name())
	if err != nil {
		return nil, err
	}

	log := e.log.With(
		zap.String("entity_type", decl.Name),
		zap.String("source_system", binding.Source),
	)

	runID, err := e.runs.Start(ctx, binding.Source, decl.Name, map[string]any{
		"mode":      string(binding.Mode),
		"full_sync": e.cfg.FullSync,
		"dry_run":   e.cfg.DryRun,
	})
	if err != nil {
		return nil, err
	}

	detector, cursor, err := e.buildDetector(ctx, decl, binding)
	if err != nil {
		_ = e.runs.Complete(ctx, runID, runlog.Counts{}, err.Error())
		return nil, err
	}
	if cursor != nil {
		log.Info("incremental sync", zap.Time("cursor", *cursor))
	} else {
		log.Info("full sync")
	}

	c := &counters{}
	persist := func(pctx context.Context, doc source.Document) error {
		return e.processDocument(pctx, decl, binding, detector, runID, doc, c)
	}

	batch, err := e.runFetch(ctx, binding, src, cursor, persist)
	if err != nil {
		_ = e.runs.Complete(ctx, runID, c.counts, err.Error())
		return nil, eris.Wrapf(err, "ingest: sync %s/%s", binding.Source, decl.Name)
	}

	summary := &Summary{
		RunID:        runID,
		SourceSystem: binding.Source,
		EntityType:   decl.Name,
		Fetched:      c.fetched,
		Captured:     c.captured,
		Counts:       c.counts,
		ErrorCount:   batch.ErrorCount,
		Errors:       batch.Errors,
		Failed:       batch.Failed,
		DryRun:       e.cfg.DryRun,
	}

	if len(summary.Errors) > 0 {
		if err := e.runs.AnnotateMetadata(ctx, runID, map[string]any{
			"error_count":  summary.ErrorCount,
			"error_sample": summary.Errors,
		}); err != nil {
			log.Warn("failed to annotate run metadata", zap.Error(err))
		}
	}

	errMsg := ""
	if summary.Failed {
		errMsg = fmt.Sprintf("%d errors exceeded hard-failure threshold %d",
			summary.ErrorCount, e.cfg.HardFailureThreshold)
	}
	if err := e.runs.Complete(ctx, runID, c.counts, errMsg); err != nil {
		return summary, err
	}

	log.Info("sync finished",
		zap.String("run_id", runID),
		zap.Int64("fetched", summary.Fetched),
		zap.Int64("captured", summary.Captured),
		zap.Int64("created", summary.Counts.Created),
		zap.Int64("updated", summary.Counts.Updated),
		zap.Int64("skipped", summary.Counts.Skipped),
		zap.Int("errors", summary.ErrorCount),
		zap.Bool("failed", summary.Failed),
	)
	return summary, nil
}

// buildDetector selects change detection for the binding. Timestamp mode
// reads the incremental cursor from the run log unless a full sync was
// requested; hash mode compares against the latest bronze version.
func (e *Engine) buildDetector(ctx context.Context, decl *entity.Declaration, binding entity.SourceBinding) (detect.Detector, *time.Time, error) {
	if binding.Mode == detect.ModeContentHash {
		return &detect.HashDetector{
			EntityType:   decl.Name,
			SourceSystem: binding.Source,
			Store:        e.raw,
		}, nil, nil
	}

	var cursor *time.Time
	if !e.cfg.FullSync {
		var err error
		cursor, err = e.runs.LastSuccess(ctx, binding.Source, decl.Name)
		if err != nil {
			return nil, nil, err
		}
	}
	return &detect.TimestampDetector{Cursor: cursor}, cursor, nil
}

// runFetch moves documents from the source into the persist function. A
// source that can enumerate its keys goes through the chunked orchestrator;
// everything else is fetched as one incremental or full extract and
// persisted through the same bounded pool.
func (e *Engine) runFetch(ctx context.Context, binding entity.SourceBinding, src source.Source, cursor *time.Time, persist orchestrator.PersistFunc) (*orchestrator.Summary, error) {
	retry := e.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(binding.Source, "fetch")
	}

	opts := orchestrator.Options{
		ChunkSize:             e.cfg.BatchSize,
		MaxConcurrentFetches:  e.cfg.MaxConcurrentFetches,
		MaxConcurrentPersists: e.cfg.MaxConcurrentPersists,
		RateLimitDelay:        e.cfg.RateLimitDelay(),
		CallTimeout:           e.cfg.CallTimeout(),
		RunDeadline:           e.cfg.RunDeadline(),
		MaxErrors:             e.cfg.MaxErrors,
		HardFailureThreshold:  e.cfg.HardFailureThreshold,
		Retry:                 retry,
	}

	if lister, ok := src.(source.Lister); ok {
		keys, err := lister.ListKeys(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: list keys from %s", binding.Source)
		}
		return orchestrator.Run(ctx, opts, keys, src.FetchByKeys, persist)
	}

	docs, err := e.fetchExtract(ctx, binding, src, cursor)
	if err != nil {
		return nil, err
	}

	// Feed the pre-fetched extract through the orchestrator's persist pool
	// by treating each document as its own single-key chunk.
	byID := make(map[string]source.Document, len(docs))
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		byID[doc.ExternalID] = doc
		keys = append(keys, doc.ExternalID)
	}
	fetch := func(_ context.Context, chunk []string) ([]source.Document, error) {
		out := make([]source.Document, 0, len(chunk))
		for _, k := range chunk {
			out = append(out, byID[k])
		}
		return out, nil
	}

	opts.RateLimitDelay = 0 // the extract is already in memory
	return orchestrator.Run(ctx, opts, keys, fetch, persist)
}

func (e *Engine) fetchExtract(ctx context.Context, binding entity.SourceBinding, src source.Source, cursor *time.Time) ([]source.Document, error) {
	if binding.Mode == detect.ModeTimestamp {
		docs, err := src.FetchChangedSince(ctx, cursor)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: fetch changed from %s", binding.Source)
		}
		return docs, nil
	}
	docs, err := src.FetchAll(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: fetch all from %s", binding.Source)
	}
	return docs, nil
}

// processDocument is the per-record persist path: change-detect, capture
// to bronze, extract, tier-1 upsert. Every failure is returned as a
// record error so the orchestrator isolates it without aborting the run.
func (e *Engine) processDocument(ctx context.Context, decl *entity.Declaration, binding entity.SourceBinding, detector detect.Detector, runID string, doc source.Document, c *counters) error {
	c.mu.Lock()
	c.fetched++
	c.mu.Unlock()

	hash, err := detect.EntityHash(detect.SelectSignificant(doc.Payload, binding.SignificantFields))
	if err != nil {
		return resilience.NewRecordError(decl.Name, binding.Source, doc.ExternalID, err)
	}

	capture, err := detector.ShouldCapture(ctx, doc, hash)
	if err != nil {
		return resilience.NewRecordError(decl.Name, binding.Source, doc.ExternalID, err)
	}

	// Timestamp sources can report touched-but-unchanged records. With
	// verification on, the content hash gets the final say.
	if capture && detector.Mode() == detect.ModeTimestamp && e.cfg.EnableContentVerification {
		stored, found, err := e.raw.LatestHash(ctx, decl.Name, binding.Source, doc.ExternalID)
		if err != nil {
			return resilience.NewRecordError(decl.Name, binding.Source, doc.ExternalID, err)
		}
		if found && stored == hash {
			capture = false
		}
	}

	if !capture {
		c.skip()
		return nil
	}

	if e.cfg.DryRun {
		c.mu.Lock()
		c.captured++
		c.counts.Processed++
		c.mu.Unlock()
		return nil
	}

	rawID, err := e.raw.Append(ctx, bronze.RawRecord{
		EntityType:     decl.Name,
		SourceSystem:   binding.Source,
		ExternalID:     doc.ExternalID,
		Document:       doc.Payload,
		EntityHash:     hash,
		IngestionRunID: runID,
	})
	if err != nil {
		return resilience.NewRecordError(decl.Name, binding.Source, doc.ExternalID, err)
	}
	c.mu.Lock()
	c.captured++
	c.mu.Unlock()

	recs, err := binding.Extract(doc)
	if err != nil {
		return resilience.NewRecordError(decl.Name, binding.Source, doc.ExternalID, err)
	}

	for _, rec := range recs {
		rec.RawID = rawID
		rec.Hash, err = detect.EntityHash(rec.Fields)
		if err != nil {
			return resilience.NewRecordError(decl.Name, binding.Source, doc.ExternalID, err)
		}

		outcome, err := e.typed.UpsertSourceRecord(ctx, decl.Name, rec, runID)
		if err != nil {
			return resilience.NewRecordError(decl.Name, binding.Source, doc.ExternalID, err)
		}
		c.addOutcome(outcome)
	}
	return nil
}
