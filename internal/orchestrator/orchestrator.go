// Package orchestrator drives chunked, bounded-concurrency fetch and
// persist phases against rate-limited sources. Fetch and persist pools are
// sized independently and decoupled by a channel, so a slow store never
// starves fetch concurrency and a slow source never idles the writers.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lsa-ts/orgsync/internal/resilience"
	"github.com/lsa-ts/orgsync/internal/source"
)

// FetchFunc fetches the documents for one chunk of keys.
type FetchFunc func(ctx context.Context, keys []string) ([]source.Document, error)

// PersistFunc persists one fetched document.
type PersistFunc func(ctx context.Context, doc source.Document) error

// Options sizes the run. Zero values fall back to defaults.
type Options struct {
	// ChunkSize is the maximum keys per fetch call (the source's limit K).
	ChunkSize int

	// MaxConcurrentFetches bounds the fetch pool.
	MaxConcurrentFetches int

	// MaxConcurrentPersists bounds the persist pool.
	MaxConcurrentPersists int

	// RateLimitDelay is the minimum spacing between fetch calls.
	RateLimitDelay time.Duration

	// CallTimeout bounds each fetch call. Advisory: a timed-out chunk is
	// recorded as an error, never corrupts state.
	CallTimeout time.Duration

	// RunDeadline bounds the whole run. Advisory for the same reason:
	// every persisted write is individually idempotent.
	RunDeadline time.Duration

	// MaxErrors caps the collected error sample.
	MaxErrors int

	// HardFailureThreshold fails the run when total errors exceed it.
	// Zero or negative means errors are annotated but never fatal.
	HardFailureThreshold int

	// Retry configures transient-error retry for fetch calls.
	Retry resilience.RetryConfig
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 100
	}
	if o.MaxConcurrentFetches <= 0 {
		o.MaxConcurrentFetches = 4
	}
	if o.MaxConcurrentPersists <= 0 {
		o.MaxConcurrentPersists = 8
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = 25
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	return o
}

// Summary aggregates a run by counting. No ordering exists among chunks or
// records; every counter is commutative.
type Summary struct {
	KeysRequested int   `json:"keys_requested"`
	Chunks        int   `json:"chunks"`
	DocsFetched   int64 `json:"docs_fetched"`
	Persisted     int64 `json:"persisted"`

	// ErrorCount is the total number of failed chunks and records;
	// Errors is the bounded sample kept for run metadata.
	ErrorCount int      `json:"error_count"`
	Errors     []string `json:"errors,omitempty"`

	// Failed is set when ErrorCount exceeded the hard-failure threshold.
	Failed bool `json:"failed"`
}

// errCollector accumulates errors up to a cap, counting the rest.
type errCollector struct {
	mu    sync.Mutex
	max   int
	count int
	msgs  []string
}

func (c *errCollector) add(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if len(c.msgs) < c.max {
		c.msgs = append(c.msgs, fmt.Sprintf("[%s] %s", resilience.Classify(err), err.Error()))
	}
}

// Chunk partitions keys into slices of at most size.
func Chunk(keys []string, size int) [][]string {
	if size <= 0 || len(keys) == 0 {
		if len(keys) == 0 {
			return nil
		}
		return [][]string{keys}
	}
	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

// Run fetches every key chunk and persists each resulting document.
// Individual chunk and record failures are collected, never fatal; the
// run fails only past the hard-failure threshold. The returned error is
// reserved for run-level problems (context cancellation).
func Run(ctx context.Context, opts Options, keys []string, fetch FetchFunc, persist PersistFunc) (*Summary, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "orchestrator"))

	if opts.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RunDeadline)
		defer cancel()
	}

	chunks := Chunk(keys, opts.ChunkSize)
	summary := &Summary{KeysRequested: len(keys), Chunks: len(chunks)}
	if len(chunks) == 0 {
		return summary, nil
	}

	var limiter *rate.Limiter
	if opts.RateLimitDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RateLimitDelay), 1)
	}

	collector := &errCollector{max: opts.MaxErrors}
	docCh := make(chan source.Document, opts.MaxConcurrentPersists*2)

	var fetched, persisted int64
	var countMu sync.Mutex

	// Persist pool.
	var persistWG sync.WaitGroup
	for i := 0; i < opts.MaxConcurrentPersists; i++ {
		persistWG.Add(1)
		go func() {
			defer persistWG.Done()
			for doc := range docCh {
				if err := persist(ctx, doc); err != nil {
					collector.add(err)
					continue
				}
				countMu.Lock()
				persisted++
				countMu.Unlock()
			}
		}()
	}

	// Fetch pool.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrentFetches)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}

			docs, err := resilience.Do(gctx, opts.Retry, func(rctx context.Context) ([]source.Document, error) {
				callCtx := rctx
				if opts.CallTimeout > 0 {
					var cancel context.CancelFunc
					callCtx, cancel = context.WithTimeout(rctx, opts.CallTimeout)
					defer cancel()
				}
				return fetch(callCtx, chunk)
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				collector.add(err)
				return nil // chunk failure never aborts the run
			}

			countMu.Lock()
			fetched += int64(len(docs))
			countMu.Unlock()

			for _, doc := range docs {
				select {
				case docCh <- doc:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	runErr := g.Wait()
	close(docCh)
	persistWG.Wait()

	summary.DocsFetched = fetched
	summary.Persisted = persisted
	summary.ErrorCount = collector.count
	summary.Errors = collector.msgs
	summary.Failed = opts.HardFailureThreshold > 0 && collector.count > opts.HardFailureThreshold

	log.Info("batch run finished",
		zap.Int("chunks", summary.Chunks),
		zap.Int64("fetched", summary.DocsFetched),
		zap.Int64("persisted", summary.Persisted),
		zap.Int("errors", summary.ErrorCount),
		zap.Bool("failed", summary.Failed),
	)

	if runErr != nil {
		return summary, runErr
	}
	return summary, nil
}
