// Package pipeline drives parallel conversation generation: a pool of
// worker goroutines pulls seeds from a shared channel, runs the per-seed
// generator, and streams results back to the main loop, which groups them
// into batches and checkpoints after every batch.
//
// Output order is completion order, not seed order. Each batch commit is a
// durability boundary: everything committed survives a crash, everything
// after the last commit is regenerated on resume.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/haasonsaas/tauforge/internal/config"
	"github.com/haasonsaas/tauforge/internal/dialogue"
	"github.com/haasonsaas/tauforge/internal/progress"
	"github.com/haasonsaas/tauforge/internal/ratelimit"
	"github.com/haasonsaas/tauforge/internal/seeds"
)

// SeedGenerator produces one conversation from one seed. A returned error
// or a sentinel record both count as a failed seed.
type SeedGenerator interface {
	Generate(ctx context.Context, seed seeds.Seed) (dialogue.Conversation, error)
}

// Orchestrator owns the generation run: planning, workers, batching,
// pacing, and checkpoint commits. The completed list and the progress
// store are touched only by Run's goroutine.
type Orchestrator struct {
	gen     SeedGenerator
	corpus  *seeds.Store
	store   *progress.Store
	pacer   *ratelimit.Pacer
	tracker *Tracker
	logger  *slog.Logger

	target    int
	workers   int
	batchSize int
}

// New wires an orchestrator from the run configuration. store may be nil
// when checkpointing is disabled; out receives the progress display.
func New(cfg *config.Config, gen SeedGenerator, corpus *seeds.Store, store *progress.Store, out io.Writer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	target := cfg.Generation.TargetCount
	return &Orchestrator{
		gen:       gen,
		corpus:    corpus,
		store:     store,
		pacer:     ratelimit.NewPacer(cfg.Generation.PacingDelay()),
		tracker:   NewTracker(target, out, logger),
		logger:    logger,
		target:    target,
		workers:   cfg.Generation.Workers,
		batchSize: cfg.Generation.BatchSize,
	}
}

// Tracker exposes the run counters, mainly for the final summary.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// Run generates conversations until the target is met, continuing from
// existing (restored from a checkpoint). It returns whatever completed,
// even on error, so callers can still persist partial work. A checkpoint
// write failure is fatal and aborts the run; a full planning round that
// produces zero conversations also aborts, so a dead provider cannot spin
// forever.
func (o *Orchestrator) Run(ctx context.Context, existing []dialogue.Conversation) ([]dialogue.Conversation, error) {
	completed := make([]dialogue.Conversation, len(existing))
	copy(completed, existing)

	if len(completed) >= o.target {
		return completed[:o.target], nil
	}

	o.tracker.Begin(len(completed))
	defer o.tracker.Finish()

	o.logger.Info("generation started",
		"target", o.target,
		"existing", len(completed),
		"workers", o.workers,
		"batch_size", o.batchSize)

	for len(completed) < o.target {
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		remaining := o.target - len(completed)
		roundSuccesses := 0

		for offset := 0; offset < remaining; offset += o.batchSize {
			size := o.batchSize
			if rest := remaining - offset; rest < size {
				size = rest
			}
			batch := make([]seeds.Seed, size)
			for i := range batch {
				batch[i] = o.corpus.Random()
			}

			results := o.processBatch(ctx, batch)
			completed = append(completed, results...)
			roundSuccesses += len(results)

			if err := o.commit(completed); err != nil {
				return completed, fmt.Errorf("checkpoint write failed: %w", err)
			}
			o.tracker.Committed(len(completed))

			if err := ctx.Err(); err != nil {
				return completed, err
			}
			if offset+size < remaining {
				if err := o.pacer.BatchPause(ctx); err != nil {
					return completed, err
				}
			}
		}

		if roundSuccesses == 0 {
			return completed, fmt.Errorf("a full round of %d seeds produced no conversations (%d/%d done)",
				remaining, len(completed), o.target)
		}
	}

	return completed[:o.target], nil
}

// processBatch fans one batch of seeds out to the worker pool and collects
// the non-sentinel results. Results arrive in completion order. On
// cancellation the workers drain the seed channel without starting new
// calls and the partial results are returned for a final commit.
func (o *Orchestrator) processBatch(ctx context.Context, batch []seeds.Seed) []dialogue.Conversation {
	seedCh := make(chan seeds.Seed)
	resultCh := make(chan dialogue.Conversation, len(batch))

	workers := o.workers
	if workers > len(batch) {
		workers = len(batch)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for seed := range seedCh {
				if ctx.Err() != nil {
					continue
				}
				if err := o.pacer.Wait(ctx); err != nil {
					continue
				}
				conv, err := o.gen.Generate(ctx, seed)
				if err != nil || conv.Sentinel() {
					o.tracker.Attempt(false)
					if err != nil {
						o.logger.Debug("seed failed", "sample_id", seeds.SampleID(seed), "error", err)
					}
					continue
				}
				o.tracker.Attempt(true)
				resultCh <- conv
			}
		}()
	}

	go func() {
		defer close(seedCh)
		for _, seed := range batch {
			select {
			case seedCh <- seed:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(resultCh)

	results := make([]dialogue.Conversation, 0, len(batch))
	for conv := range resultCh {
		results = append(results, conv)
	}
	return results
}

func (o *Orchestrator) commit(completed []dialogue.Conversation) error {
	if o.store == nil {
		return nil
	}
	return o.store.Save(completed, o.target)
}
