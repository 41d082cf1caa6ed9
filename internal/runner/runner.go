// Package runner executes batches of runs through one engine adapter with a
// bounded worker pool. Items are independent: an item's failure becomes its
// outcome, never a pool abort, and there are no automatic retries. Write-once
// records and content-addressed snapshots make caller-level retries safe.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/lockstephq/lockstep/internal/batch"
	"github.com/lockstephq/lockstep/internal/contract"
	"github.com/lockstephq/lockstep/internal/engine"
	"github.com/lockstephq/lockstep/internal/registry"
)

// Outcome is one item's terminal result: a saved record or an error, never
// both.
type Outcome struct {
	Index  int
	Record *contract.ExperimentRecord
	Err    error
}

// Options configures a Runner. The zero value runs single-worker with no
// persistence, no batch tracking, and a discards-everything logger.
type Options struct {
	// Workers bounds the pool. Values below one run single-worker.
	Workers int

	// Store receives each successful run's record. Nil disables saving.
	Store registry.RecordStore

	// Tracker observes the batch lifecycle. Nil selects the inert tracker.
	Tracker batch.Tracker

	Logger *slog.Logger
}

// Runner drives requests through one adapter.
type Runner struct {
	adapter engine.Adapter
	workers int
	store   registry.RecordStore
	tracker batch.Tracker
	logger  *slog.Logger
}

// New creates a runner for the adapter.
func New(adapter engine.Adapter, opts Options) *Runner {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = batch.NopTracker{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		adapter: adapter,
		workers: workers,
		store:   opts.Store,
		tracker: tracker,
		logger:  logger,
	}
}

// Run executes every request and returns one outcome per request, index
// aligned. On cancellation, in-flight items finish as they will and
// undispatched items fail with reason "cancelled"; the partial outcomes are
// returned alongside the context's error.
func (r *Runner) Run(ctx context.Context, requests []*contract.RunRequest) ([]Outcome, error) {
	if len(requests) == 0 {
		return []Outcome{}, nil
	}
	if err := r.tracker.Begin(len(requests)); err != nil {
		return nil, err
	}

	type job struct {
		index int
		req   *contract.RunRequest
	}
	jobs := make(chan job, r.workers*2)
	results := make(chan Outcome, r.workers*2)

	// Workers
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for w := 0; w < r.workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-jobs:
					if !ok {
						return
					}
					rec, err := r.runOne(ctx, j.req)
					select {
					case results <- Outcome{Index: j.index, Record: rec, Err: err}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	// Collector: applies outcomes to the tracker in arrival order.
	outcomes := make([]Outcome, len(requests))
	resolved := make([]bool, len(requests))
	var cwg sync.WaitGroup
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		for out := range results {
			outcomes[out.Index] = out
			resolved[out.Index] = true
			if out.Err != nil {
				reason := failureReason(out.Err)
				r.logger.Warn("item failed", "index", out.Index, "reason", reason)
				if terr := r.tracker.ItemFailed(out.Index, reason); terr != nil {
					r.logger.Warn("tracker update failed", "index", out.Index, "error", terr)
				}
				continue
			}
			r.logger.Debug("item complete", "index", out.Index, "run_id", out.Record.RunID)
			if terr := r.tracker.ItemSucceeded(out.Index, out.Record.RunID); terr != nil {
				r.logger.Warn("tracker update failed", "index", out.Index, "error", terr)
			}
		}
	}()

	// Feed
feed:
	for i, req := range requests {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{index: i, req: req}:
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	cwg.Wait()

	// Gaps are items no worker ever took: cancelled before dispatch.
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	for i := range outcomes {
		if !resolved[i] {
			outcomes[i] = Outcome{Index: i, Err: cause}
			if terr := r.tracker.ItemFailed(i, "cancelled"); terr != nil {
				r.logger.Warn("tracker update failed", "index", i, "error", terr)
			}
		}
	}

	return outcomes, ctx.Err()
}

// runOne executes one request and saves its record when a store is
// configured. The stored request drops the inline series once a snapshot id
// pins the dataset: the registry holds provenance, not payload.
func (r *Runner) runOne(ctx context.Context, req *contract.RunRequest) (*contract.ExperimentRecord, error) {
	res, err := r.adapter.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	stored := *req
	if res.Metadata.SnapshotID != "" {
		stored.Series = nil
		stored.SnapshotID = res.Metadata.SnapshotID
	}
	rec := &contract.ExperimentRecord{
		RunID:   res.Metadata.RunID,
		Request: stored,
		Result:  *res,
	}

	if r.store != nil {
		if err := r.store.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("save run %s: %w", res.Metadata.RunID, err)
		}
	}
	return rec, nil
}

// failureReason renders an item error for the batch record. Context
// cancellation collapses to the reserved "cancelled" reason; contract
// errors keep their kind prefix.
func failureReason(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return err.Error()
}
