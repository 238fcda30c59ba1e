// Package runner drives a per-item function over a batch of stubs with a
// fixed pool of workers and a pause between items.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

const (
	// DefaultConcurrency is the worker count used when Config leaves it unset.
	DefaultConcurrency = 5
	// DefaultDelay is the pause each worker takes between items.
	DefaultDelay = 200 * time.Millisecond
)

// ItemFunc processes one stub. A returned error (or panic) drops the item
// from the results and records it in Summary.Failed.
type ItemFunc func(ctx context.Context, stub mylist.ItemStub) (mylist.ItemResult, error)

// ProgressFunc observes (completed, total) after every item. Calls are
// serialized and completed is strictly increasing.
type ProgressFunc func(completed, total int)

// Config controls pool size and pacing. A zero Delay disables pacing.
type Config struct {
	Concurrency int
	Delay       time.Duration
	Progress    ProgressFunc
}

// Failure records an item whose function errored or panicked.
type Failure struct {
	ID  string
	Err error
}

// Summary is the outcome of a Run. Results are in completion order.
type Summary struct {
	Results []mylist.ItemResult
	Failed  []Failure
}

// Records returns the records of all results in completion order.
func (s Summary) Records() []mylist.EnrichedRecord {
	out := make([]mylist.EnrichedRecord, 0, len(s.Results))
	for _, res := range s.Results {
		out = append(out, res.Record)
	}
	return out
}

// Degraded counts results built without page metadata.
func (s Summary) Degraded() int {
	n := 0
	for _, res := range s.Results {
		if res.Outcome == mylist.OutcomeDegraded {
			n++
		}
	}
	return n
}

type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPause struct{}

func (timerPause) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Runner fans stubs out to a bounded worker pool.
type Runner struct {
	cfg    Config
	pause  pauseController
	logger *zap.Logger
}

// New constructs a Runner.
func New(cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Runner{cfg: cfg, pause: timerPause{}, logger: logger}
}

// WithProgress returns a copy of r that reports to fn.
func (r *Runner) WithProgress(fn ProgressFunc) *Runner {
	cp := *r
	cp.cfg.Progress = fn
	return &cp
}

// Run processes every stub exactly once using min(Concurrency, len(stubs))
// workers. Errors and panics from fn stop at the worker boundary: they are
// logged and recorded in Summary.Failed and never abort the batch. A
// cancelled ctx shortens pauses but does not skip stubs.
func (r *Runner) Run(ctx context.Context, stubs []mylist.ItemStub, fn ItemFunc) Summary {
	total := len(stubs)
	if total == 0 {
		return Summary{Results: []mylist.ItemResult{}}
	}
	workers := min(r.cfg.Concurrency, total)

	var (
		cursor    atomic.Int64
		mu        sync.Mutex
		completed int
		summary   = Summary{Results: make([]mylist.ItemResult, 0, total)}
		wg        sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()

			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= total {
					return
				}
				stub := stubs[idx]
				res, err := r.runOne(ctx, fn, stub)

				mu.Lock()
				if err != nil {
					summary.Failed = append(summary.Failed, Failure{ID: stub.ExternalID, Err: err})
					metrics.ObserveItem("failed")
				} else {
					summary.Results = append(summary.Results, res)
					metrics.ObserveItem(res.Outcome.String())
				}
				completed++
				if r.cfg.Progress != nil {
					r.cfg.Progress(completed, total)
				}
				mu.Unlock()

				if int(cursor.Load()) < total {
					r.pause.Pause(ctx, r.cfg.Delay)
				}
			}
		}()
	}
	wg.Wait()
	return summary
}

func (r *Runner) runOne(ctx context.Context, fn ItemFunc, stub mylist.ItemStub) (res mylist.ItemResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("item %s panicked: %v", stub.ExternalID, rec)
			r.logger.Error("item panicked", zap.String("item_id", stub.ExternalID), zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()
	res, err = fn(ctx, stub)
	if err != nil {
		r.logger.Warn("item failed", zap.String("item_id", stub.ExternalID), zap.Error(err))
		return mylist.ItemResult{}, fmt.Errorf("item %s: %w", stub.ExternalID, err)
	}
	return res, nil
}
