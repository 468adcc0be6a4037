/*
scheduler.go - Result deduplication scheduler

PURPOSE:
  Periodically runs kpi.BatchRunner.Deduplicate so that records left with
  more than one active result by concurrent writers are repaired without
  an operator calling POST /api/calculations/deduplicate.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - A failed pass is logged; the next tick tries again

CONFIGURATION:
  - CheckInterval: How often to run (DEDUP_INTERVAL, default 1 hour)
  - Enabled: Whether scheduler is active (false when the interval is 0)

USAGE:
  scheduler := NewDedupScheduler(batch, logger, time.Hour)
  scheduler.Start()
  handler.Scheduler = scheduler // next_run_at on manual runs
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Deduplicate endpoint (manual run)
  - kpi/batch.go: Deduplicate
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/kpi-engine/kpi"
)

// DedupScheduler handles periodic result deduplication.
type DedupScheduler struct {
	Batch         *kpi.BatchRunner
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// lastTick is guarded by state; zero while stopped.
	state    sync.Mutex
	lastTick time.Time
}

// NewDedupScheduler creates a new scheduler. A zero interval disables it.
func NewDedupScheduler(batch *kpi.BatchRunner, logger *slog.Logger, interval time.Duration) *DedupScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DedupScheduler{
		Batch:         batch,
		Logger:        logger.With("component", "dedup_scheduler"),
		CheckInterval: interval,
		Enabled:       interval > 0,
	}
}

// Start begins the scheduler.
func (ds *DedupScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.Logger.Info("scheduler disabled, not starting")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.setLastTick(time.Now())
	ds.stop = make(chan struct{})
	ds.wg.Add(1)

	go ds.run(ds.ticker, ds.stop)

	ds.Logger.Info("scheduler started", "interval", ds.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (ds *DedupScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.ticker = nil
		ds.setLastTick(time.Time{})
		ds.Logger.Info("scheduler stopped")
	}
}

func (ds *DedupScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ds.wg.Done()

	// Run immediately on start
	ds.RunNow(context.Background())

	for {
		select {
		case t := <-ticker.C:
			ds.setLastTick(t)
			ds.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one deduplication pass (for testing/admin).
func (ds *DedupScheduler) RunNow(ctx context.Context) kpi.DedupReport {
	report, err := ds.Batch.Deduplicate(ctx)
	if err != nil {
		ds.Logger.ErrorContext(ctx, "deduplication pass failed", "error", err)
	}
	ds.Logger.DebugContext(ctx, "deduplication pass finished",
		"scanned", report.Scanned,
		"duplicated", report.Duplicated,
		"soft_deleted", len(report.SoftDeleted))
	return report
}

// GetNextRunTime returns when the next scheduled pass will occur, or the
// zero time when the scheduler is not running.
func (ds *DedupScheduler) GetNextRunTime() time.Time {
	ds.state.Lock()
	defer ds.state.Unlock()
	if ds.lastTick.IsZero() {
		return time.Time{}
	}
	return ds.lastTick.Add(ds.CheckInterval)
}

func (ds *DedupScheduler) setLastTick(t time.Time) {
	ds.state.Lock()
	ds.lastTick = t
	ds.state.Unlock()
}
