/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Periodically settles pending withdrawal requests whose weekly cutoff
  has passed: each eligible request is moved to processing and handed
  to the batch processor's approve path.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - A request enters processing via a conditional status flip, so it is
    never picked up twice concurrently - not by overlapping runs, not
    by a racing manual approval
  - Requests whose window has not arrived are left pending
  - Every pass is recorded as a settlement run for audit and UI display

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewSettlementScheduler(payouts, batch, runs, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - payout/schedule.go: Cutoff arithmetic
  - handlers.go: TriggerSettlement endpoint (manual pass)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/payout"
)

// SettlementScheduler settles eligible pending requests on a timer.
type SettlementScheduler struct {
	Payouts *payout.Service
	Batch   *payout.BatchProcessor
	Runs    payout.RunStore

	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSettlementScheduler creates a scheduler with defaults.
func NewSettlementScheduler(payouts *payout.Service, batch *payout.BatchProcessor, runs payout.RunStore, log zerolog.Logger) *SettlementScheduler {
	return &SettlementScheduler{
		Payouts:       payouts,
		Batch:         batch,
		Runs:          runs,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "scheduler").Logger(),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ss *SettlementScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.log.Info().Msg("scheduler disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)
	go ss.run()

	ss.log.Info().Dur("interval", ss.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (ss *SettlementScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.log.Info().Msg("scheduler stopped")
	}
}

func (ss *SettlementScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start.
	ss.RunOnce(context.Background())

	for {
		select {
		case <-ss.ticker.C:
			ss.RunOnce(context.Background())
		case <-ss.stop:
			return
		}
	}
}

// RunOnce executes a single settlement pass and records it.
func (ss *SettlementScheduler) RunOnce(ctx context.Context) payout.SettlementRun {
	now := time.Now().UTC()
	run := payout.SettlementRun{
		ID:        "run-" + uuid.NewString(),
		StartedAt: now,
		Status:    payout.RunRunning,
	}
	if err := ss.Runs.SaveRun(ctx, run); err != nil {
		ss.log.Error().Err(err).Msg("failed to save run record")
	}

	eligible, err := ss.Payouts.Store.ListEligible(ctx, now)
	if err != nil {
		ss.log.Error().Err(err).Msg("failed to list eligible requests")
		run.Status = payout.RunFailed
		run.Error = err.Error()
		ss.finishRun(ctx, &run)
		return run
	}

	// Claim each request with the conditional pending -> processing
	// flip. Requests resolved concurrently simply drop out here.
	var claimed []string
	for _, req := range eligible {
		applied, err := ss.Payouts.MarkProcessing(ctx, req.ID)
		if err != nil {
			ss.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to mark processing")
			continue
		}
		if applied {
			claimed = append(claimed, req.ID)
		}
	}
	run.Picked = len(claimed)

	if len(claimed) > 0 {
		result := ss.Batch.BulkSettle(ctx, claimed, "scheduler")
		run.Settled = result.Succeeded
		run.Failed = result.Failed

		// A failed settle already flipped its request processing -> failed
		// inside the service; the run record just counts it.
		for _, item := range result.Items {
			if item.Outcome == payout.OutcomeFailed {
				ss.log.Error().Str("request_id", item.ID).Str("kind", item.Error).
					Str("detail", item.Message).Msg("settlement item failed")
			}
		}
	}

	run.Status = payout.RunCompleted
	ss.finishRun(ctx, &run)

	if run.Picked > 0 || run.Failed > 0 {
		ss.log.Info().Int("picked", run.Picked).Int("settled", run.Settled).
			Int("failed", run.Failed).Msg("settlement pass completed")
	}
	return run
}

func (ss *SettlementScheduler) finishRun(ctx context.Context, run *payout.SettlementRun) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err := ss.Runs.SaveRun(ctx, *run); err != nil {
		ss.log.Error().Err(err).Msg("failed to update run record")
	}
}
