/*
batch.go - Bulk approve/reject with per-item isolation

PURPOSE:
  Admin dashboards select many request ids and resolve them in one call.
  Each id is attempted independently: one item's failure never aborts
  the others, and a stale selection (a request resolved concurrently by
  a single action) surfaces as that item's request-not-pending failure,
  never a silent skip or a false success.

ATOMICITY:
  Each item's mutation is atomic (service + ledger guarantees), but the
  batch as a whole has no atomicity across items. Items touching
  different wallets run in parallel over a bounded worker pool; items on
  the same wallet serialize inside the ledger.

SEE ALSO:
  - service.go: The single-item operations being fanned out
*/
package payout

import (
	"context"
	"errors"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// defaultBatchWorkers bounds the fan-out of one bulk call.
const defaultBatchWorkers = 8

// =============================================================================
// RESULTS
// =============================================================================

// Outcome is the per-item result kind.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ItemResult reports what happened to one id in a bulk call.
type ItemResult struct {
	ID      string
	Outcome Outcome
	Error   string // machine-readable kind, empty on success
	Message string // human-readable detail, empty on success
}

// BatchResult aggregates a bulk call.
type BatchResult struct {
	Items     []ItemResult
	Succeeded int
	Failed    int
}

// =============================================================================
// BATCH PROCESSOR
// =============================================================================

// BatchProcessor fans bulk operations out over the payout service.
type BatchProcessor struct {
	Service *Service
	Workers int
}

// NewBatchProcessor creates a processor with the default worker bound.
func NewBatchProcessor(svc *Service) *BatchProcessor {
	return &BatchProcessor{Service: svc, Workers: defaultBatchWorkers}
}

// BulkApprove attempts to approve every id independently.
func (bp *BatchProcessor) BulkApprove(ctx context.Context, ids []string, actor string) BatchResult {
	return bp.run(ctx, ids, func(ctx context.Context, id string) error {
		_, err := bp.Service.Approve(ctx, id, actor)
		return err
	})
}

// BulkSettle settles requests the settlement scheduler has already
// claimed into processing.
func (bp *BatchProcessor) BulkSettle(ctx context.Context, ids []string, actor string) BatchResult {
	return bp.run(ctx, ids, func(ctx context.Context, id string) error {
		_, err := bp.Service.SettleClaimed(ctx, id, actor)
		return err
	})
}

// BulkReject attempts to reject every id independently with the same
// optional reason.
func (bp *BatchProcessor) BulkReject(ctx context.Context, ids []string, reason string, actor string) BatchResult {
	return bp.run(ctx, ids, func(ctx context.Context, id string) error {
		_, err := bp.Service.Reject(ctx, id, reason, actor)
		return err
	})
}

// run executes op for every id on a bounded worker pool. Results keep
// the caller's id order.
func (bp *BatchProcessor) run(ctx context.Context, ids []string, op func(context.Context, string) error) BatchResult {
	workers := bp.Workers
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	items := make([]ItemResult, len(ids))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = bp.one(ctx, ids[i], op)
			}
		}()
	}
	for i := range ids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	result := BatchResult{Items: items}
	for _, item := range items {
		if item.Outcome == OutcomeSuccess {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result
}

func (bp *BatchProcessor) one(ctx context.Context, id string, op func(context.Context, string) error) ItemResult {
	if err := op(ctx, id); err != nil {
		return ItemResult{
			ID:      id,
			Outcome: OutcomeFailed,
			Error:   ErrorKind(err),
			Message: err.Error(),
		}
	}
	return ItemResult{ID: id, Outcome: OutcomeSuccess}
}

// =============================================================================
// ERROR KIND MAPPING
// =============================================================================

// ErrorKind maps an error to its machine-readable taxonomy kind, as
// reported per item and by the HTTP layer.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrRequestNotPending):
		return "request_not_pending"
	case errors.Is(err, ErrRequestNotFound):
		return "request_not_found"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientResource):
		return "insufficient_resource"
	case errors.Is(err, ledger.ErrValidation):
		return "validation_error"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return "concurrent_modification"
	default:
		return "storage_failure"
	}
}
