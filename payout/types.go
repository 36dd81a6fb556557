/*
Package payout provides the withdrawal request lifecycle on top of the
ledger engine.

PURPOSE:
  Members request withdrawals from their wallet; admins (or the
  settlement scheduler) approve or reject them. Funds are held at
  creation time, so a member can never issue requests that together
  exceed the wallet, and rejection is a pure refund.

STATE MACHINE:
  pending ──▶ processing ──▶ completed
     │             │
     │             └───────▶ failed
     ├───────────▶ completed
     ├───────────▶ rejected
     └───────────▶ failed

  pending is the sole initial state; completed, rejected and failed are
  terminal. processing is the transient claim taken immediately before
  settlement, by an admin approve or by the settlement scheduler; the
  conditional flip into it is what makes the settle exclusive. All
  transitions are one-way; anything not in the table is rejected.

LEDGER COUPLING:
  create  -> Hold(gross)      available -= gross, held += gross
  approve -> Settle(gross)    held -= gross (leaves the wallet)
  reject  -> Refund(gross)    held -= gross, available += gross

SEE ALSO:
  - service.go: Lifecycle operations
  - batch.go: Bulk approve/reject with per-item isolation
  - schedule.go: Settlement window arithmetic
*/
package payout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Closed set with an explicit transition table
// =============================================================================

// Status is a payout request's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
)

// transitions is the full set of allowed state changes. Terminal states
// have no exits.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusRejected, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ParseStatus validates a status string from the API ("all" is handled
// by Filter, not here).
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusRejected, StatusFailed:
		return Status(s), true
	}
	return "", false
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is a member's withdrawal request. Rows are never deleted;
// terminal states are retained for history.
type Request struct {
	ID          string
	MemberID    string
	GrossAmount decimal.Decimal
	NetAmount   decimal.Decimal // gross minus the configured fee
	PayoutType  string          // e.g. "bank", "e-wallet"; opaque to the engine
	Status      Status

	// ScheduledFor is the settlement cutoff this request becomes
	// eligible at. The scheduler only picks up pending requests whose
	// cutoff has passed.
	ScheduledFor time.Time

	CreatedAt       time.Time
	ProcessedAt     *time.Time
	RejectionReason *string
}

// =============================================================================
// QUERIES
// =============================================================================

// Filter narrows a request listing. Zero values mean "no constraint";
// the API's status=all maps to a nil Status.
type Filter struct {
	Status   *Status
	MemberID string
}

// Stats are the aggregate numbers shown on the admin payout dashboard.
type Stats struct {
	PendingCount         int
	PendingAmount        decimal.Decimal
	ProcessedToday       int
	ProcessedTodayAmount decimal.Decimal
	RejectedCount        int
}

// =============================================================================
// SETTLEMENT RUN - Audit record of one scheduler pass
// =============================================================================

// RunStatus is the outcome of a settlement run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SettlementRun records one pass of the settlement scheduler for audit
// and UI display.
type SettlementRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Picked     int // requests moved to processing
	Settled    int // approved successfully
	Failed     int // ledger or storage failures
	Error      string
}

// =============================================================================
// STORE - Request persistence
// =============================================================================

// RequestStore persists payout requests.
//
// Transition is the concurrency guard for the state machine: it flips
// the status conditionally in one atomic step, so only one of two
// racing resolutions (double-click, concurrent bulk action, scheduler)
// wins. The loser observes applied == false.
type RequestStore interface {
	// SaveRequest inserts a new request.
	SaveRequest(ctx context.Context, req Request) error

	// GetRequest returns a request by id. found is false if absent.
	GetRequest(ctx context.Context, id string) (req Request, found bool, err error)

	// ListRequests returns requests matching the filter, newest first.
	ListRequests(ctx context.Context, filter Filter) ([]Request, error)

	// Transition atomically moves a request to next if its current
	// status is one of from. Updates processedAt and rejectionReason
	// when non-nil. Returns applied == false if the request was not in
	// any of the from statuses.
	Transition(ctx context.Context, id string, from []Status, next Status, processedAt *time.Time, rejectionReason *string) (applied bool, err error)

	// RequestStats aggregates dashboard numbers. today is the start of
	// the current day in the server's timezone.
	RequestStats(ctx context.Context, today time.Time) (Stats, error)

	// ListEligible returns pending requests with scheduledFor <= cutoff,
	// oldest first. Used by the settlement scheduler.
	ListEligible(ctx context.Context, cutoff time.Time) ([]Request, error)
}

// RunStore persists settlement run records.
type RunStore interface {
	SaveRun(ctx context.Context, run SettlementRun) error
	ListRuns(ctx context.Context, limit int) ([]SettlementRun, error)
}
