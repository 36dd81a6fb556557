/*
service.go - Payout request lifecycle operations

PURPOSE:
  Orchestrates the request state machine against the ledger. Every
  balance effect goes through the ledger's atomic operations; this
  service owns the request rows and the transition guards.

CONCURRENCY GUARD:
  Every resolution starts with a conditional Transition out of pending.
  Approve claims pending -> processing; the claim is the exclusivity
  token for the settle, so exactly one of two racing resolutions (or a
  racing scheduler pass) proceeds. Reject flips pending -> rejected the
  same way. The loser gets ErrRequestNotPending and causes no ledger
  change.

FAILURE SEMANTICS:
  Create: hold first, then persist the request. If persisting fails the
  hold is refunded, leaving no partial state.
  Approve: the ledger settle runs while the request is processing; it
  reaches completed only after the settle succeeds. A failed settle
  flips processing -> failed, so completed always means the funds left
  the wallet.
  Reject: a refund failure after the flip is logged with the request id
  and surfaced, never swallowed. The journal makes the discrepancy
  visible.

SEE ALSO:
  - types.go: State machine and store contract
  - batch.go: Bulk operations
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config carries the payout business parameters.
type Config struct {
	// MinWithdrawal is the smallest gross amount a member may request.
	MinWithdrawal decimal.Decimal

	// FeePercent is the admin charge deducted from gross to get net.
	FeePercent decimal.Decimal

	// SettlementDay is the weekly cutoff: requests become eligible for
	// settlement at 00:00 UTC on the next occurrence of this weekday.
	SettlementDay time.Weekday
}

// DefaultConfig mirrors the platform defaults.
func DefaultConfig() Config {
	return Config{
		MinWithdrawal: decimal.NewFromInt(450),
		FeePercent:    decimal.Zero,
		SettlementDay: time.Monday,
	}
}

// =============================================================================
// SERVICE
// =============================================================================

// Service drives the payout request lifecycle.
type Service struct {
	Ledger *ledger.Ledger
	Store  RequestStore
	Config Config

	log zerolog.Logger
	now func() time.Time
}

// NewService creates a payout service.
func NewService(led *ledger.Ledger, store RequestStore, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		Ledger: led,
		Store:  store,
		Config: cfg,
		log:    log.With().Str("component", "payout").Logger(),
		now:    time.Now,
	}
}

// =============================================================================
// CREATE - Hold funds, persist the request
// =============================================================================

// Create validates the amount against the wallet, holds the gross
// amount, and persists a pending request. On any failure no partial
// state is left behind.
func (s *Service) Create(
	ctx context.Context,
	memberID string,
	gross decimal.Decimal,
	payoutType string,
	actor string,
) (Request, error) {
	if memberID == "" {
		return Request{}, &ledger.ValidationError{Field: "member_id", Message: "must not be empty"}
	}
	if gross.LessThan(s.Config.MinWithdrawal) {
		return Request{}, &BelowMinimumError{Requested: gross, Minimum: s.Config.MinWithdrawal}
	}

	now := s.now().UTC()
	req := Request{
		ID:           uuid.NewString(),
		MemberID:     memberID,
		GrossAmount:  gross,
		NetAmount:    s.netAmount(gross),
		PayoutType:   payoutType,
		Status:       StatusPending,
		ScheduledFor: NextSettlement(now, s.Config.SettlementDay),
		CreatedAt:    now,
	}

	// Hold first: the ledger is the authority on whether the wallet can
	// cover the request.
	if _, _, err := s.Ledger.Hold(ctx, ledger.OwnerID(memberID), gross, req.ID, actor); err != nil {
		var insufficient *ledger.InsufficientResourceError
		if errors.As(err, &insufficient) {
			return Request{}, &InsufficientBalanceError{
				MemberID:  memberID,
				Available: insufficient.Available,
				Requested: gross,
			}
		}
		return Request{}, err
	}

	if err := s.Store.SaveRequest(ctx, req); err != nil {
		// Compensate: release the hold so the wallet is untouched.
		if _, _, refundErr := s.Ledger.Refund(ctx, ledger.OwnerID(memberID), gross, req.ID, actor); refundErr != nil {
			s.log.Error().Err(refundErr).Str("request_id", req.ID).
				Msg("failed to refund hold after request save failure")
		}
		return Request{}, fmt.Errorf("%w: save request: %v", ledger.ErrStorage, err)
	}

	s.log.Info().Str("request_id", req.ID).Str("member_id", memberID).
		Str("gross", gross.String()).Msg("withdrawal request created")
	return req, nil
}

// netAmount applies the configured fee, rounded to 2 decimal places.
func (s *Service) netAmount(gross decimal.Decimal) decimal.Decimal {
	fee := gross.Mul(s.Config.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
	return gross.Sub(fee)
}

// =============================================================================
// APPROVE / REJECT / MARK PROCESSING
// =============================================================================

// Approve settles a pending request: the held amount leaves the wallet
// permanently. It first claims the request with a conditional
// pending -> processing flip, so a second approve on the same id (or a
// race with the scheduler's pickup) fails with ErrRequestNotPending and
// causes no further ledger change.
func (s *Service) Approve(ctx context.Context, id string, actor string) (Request, error) {
	req, found, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, fmt.Errorf("%w: get request: %v", ledger.ErrStorage, err)
	}
	if !found {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	claimed, err := s.Store.Transition(ctx, id, []Status{StatusPending}, StatusProcessing, nil, nil)
	if err != nil {
		return Request{}, fmt.Errorf("%w: transition request: %v", ledger.ErrStorage, err)
	}
	if !claimed {
		return Request{}, s.notPending(ctx, id)
	}
	return s.settleClaimed(ctx, req, actor)
}

// SettleClaimed settles a request already claimed into processing via
// MarkProcessing. Only the settlement scheduler calls it, as the sole
// holder of that claim.
func (s *Service) SettleClaimed(ctx context.Context, id string, actor string) (Request, error) {
	req, found, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, fmt.Errorf("%w: get request: %v", ledger.ErrStorage, err)
	}
	if !found {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if req.Status != StatusProcessing {
		return Request{}, &NotPendingError{RequestID: id, Status: req.Status}
	}
	return s.settleClaimed(ctx, req, actor)
}

// settleClaimed runs the settle for a request the caller has claimed
// into processing. The terminal flip happens only after the ledger
// settle succeeds; a failed settle moves the request to failed instead,
// leaving the hold intact in the journal.
func (s *Service) settleClaimed(ctx context.Context, req Request, actor string) (Request, error) {
	if _, _, err := s.Ledger.Settle(ctx, ledger.OwnerID(req.MemberID), req.GrossAmount, req.ID, actor); err != nil {
		if flipErr := s.MarkFailed(ctx, req.ID); flipErr != nil {
			s.log.Error().Err(flipErr).Str("request_id", req.ID).
				Msg("failed to mark request failed after settle failure")
		}
		s.log.Error().Err(err).Str("request_id", req.ID).Msg("settle failed; request marked failed")
		return Request{}, err
	}

	processedAt := s.now().UTC()
	applied, err := s.Store.Transition(ctx, req.ID,
		[]Status{StatusProcessing}, StatusCompleted, &processedAt, nil)
	if err != nil {
		return Request{}, fmt.Errorf("%w: transition request: %v", ledger.ErrStorage, err)
	}
	if !applied {
		return Request{}, s.notPending(ctx, req.ID)
	}

	req.Status = StatusCompleted
	req.ProcessedAt = &processedAt
	s.log.Info().Str("request_id", req.ID).Str("actor", actor).Msg("withdrawal approved")
	return req, nil
}

// Reject refunds a pending request: the held amount moves back to
// available in full. Only pending requests can be rejected; once the
// scheduler has picked a request up for settlement it can no longer be
// rejected.
func (s *Service) Reject(ctx context.Context, id string, reason string, actor string) (Request, error) {
	req, found, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, fmt.Errorf("%w: get request: %v", ledger.ErrStorage, err)
	}
	if !found {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	processedAt := s.now().UTC()
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	applied, err := s.Store.Transition(ctx, id,
		[]Status{StatusPending}, StatusRejected, &processedAt, reasonPtr)
	if err != nil {
		return Request{}, fmt.Errorf("%w: transition request: %v", ledger.ErrStorage, err)
	}
	if !applied {
		return Request{}, s.notPending(ctx, id)
	}

	if _, _, err := s.Ledger.Refund(ctx, ledger.OwnerID(req.MemberID), req.GrossAmount, req.ID, actor); err != nil {
		s.log.Error().Err(err).Str("request_id", id).
			Msg("refund failed after status flip; held funds remain in journal")
		return Request{}, err
	}

	req.Status = StatusRejected
	req.ProcessedAt = &processedAt
	req.RejectionReason = reasonPtr
	s.log.Info().Str("request_id", id).Str("actor", actor).Msg("withdrawal rejected")
	return req, nil
}

// MarkProcessing moves a pending request into processing. Used only by
// the settlement scheduler; the conditional transition guarantees a
// request is never picked up twice concurrently.
func (s *Service) MarkProcessing(ctx context.Context, id string) (bool, error) {
	applied, err := s.Store.Transition(ctx, id, []Status{StatusPending}, StatusProcessing, nil, nil)
	if err != nil {
		return false, fmt.Errorf("%w: transition request: %v", ledger.ErrStorage, err)
	}
	return applied, nil
}

// MarkFailed moves a processing request into failed when its settlement
// could not be applied.
func (s *Service) MarkFailed(ctx context.Context, id string) error {
	_, err := s.Store.Transition(ctx, id, []Status{StatusProcessing}, StatusFailed, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: transition request: %v", ledger.ErrStorage, err)
	}
	return nil
}

// notPending builds the stale-transition error with the status the
// request is actually in.
func (s *Service) notPending(ctx context.Context, id string) error {
	req, found, err := s.Store.GetRequest(ctx, id)
	if err != nil || !found {
		return &NotPendingError{RequestID: id}
	}
	return &NotPendingError{RequestID: id, Status: req.Status}
}

// =============================================================================
// READS
// =============================================================================

// Get returns a single request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	req, found, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, fmt.Errorf("%w: get request: %v", ledger.ErrStorage, err)
	}
	if !found {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return req, nil
}

// List returns requests matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Request, error) {
	reqs, err := s.Store.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list requests: %v", ledger.ErrStorage, err)
	}
	return reqs, nil
}

// Stats returns the admin dashboard aggregates.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.Store.RequestStats(ctx, today)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: request stats: %v", ledger.ErrStorage, err)
	}
	return stats, nil
}
