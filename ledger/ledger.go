/*
ledger.go - Atomic balance mutation engine

PURPOSE:
  The Ledger is the single write path for every balance. Domain services
  (payout requests, stock movements) never do balance arithmetic
  themselves; they call the ledger, which validates the mutation against
  the current balance, appends exactly one journal entry, and updates
  the balance row atomically.

OPERATIONS:
  ApplyDelta: Signed change to available (stock add/remove, earnings credit)
  Hold:       Move available -> held (payout request created)
  Refund:     Move held -> available (payout request rejected)
  Settle:     Release held out of the wallet (payout request approved)

PER-OWNER SERIALIZATION:
  Two concurrent mutations on the same (kind, owner) must never race
  past the non-negativity check. The engine takes a per-owner mutex and
  additionally commits with an optimistic version check; a lost version
  race (e.g. another process sharing the database) is retried a bounded
  number of times before ErrConcurrentModification is surfaced.
  Mutations on different owners run in parallel. Reads never block.

FAILURE SEMANTICS:
  On any failure zero journal entries are written. Once a mutation has
  passed the balance check and been committed it is complete; there is
  no cancellation mid-mutation.

SEE ALSO:
  - store.go: Persistence contract
  - payout/service.go, stock/service.go: Callers
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxCommitRetries bounds internal retries on a lost version race.
const maxCommitRetries = 3

// =============================================================================
// LEDGER
// =============================================================================

// Ledger applies validated, journaled mutations to balances.
type Ledger struct {
	store Store
	locks ownerLocks

	// now is swappable for tests.
	now func() time.Time
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: ownerLocks{locks: make(map[lockKey]*sync.Mutex)},
		now:   time.Now,
	}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// ApplyDelta applies a signed change to the available balance of
// (kind, owner). Fails with ErrInsufficientResource, and writes nothing,
// if the change would drive available below zero.
func (l *Ledger) ApplyDelta(
	ctx context.Context,
	kind ResourceKind,
	owner OwnerID,
	delta decimal.Decimal,
	reason Reason,
	referenceID string,
	actor string,
) (JournalEntry, Balance, error) {
	if delta.IsZero() {
		return JournalEntry{}, Balance{}, &ValidationError{Field: "delta", Message: "must be non-zero"}
	}
	return l.commit(ctx, kind, owner, delta, decimal.Zero, reason, referenceID, actor)
}

// Hold moves amount from available to held on a wallet. This reserves
// funds behind a pending payout request so that concurrent requests
// cannot together exceed the balance.
func (l *Ledger) Hold(
	ctx context.Context,
	owner OwnerID,
	amount decimal.Decimal,
	referenceID string,
	actor string,
) (JournalEntry, Balance, error) {
	if !amount.IsPositive() {
		return JournalEntry{}, Balance{}, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	return l.commit(ctx, KindWallet, owner, amount.Neg(), amount, ReasonRequestHold, referenceID, actor)
}

// Refund moves amount from held back to available. Used when a payout
// request is rejected: a pure, always-safe refund.
func (l *Ledger) Refund(
	ctx context.Context,
	owner OwnerID,
	amount decimal.Decimal,
	referenceID string,
	actor string,
) (JournalEntry, Balance, error) {
	if !amount.IsPositive() {
		return JournalEntry{}, Balance{}, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	return l.commit(ctx, KindWallet, owner, amount, amount.Neg(), ReasonRequestReleaseReject, referenceID, actor)
}

// Settle releases amount from held without returning it to available:
// the money leaves the wallet permanently on payout approval.
func (l *Ledger) Settle(
	ctx context.Context,
	owner OwnerID,
	amount decimal.Decimal,
	referenceID string,
	actor string,
) (JournalEntry, Balance, error) {
	if !amount.IsPositive() {
		return JournalEntry{}, Balance{}, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	return l.commit(ctx, KindWallet, owner, decimal.Zero, amount.Neg(), ReasonRequestSettle, referenceID, actor)
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the latest committed balance. Owners with no
// journal history have a zero balance.
func (l *Ledger) GetBalance(ctx context.Context, kind ResourceKind, owner OwnerID) (Balance, error) {
	bal, found, err := l.store.GetBalance(ctx, kind, owner)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: get balance: %v", ErrStorage, err)
	}
	if !found {
		return ZeroBalance(kind, owner), nil
	}
	return bal, nil
}

// Entries returns the journal for one owner, newest first.
func (l *Ledger) Entries(ctx context.Context, kind ResourceKind, owner OwnerID) ([]JournalEntry, error) {
	entries, err := l.store.Entries(ctx, kind, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: load entries: %v", ErrStorage, err)
	}
	return entries, nil
}

// EntriesByReference returns all entries behind one request or movement.
func (l *Ledger) EntriesByReference(ctx context.Context, referenceID string) ([]JournalEntry, error) {
	entries, err := l.store.EntriesByReference(ctx, referenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: load entries by reference: %v", ErrStorage, err)
	}
	return entries, nil
}

// =============================================================================
// COMMIT - The single mutation path
// =============================================================================

func (l *Ledger) commit(
	ctx context.Context,
	kind ResourceKind,
	owner OwnerID,
	availableDelta decimal.Decimal,
	heldDelta decimal.Decimal,
	reason Reason,
	referenceID string,
	actor string,
) (JournalEntry, Balance, error) {
	if owner == "" {
		return JournalEntry{}, Balance{}, &ValidationError{Field: "owner", Message: "must not be empty"}
	}
	if actor == "" {
		return JournalEntry{}, Balance{}, &ValidationError{Field: "actor", Message: "must not be empty"}
	}

	mu := l.locks.get(lockKey{kind: kind, owner: owner})
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		current, found, err := l.store.GetBalance(ctx, kind, owner)
		if err != nil {
			return JournalEntry{}, Balance{}, fmt.Errorf("%w: read balance: %v", ErrStorage, err)
		}
		if !found {
			current = ZeroBalance(kind, owner)
		}

		next := Balance{
			Kind:      kind,
			OwnerID:   owner,
			Available: current.Available.Add(availableDelta),
			Held:      current.Held.Add(heldDelta),
			Version:   current.Version + 1,
		}

		if next.Available.IsNegative() {
			return JournalEntry{}, Balance{}, &InsufficientResourceError{
				Kind:      kind,
				OwnerID:   owner,
				Available: current.Available,
				Requested: availableDelta.Neg(),
			}
		}
		if next.Held.IsNegative() {
			// Releasing more than is held. The request services guarantee
			// this cannot happen; surface it rather than clamp.
			return JournalEntry{}, Balance{}, &InsufficientResourceError{
				Kind:      kind,
				OwnerID:   owner,
				Available: current.Held,
				Requested: heldDelta.Neg(),
			}
		}

		entry := JournalEntry{
			ID:             EntryID(uuid.NewString()),
			Kind:           kind,
			OwnerID:        owner,
			AvailableDelta: availableDelta,
			HeldDelta:      heldDelta,
			Reason:         reason,
			ReferenceID:    referenceID,
			PerformedBy:    actor,
			CreatedAt:      l.now().UTC(),
		}

		err = l.store.Commit(ctx, entry, next, current.Version)
		if err == nil {
			return entry, next, nil
		}
		if !IsRetryable(err) {
			return JournalEntry{}, Balance{}, fmt.Errorf("%w: commit entry: %v", ErrStorage, err)
		}
		lastErr = err
	}

	return JournalEntry{}, Balance{}, fmt.Errorf("%w after %d attempts: %v",
		ErrConcurrentModification, maxCommitRetries, lastErr)
}

// =============================================================================
// PER-OWNER LOCKS
// =============================================================================

type lockKey struct {
	kind  ResourceKind
	owner OwnerID
}

// ownerLocks hands out one mutex per (kind, owner). Locks are never
// reclaimed; the owner population is bounded by members and products.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

func (ol *ownerLocks) get(k lockKey) *sync.Mutex {
	ol.mu.Lock()
	defer ol.mu.Unlock()
	if m, ok := ol.locks[k]; ok {
		return m
	}
	m := &sync.Mutex{}
	ol.locks[k] = m
	return m
}
