/*
Package ledger provides the core resource ledger engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for
  managing keyed, non-negative, auditable balances. Whether the resource
  is a member's wallet (money) or a product's stock level (units), the
  same engine handles balance mutation, journaling, and hold/release
  accounting.

KEY CONCEPTS IN THIS FILE (types.go):
  - ResourceKind: What kind of resource a balance tracks (wallet, stock)
  - Balance: Current available/held amounts for one (kind, owner) pair
  - JournalEntry: An immutable record of a single balance change
  - Reason: Closed set of why a balance changed

DESIGN PRINCIPLES:
  1. Immutability: Journal entries are never modified or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Non-negativity: Available and held never go below zero
  4. Auditability: Every change has a reason, reference, and actor

USAGE:
  led := ledger.New(store)
  entry, bal, err := led.ApplyDelta(ctx, ledger.KindStock, "prod-42",
      decimal.NewFromInt(20), ledger.ReasonStockAdd, "mov-1", "admin-7")

SEE ALSO:
  - ledger.go: Atomic delta application and hold/release operations
  - store.go: Persistence interface
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESOURCE IDENTITY
// =============================================================================

// ResourceKind identifies what kind of resource a balance tracks.
type ResourceKind string

const (
	// KindWallet tracks money owned by a member.
	KindWallet ResourceKind = "wallet"

	// KindStock tracks inventory units of a product.
	KindStock ResourceKind = "stock"
)

// OwnerID identifies the owner of a balance: a member ID for wallets,
// a product ID for stock.
type OwnerID string

// EntryID uniquely identifies a journal entry.
type EntryID string

// =============================================================================
// REASON - Why a balance changed
// =============================================================================

// Reason is the closed set of causes for a balance change.
// Every journal entry carries exactly one.
type Reason string

const (
	// ReasonRequestHold reserves funds behind a newly created payout request.
	ReasonRequestHold Reason = "request-hold"

	// ReasonRequestReleaseReject refunds held funds when a request is rejected.
	ReasonRequestReleaseReject Reason = "request-release-reject"

	// ReasonRequestSettle releases held funds out of the wallet on approval.
	ReasonRequestSettle Reason = "request-settle"

	// ReasonStockAdd adds inventory units.
	ReasonStockAdd Reason = "stock-add"

	// ReasonStockRemove removes inventory units.
	ReasonStockRemove Reason = "stock-remove"

	// ReasonCompensationCredit posts earnings from the compensation engine.
	// This is the only path that credits available directly.
	ReasonCompensationCredit Reason = "compensation-credit"
)

// =============================================================================
// BALANCE - Current state for one (kind, owner) pair
// =============================================================================

// Balance is the authoritative current balance of a resource.
//
// INVARIANTS:
//   - Available >= 0 at all times
//   - Held >= 0 at all times (always zero for stock)
//   - Available already excludes amounts behind pending requests
//
// Version is the optimistic concurrency token: every committed mutation
// increments it by one, and a commit against a stale version fails.
type Balance struct {
	Kind      ResourceKind
	OwnerID   OwnerID
	Available decimal.Decimal
	Held      decimal.Decimal
	Version   int64
}

// Total returns available + held. The sum of all journal deltas for a
// resource always equals this value.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Held)
}

// ZeroBalance returns the balance of an owner with no journal history.
func ZeroBalance(kind ResourceKind, owner OwnerID) Balance {
	return Balance{
		Kind:      kind,
		OwnerID:   owner,
		Available: decimal.Zero,
		Held:      decimal.Zero,
		Version:   0,
	}
}

// =============================================================================
// JOURNAL ENTRY - Immutable record of one balance change
// =============================================================================

// JournalEntry records a single balance change. Entries are append-only:
// no update, no delete, ever. Corrections are new entries.
//
// The delta is split per balance component so that internal moves
// (available -> held on request creation) are first-class: the invariant
// sum(AvailableDelta) == balance.Available and sum(HeldDelta) == balance.Held
// holds per component, and Delta() gives the signed change to the total.
type JournalEntry struct {
	ID             EntryID
	Kind           ResourceKind
	OwnerID        OwnerID
	AvailableDelta decimal.Decimal
	HeldDelta      decimal.Decimal
	Reason         Reason
	ReferenceID    string // request or movement id that caused this entry
	PerformedBy    string // actor from the auth service
	CreatedAt      time.Time
}

// Delta returns the signed change to the owner's total (available + held).
// Zero for pure internal moves such as holds and refunds.
func (e JournalEntry) Delta() decimal.Decimal {
	return e.AvailableDelta.Add(e.HeldDelta)
}
