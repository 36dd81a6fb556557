/*
ledger_test.go - Core ledger engine tests

Covers the engine invariants:
  1. Non-negativity - available and held never go below zero
  2. Atomicity - failed mutations write zero journal entries
  3. Journal consistency - deltas sum to the current balance
  4. Per-owner serialization under concurrent mutation
*/
package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/memory"
)

func newLedger() (*ledger.Ledger, *memory.Store) {
	store := memory.New()
	return ledger.New(store), store
}

func dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// =============================================================================
// APPLY DELTA
// =============================================================================

func TestApplyDelta_CreditsAvailable(t *testing.T) {
	// GIVEN: An empty wallet
	ctx := context.Background()
	led, _ := newLedger()

	// WHEN: The compensation engine credits 1000
	entry, bal, err := led.ApplyDelta(ctx, ledger.KindWallet, "m-1", dec(1000),
		ledger.ReasonCompensationCredit, "earn-1", "compensation-engine")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN: Available is 1000, held untouched, delta recorded in full
	if !bal.Available.Equal(dec(1000)) {
		t.Errorf("expected available 1000, got %s", bal.Available)
	}
	if !bal.Held.IsZero() {
		t.Errorf("expected held 0, got %s", bal.Held)
	}
	if !entry.Delta().Equal(dec(1000)) {
		t.Errorf("expected entry delta 1000, got %s", entry.Delta())
	}
}

func TestApplyDelta_RejectsOverdraw(t *testing.T) {
	// GIVEN: A stock balance of 50
	ctx := context.Background()
	led, store := newLedger()
	mustApply(t, led, ledger.KindStock, "p-1", 50)

	// WHEN: Removing 60
	_, _, err := led.ApplyDelta(ctx, ledger.KindStock, "p-1", dec(-60),
		ledger.ReasonStockRemove, "mov-2", "admin-1")

	// THEN: InsufficientResource, balance unchanged, no new journal entry
	if !errors.Is(err, ledger.ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}
	var detailed *ledger.InsufficientResourceError
	if !errors.As(err, &detailed) {
		t.Fatal("expected structured InsufficientResourceError")
	}
	if !detailed.Available.Equal(dec(50)) {
		t.Errorf("expected available 50 in error, got %s", detailed.Available)
	}

	bal, err := led.GetBalance(ctx, ledger.KindStock, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.Available.Equal(dec(50)) {
		t.Errorf("expected stock still 50, got %s", bal.Available)
	}
	entries, _ := store.Entries(ctx, ledger.KindStock, "p-1")
	if len(entries) != 1 {
		t.Errorf("expected exactly 1 journal entry, got %d", len(entries))
	}
}

func TestApplyDelta_RejectsZeroDelta(t *testing.T) {
	ctx := context.Background()
	led, _ := newLedger()

	_, _, err := led.ApplyDelta(ctx, ledger.KindStock, "p-1", decimal.Zero,
		ledger.ReasonStockAdd, "mov-1", "admin-1")
	if !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApplyDelta_RejectsMissingActor(t *testing.T) {
	ctx := context.Background()
	led, _ := newLedger()

	_, _, err := led.ApplyDelta(ctx, ledger.KindStock, "p-1", dec(5),
		ledger.ReasonStockAdd, "mov-1", "")
	if !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

// =============================================================================
// HOLD / REFUND / SETTLE
// =============================================================================

func TestHold_MovesAvailableToHeld(t *testing.T) {
	// GIVEN: A wallet with 1000 available
	ctx := context.Background()
	led, _ := newLedger()
	mustCredit(t, led, "m-1", 1000)

	// WHEN: Holding 500
	entry, bal, err := led.Hold(ctx, "m-1", dec(500), "req-1", "m-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN: available 500, held 500; the hold is an internal move
	if !bal.Available.Equal(dec(500)) || !bal.Held.Equal(dec(500)) {
		t.Errorf("expected 500/500, got %s/%s", bal.Available, bal.Held)
	}
	if !entry.Delta().IsZero() {
		t.Errorf("expected zero total delta for a hold, got %s", entry.Delta())
	}
}

func TestHold_RejectsWhenInsufficient(t *testing.T) {
	// GIVEN: A wallet with 100 available
	ctx := context.Background()
	led, _ := newLedger()
	mustCredit(t, led, "m-1", 100)

	// WHEN+THEN: Holding 101 fails and changes nothing
	if _, _, err := led.Hold(ctx, "m-1", dec(101), "req-1", "m-1"); !errors.Is(err, ledger.ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}
	bal, _ := led.GetBalance(ctx, ledger.KindWallet, "m-1")
	if !bal.Available.Equal(dec(100)) || !bal.Held.IsZero() {
		t.Errorf("expected 100/0, got %s/%s", bal.Available, bal.Held)
	}
}

func TestRefund_RestoresAvailable(t *testing.T) {
	// GIVEN: 500 held out of 1000
	ctx := context.Background()
	led, _ := newLedger()
	mustCredit(t, led, "m-1", 1000)
	if _, _, err := led.Hold(ctx, "m-1", dec(500), "req-1", "m-1"); err != nil {
		t.Fatalf("hold: %v", err)
	}

	// WHEN: Refunding the hold
	_, bal, err := led.Refund(ctx, "m-1", dec(500), "req-1", "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN: wallet back to 1000/0
	if !bal.Available.Equal(dec(1000)) || !bal.Held.IsZero() {
		t.Errorf("expected 1000/0, got %s/%s", bal.Available, bal.Held)
	}
}

func TestSettle_ReleasesHeldPermanently(t *testing.T) {
	// GIVEN: 500 held out of 1000
	ctx := context.Background()
	led, _ := newLedger()
	mustCredit(t, led, "m-1", 1000)
	if _, _, err := led.Hold(ctx, "m-1", dec(500), "req-1", "m-1"); err != nil {
		t.Fatalf("hold: %v", err)
	}

	// WHEN: Settling the hold
	entry, bal, err := led.Settle(ctx, "m-1", dec(500), "req-1", "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN: available unchanged, held 0, money left the wallet
	if !bal.Available.Equal(dec(500)) || !bal.Held.IsZero() {
		t.Errorf("expected 500/0, got %s/%s", bal.Available, bal.Held)
	}
	if !entry.Delta().Equal(dec(-500)) {
		t.Errorf("expected settle delta -500, got %s", entry.Delta())
	}
}

func TestSettle_RejectsMoreThanHeld(t *testing.T) {
	ctx := context.Background()
	led, _ := newLedger()
	mustCredit(t, led, "m-1", 1000)

	if _, _, err := led.Settle(ctx, "m-1", dec(1), "req-x", "admin-1"); !errors.Is(err, ledger.ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}
}

// =============================================================================
// JOURNAL CONSISTENCY
// =============================================================================

func TestJournal_DeltasSumToBalance(t *testing.T) {
	// GIVEN: A mixed history of credits, holds, refunds and settlements
	ctx := context.Background()
	led, _ := newLedger()
	mustCredit(t, led, "m-1", 1000)
	led.Hold(ctx, "m-1", dec(300), "req-1", "m-1")
	led.Hold(ctx, "m-1", dec(200), "req-2", "m-1")
	led.Refund(ctx, "m-1", dec(300), "req-1", "admin-1")
	led.Settle(ctx, "m-1", dec(200), "req-2", "admin-1")
	mustCredit(t, led, "m-1", 50)

	// WHEN: Replaying the journal
	entries, err := led.Entries(ctx, ledger.KindWallet, "m-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	available, held := decimal.Zero, decimal.Zero
	for _, e := range entries {
		available = available.Add(e.AvailableDelta)
		held = held.Add(e.HeldDelta)
	}

	// THEN: The replay matches the materialized balance exactly
	bal, _ := led.GetBalance(ctx, ledger.KindWallet, "m-1")
	if !available.Equal(bal.Available) || !held.Equal(bal.Held) {
		t.Errorf("journal replay %s/%s does not match balance %s/%s",
			available, held, bal.Available, bal.Held)
	}
	if !bal.Available.Equal(dec(850)) || !bal.Held.IsZero() {
		t.Errorf("expected 850/0, got %s/%s", bal.Available, bal.Held)
	}
}

func TestJournal_NewestFirst(t *testing.T) {
	ctx := context.Background()
	led, _ := newLedger()
	mustApply(t, led, ledger.KindStock, "p-1", 20)
	if _, _, err := led.ApplyDelta(ctx, ledger.KindStock, "p-1", dec(-5),
		ledger.ReasonStockRemove, "mov-2", "admin-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	entries, err := led.Entries(ctx, ledger.KindStock, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Reason != ledger.ReasonStockRemove {
		t.Errorf("expected newest entry first, got %s", entries[0].Reason)
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentDebits_NeverOverdraw(t *testing.T) {
	// GIVEN: A stock of 10 units
	ctx := context.Background()
	led, _ := newLedger()
	mustApply(t, led, ledger.KindStock, "p-1", 10)

	// WHEN: 50 goroutines each try to remove 1 unit
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := led.ApplyDelta(ctx, ledger.KindStock, "p-1", dec(-1),
				ledger.ReasonStockRemove, "mov-concurrent", "admin-1")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ledger.ErrInsufficientResource) {
				t.Errorf("unexpected error kind: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// THEN: Exactly 10 removals won; the balance is exactly zero
	if succeeded != 10 {
		t.Errorf("expected exactly 10 successful removals, got %d", succeeded)
	}
	bal, _ := led.GetBalance(ctx, ledger.KindStock, "p-1")
	if !bal.Available.IsZero() {
		t.Errorf("expected stock 0, got %s", bal.Available)
	}
	if bal.Available.IsNegative() {
		t.Error("stock went negative under concurrency")
	}
}

func TestConcurrentOwners_Independent(t *testing.T) {
	// Mutations on different owners proceed in parallel without
	// interfering with each other's balances.
	ctx := context.Background()
	led, _ := newLedger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			owner := ledger.OwnerID("m-a")
			if n%2 == 0 {
				owner = "m-b"
			}
			led.ApplyDelta(ctx, ledger.KindWallet, owner, dec(10),
				ledger.ReasonCompensationCredit, "earn", "compensation-engine")
		}(i)
	}
	wg.Wait()

	balA, _ := led.GetBalance(ctx, ledger.KindWallet, "m-a")
	balB, _ := led.GetBalance(ctx, ledger.KindWallet, "m-b")
	if !balA.Available.Equal(dec(100)) || !balB.Available.Equal(dec(100)) {
		t.Errorf("expected 100/100 across owners, got %s/%s", balA.Available, balB.Available)
	}
}

// =============================================================================
// UNKNOWN OWNERS
// =============================================================================

func TestGetBalance_UnknownOwnerIsZero(t *testing.T) {
	ctx := context.Background()
	led, _ := newLedger()

	bal, err := led.GetBalance(ctx, ledger.KindWallet, "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.Available.IsZero() || !bal.Held.IsZero() || bal.Version != 0 {
		t.Errorf("expected zero balance, got %+v", bal)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func mustCredit(t *testing.T, led *ledger.Ledger, owner ledger.OwnerID, amount int64) {
	t.Helper()
	_, _, err := led.ApplyDelta(context.Background(), ledger.KindWallet, owner, dec(amount),
		ledger.ReasonCompensationCredit, "seed", "compensation-engine")
	if err != nil {
		t.Fatalf("seed credit: %v", err)
	}
}

func mustApply(t *testing.T, led *ledger.Ledger, kind ledger.ResourceKind, owner ledger.OwnerID, amount int64) {
	t.Helper()
	_, _, err := led.ApplyDelta(context.Background(), kind, owner, dec(amount),
		ledger.ReasonStockAdd, "seed", "admin-1")
	if err != nil {
		t.Fatalf("seed apply: %v", err)
	}
}
