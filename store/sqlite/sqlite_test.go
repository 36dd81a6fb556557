/*
sqlite_test.go - SQLite store tests

Exercises the persistence contracts the memory store cannot stand in
for: the versioned balance commit, the conditional status UPDATE, and
the aggregate queries, all against an in-memory database.
*/
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/payout"
	"github.com/warp/ledger-engine/stock"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(kind ledger.ResourceKind, owner ledger.OwnerID, available, held int64) ledger.JournalEntry {
	return ledger.JournalEntry{
		ID:             ledger.EntryID(uuid.NewString()),
		Kind:           kind,
		OwnerID:        owner,
		AvailableDelta: decimal.NewFromInt(available),
		HeldDelta:      decimal.NewFromInt(held),
		Reason:         ledger.ReasonCompensationCredit,
		ReferenceID:    "ref-1",
		PerformedBy:    "tester",
		CreatedAt:      time.Now().UTC(),
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func TestCommit_RoundTrip(t *testing.T) {
	// GIVEN: An empty store
	ctx := context.Background()
	store := newStore(t)

	// WHEN: Committing a first entry at version 0, then a second at 1
	bal := ledger.Balance{Kind: ledger.KindWallet, OwnerID: "m-1",
		Available: decimal.NewFromInt(1000), Held: decimal.Zero, Version: 1}
	if err := store.Commit(ctx, entry(ledger.KindWallet, "m-1", 1000, 0), bal, 0); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	bal.Available = decimal.NewFromInt(1500)
	bal.Version = 2
	if err := store.Commit(ctx, entry(ledger.KindWallet, "m-1", 500, 0), bal, 1); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	// THEN: The balance reads back with the latest version, and both
	// entries survive, newest first
	got, found, err := store.GetBalance(ctx, ledger.KindWallet, "m-1")
	if err != nil || !found {
		t.Fatalf("get balance: found=%v err=%v", found, err)
	}
	if !got.Available.Equal(decimal.NewFromInt(1500)) || got.Version != 2 {
		t.Errorf("unexpected balance: %+v", got)
	}
	entries, err := store.Entries(ctx, ledger.KindWallet, "m-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].AvailableDelta.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected newest first, got %+v", entries[0])
	}
}

func TestCommit_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	bal := ledger.Balance{Kind: ledger.KindWallet, OwnerID: "m-1",
		Available: decimal.NewFromInt(100), Held: decimal.Zero, Version: 1}
	if err := store.Commit(ctx, entry(ledger.KindWallet, "m-1", 100, 0), bal, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A writer holding the stale version 0 must be rejected, and its
	// journal entry must not survive.
	stale := entry(ledger.KindWallet, "m-1", 50, 0)
	err := store.Commit(ctx, stale, bal, 0)
	if !ledger.IsRetryable(err) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	entries, _ := store.Entries(ctx, ledger.KindWallet, "m-1")
	if len(entries) != 1 {
		t.Errorf("stale commit leaked a journal entry: %d entries", len(entries))
	}
}

func TestCommit_DuplicateInsertRejected(t *testing.T) {
	// Two writers both observing "no balance row" race the insert; the
	// second must get the retryable conflict, not a driver error.
	ctx := context.Background()
	store := newStore(t)

	bal := ledger.Balance{Kind: ledger.KindStock, OwnerID: "p-1",
		Available: decimal.NewFromInt(10), Held: decimal.Zero, Version: 1}
	if err := store.Commit(ctx, entry(ledger.KindStock, "p-1", 10, 0), bal, 0); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := store.Commit(ctx, entry(ledger.KindStock, "p-1", 10, 0), bal, 0)
	if !ledger.IsRetryable(err) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestEntriesByReference(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	e := entry(ledger.KindWallet, "m-1", 1000, 0)
	e.ReferenceID = "req-42"
	bal := ledger.Balance{Kind: ledger.KindWallet, OwnerID: "m-1",
		Available: decimal.NewFromInt(1000), Held: decimal.Zero, Version: 1}
	if err := store.Commit(ctx, e, bal, 0); err != nil {
		t.Fatalf("commit: %v", err)
	}

	linked, err := store.EntriesByReference(ctx, "req-42")
	if err != nil {
		t.Fatalf("entries by reference: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != e.ID {
		t.Errorf("unexpected linked entries: %+v", linked)
	}
}

func TestEntries_SubsecondOrdering(t *testing.T) {
	// Timestamps are TEXT and ordered lexicographically, so fractional
	// seconds must encode fixed-width: trimmed encodings make ".1Z" sort
	// after ".15Z".
	ctx := context.Background()
	store := newStore(t)
	base := time.Date(2026, 8, 31, 12, 0, 5, 0, time.UTC)

	first := entry(ledger.KindWallet, "m-1", 100, 0)
	first.CreatedAt = base.Add(100 * time.Millisecond)
	bal := ledger.Balance{Kind: ledger.KindWallet, OwnerID: "m-1",
		Available: decimal.NewFromInt(100), Held: decimal.Zero, Version: 1}
	if err := store.Commit(ctx, first, bal, 0); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	second := entry(ledger.KindWallet, "m-1", 50, 0)
	second.CreatedAt = base.Add(150 * time.Millisecond)
	bal.Available = decimal.NewFromInt(150)
	bal.Version = 2
	if err := store.Commit(ctx, second, bal, 1); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	entries, err := store.Entries(ctx, ledger.KindWallet, "m-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != second.ID {
		t.Errorf("expected the .150s entry first, got %+v", entries[0])
	}
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func seedRequest(t *testing.T, store *Store, id string, status payout.Status, scheduledFor time.Time) payout.Request {
	t.Helper()
	reason := "too slow"
	req := payout.Request{
		ID:           id,
		MemberID:     "m-1",
		GrossAmount:  decimal.NewFromInt(500),
		NetAmount:    decimal.RequireFromString("487.50"),
		PayoutType:   "bank",
		Status:       status,
		ScheduledFor: scheduledFor,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	if status == payout.StatusRejected || status == payout.StatusCompleted {
		now := time.Now().UTC()
		req.ProcessedAt = &now
	}
	if status == payout.StatusRejected {
		req.RejectionReason = &reason
	}
	if err := store.SaveRequest(context.Background(), req); err != nil {
		t.Fatalf("save request: %v", err)
	}
	return req
}

func TestRequest_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	want := seedRequest(t, store, "req-1", payout.StatusRejected, time.Now().UTC())

	got, found, err := store.GetRequest(ctx, "req-1")
	if err != nil || !found {
		t.Fatalf("get request: found=%v err=%v", found, err)
	}
	if got.Status != payout.StatusRejected {
		t.Errorf("status: %s", got.Status)
	}
	if !got.GrossAmount.Equal(want.GrossAmount) || !got.NetAmount.Equal(want.NetAmount) {
		t.Errorf("amounts did not survive: %+v", got)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "too slow" {
		t.Errorf("rejection reason did not survive: %+v", got.RejectionReason)
	}
	if got.ProcessedAt == nil {
		t.Error("processed_at did not survive")
	}
}

func TestTransition_ConditionalFlip(t *testing.T) {
	// GIVEN: A pending request
	ctx := context.Background()
	store := newStore(t)
	seedRequest(t, store, "req-1", payout.StatusPending, time.Now().UTC())

	// WHEN: Two racing resolutions
	processedAt := time.Now().UTC()
	first, err := store.Transition(ctx, "req-1",
		[]payout.Status{payout.StatusPending, payout.StatusProcessing},
		payout.StatusCompleted, &processedAt, nil)
	if err != nil {
		t.Fatalf("first transition: %v", err)
	}
	reason := "dup"
	second, err := store.Transition(ctx, "req-1",
		[]payout.Status{payout.StatusPending}, payout.StatusRejected, &processedAt, &reason)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}

	// THEN: Only the first applies
	if !first || second {
		t.Errorf("expected first=true second=false, got %v/%v", first, second)
	}
	got, _, _ := store.GetRequest(ctx, "req-1")
	if got.Status != payout.StatusCompleted {
		t.Errorf("status: %s", got.Status)
	}
	if got.RejectionReason != nil {
		t.Error("loser's rejection reason leaked into the row")
	}
}

func TestTransition_UnknownID(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	applied, err := store.Transition(ctx, "ghost",
		[]payout.Status{payout.StatusPending}, payout.StatusCompleted, nil, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if applied {
		t.Error("transition applied to a missing row")
	}
}

func TestListEligible_FiltersByCutoffAndStatus(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()
	seedRequest(t, store, "due", payout.StatusPending, now.Add(-time.Hour))
	seedRequest(t, store, "future", payout.StatusPending, now.Add(time.Hour))
	seedRequest(t, store, "resolved", payout.StatusRejected, now.Add(-time.Hour))

	eligible, err := store.ListEligible(ctx, now)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != "due" {
		t.Errorf("unexpected eligible set: %+v", eligible)
	}
}

func TestListEligible_SubsecondCutoff(t *testing.T) {
	// The cutoff comparison runs on the TEXT column; a request scheduled
	// at .100s must be eligible against a cutoff of .150s within the
	// same second.
	ctx := context.Background()
	store := newStore(t)
	base := time.Date(2026, 8, 31, 0, 0, 5, 0, time.UTC)
	seedRequest(t, store, "due", payout.StatusPending, base.Add(100*time.Millisecond))

	eligible, err := store.ListEligible(ctx, base.Add(150*time.Millisecond))
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != "due" {
		t.Errorf("expected the .100s request eligible at the .150s cutoff, got %+v", eligible)
	}
}

func TestRequestStats(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()
	seedRequest(t, store, "p1", payout.StatusPending, now)
	seedRequest(t, store, "p2", payout.StatusProcessing, now)
	seedRequest(t, store, "r1", payout.StatusRejected, now)

	seedRequest(t, store, "c1", payout.StatusCompleted, now)

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := store.RequestStats(ctx, today)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Errorf("pending count: %d", stats.PendingCount)
	}
	if !stats.PendingAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("pending amount: %s", stats.PendingAmount)
	}
	if stats.RejectedCount != 1 {
		t.Errorf("rejected count: %d", stats.RejectedCount)
	}
	if stats.ProcessedToday != 1 {
		t.Errorf("processed today: %d", stats.ProcessedToday)
	}
	if !stats.ProcessedTodayAmount.Equal(decimal.RequireFromString("487.50")) {
		t.Errorf("processed today amount: %s", stats.ProcessedTodayAmount)
	}
}

// =============================================================================
// RUN + MOVEMENT STORES
// =============================================================================

func TestRun_SaveIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	run := payout.SettlementRun{ID: "run-1", StartedAt: time.Now().UTC(), Status: payout.RunRunning}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	finished := time.Now().UTC()
	run.Status = payout.RunCompleted
	run.FinishedAt = &finished
	run.Picked, run.Settled = 3, 3
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != payout.RunCompleted || runs[0].FinishedAt == nil || runs[0].Settled != 3 {
		t.Errorf("update did not stick: %+v", runs[0])
	}
}

func TestMovements_RoundTripAndPagination(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 0; i < 3; i++ {
		m := stock.Movement{
			ID:          uuid.NewString(),
			ProductID:   "p-1",
			Type:        stock.MovementAdd,
			Quantity:    int64(i + 1),
			Reason:      "restock",
			ReferenceNo: "PO-9",
			BatchNo:     "B-1",
			PerformedBy: "admin-1",
			CreatedAt:   time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveMovement(ctx, m); err != nil {
			t.Fatalf("save movement: %v", err)
		}
	}

	page, err := store.ListMovements(ctx, "p-1", 2, 0)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].Quantity != 3 {
		t.Errorf("expected newest first, got %+v", page[0])
	}
	if page[0].ReferenceNo != "PO-9" || page[0].BatchNo != "B-1" {
		t.Errorf("movement fields did not survive: %+v", page[0])
	}
	total, err := store.CountMovements(ctx, "p-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 3 {
		t.Errorf("total: %d", total)
	}
}
