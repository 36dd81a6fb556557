/*
scheduler_test.go - Settlement scheduler tests

Exercises RunOnce directly: eligibility by cutoff, the claim flip that
prevents double pickup, per-item settlement with failure isolation, and
the persisted run audit record.
*/
package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/payout"
	"github.com/warp/ledger-engine/store/memory"
)

type schedulerFixture struct {
	store     *memory.Store
	ledger    *ledger.Ledger
	payouts   *payout.Service
	scheduler *api.SettlementScheduler
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	store := memory.New()
	led := ledger.New(store)
	payouts := payout.NewService(led, store, payout.DefaultConfig(), zerolog.Nop())
	batch := payout.NewBatchProcessor(payouts)
	return &schedulerFixture{
		store:     store,
		ledger:    led,
		payouts:   payouts,
		scheduler: api.NewSettlementScheduler(payouts, batch, store, zerolog.Nop()),
	}
}

// seedRequest persists a pending request with an arbitrary cutoff,
// holding the funds the way Create would.
func (f *schedulerFixture) seedRequest(t *testing.T, memberID string, amount int64, scheduledFor time.Time) payout.Request {
	t.Helper()
	ctx := context.Background()
	gross := decimal.NewFromInt(amount)

	_, _, err := f.ledger.ApplyDelta(ctx, ledger.KindWallet, ledger.OwnerID(memberID),
		gross.Mul(decimal.NewFromInt(2)), ledger.ReasonCompensationCredit, "seed", "compensation-engine")
	require.NoError(t, err)

	req := payout.Request{
		ID:           "req-" + memberID,
		MemberID:     memberID,
		GrossAmount:  gross,
		NetAmount:    gross,
		PayoutType:   "bank",
		Status:       payout.StatusPending,
		ScheduledFor: scheduledFor,
		CreatedAt:    time.Now().UTC().Add(-24 * time.Hour),
	}
	_, _, err = f.ledger.Hold(ctx, ledger.OwnerID(memberID), gross, req.ID, memberID)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveRequest(ctx, req))
	return req
}

func TestRunOnce_SettlesEligibleRequests(t *testing.T) {
	// GIVEN: Two requests past their cutoff and one scheduled next week
	ctx := context.Background()
	f := newSchedulerFixture(t)
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(7 * 24 * time.Hour)
	due1 := f.seedRequest(t, "m-1", 500, past)
	due2 := f.seedRequest(t, "m-2", 600, past)
	notDue := f.seedRequest(t, "m-3", 700, future)

	// WHEN: A settlement pass runs
	run := f.scheduler.RunOnce(ctx)

	// THEN: The two due requests settle; the future one stays pending
	assert.Equal(t, payout.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Picked)
	assert.Equal(t, 2, run.Settled)
	assert.Equal(t, 0, run.Failed)

	for _, id := range []string{due1.ID, due2.ID} {
		got, err := f.payouts.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, payout.StatusCompleted, got.Status, "request %s", id)
	}
	got, err := f.payouts.Get(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPending, got.Status)

	// The settled members' holds left their wallets.
	bal, err := f.ledger.GetBalance(ctx, ledger.KindWallet, "m-1")
	require.NoError(t, err)
	assert.True(t, bal.Held.IsZero())
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(500)))
}

func TestRunOnce_NothingDue(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	f.seedRequest(t, "m-1", 500, time.Now().UTC().Add(48*time.Hour))

	run := f.scheduler.RunOnce(ctx)

	assert.Equal(t, payout.RunCompleted, run.Status)
	assert.Equal(t, 0, run.Picked)
	assert.Equal(t, 0, run.Settled)
}

func TestRunOnce_AlreadyResolvedRequestDropsOut(t *testing.T) {
	// GIVEN: A due request rejected by an admin just before the pass
	ctx := context.Background()
	f := newSchedulerFixture(t)
	due := f.seedRequest(t, "m-1", 500, time.Now().UTC().Add(-time.Hour))
	_, err := f.payouts.Reject(ctx, due.ID, "bad bank details", "admin-1")
	require.NoError(t, err)

	// WHEN: The pass runs
	run := f.scheduler.RunOnce(ctx)

	// THEN: The claim flip fails silently; nothing is picked and the
	// rejection stands
	assert.Equal(t, 0, run.Picked)
	got, err := f.payouts.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusRejected, got.Status)
}

func TestRunOnce_SettleFailureMarksRequestFailed(t *testing.T) {
	// GIVEN: A due request whose hold is missing, so its settle cannot
	// cover
	ctx := context.Background()
	f := newSchedulerFixture(t)
	broken := payout.Request{
		ID:           "req-broken",
		MemberID:     "m-x",
		GrossAmount:  decimal.NewFromInt(500),
		NetAmount:    decimal.NewFromInt(500),
		Status:       payout.StatusPending,
		ScheduledFor: time.Now().UTC().Add(-time.Hour),
		CreatedAt:    time.Now().UTC().Add(-24 * time.Hour),
	}
	require.NoError(t, f.store.SaveRequest(ctx, broken))
	healthy := f.seedRequest(t, "m-1", 500, time.Now().UTC().Add(-time.Hour))

	// WHEN: The pass runs
	run := f.scheduler.RunOnce(ctx)

	// THEN: The healthy request settles, the broken one ends failed, and
	// the run records both outcomes
	assert.Equal(t, 2, run.Picked)
	assert.Equal(t, 1, run.Settled)
	assert.Equal(t, 1, run.Failed)

	gotBroken, err := f.payouts.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusFailed, gotBroken.Status)
	gotHealthy, err := f.payouts.Get(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusCompleted, gotHealthy.Status)
}

func TestRunOnce_PersistsRunRecord(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	f.seedRequest(t, "m-1", 500, time.Now().UTC().Add(-time.Hour))

	run := f.scheduler.RunOnce(ctx)

	runs, err := f.store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, payout.RunCompleted, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, 1, runs[0].Settled)
}

func TestScheduler_StartStop(t *testing.T) {
	// Start spins the background loop; Stop drains it. The immediate
	// first pass must have run by the time Stop returns.
	f := newSchedulerFixture(t)
	f.seedRequest(t, "m-1", 500, time.Now().UTC().Add(-time.Hour))
	f.scheduler.Enabled = true
	f.scheduler.CheckInterval = time.Hour

	f.scheduler.Start()
	f.scheduler.Stop()

	runs, err := f.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, runs)
}
