/*
Package memory provides an in-memory implementation of every store
interface (ledger.Store, payout.RequestStore, payout.RunStore,
stock.MovementStore) for tests and development.

Semantics mirror the SQLite store: the journal is append-only, Commit is
all-or-nothing under the version check, and Transition is a conditional
compare-and-set on the request status.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/payout"
	"github.com/warp/ledger-engine/stock"
)

// =============================================================================
// STORE
// =============================================================================

// Store holds everything in maps guarded by one RWMutex.
type Store struct {
	mu        sync.RWMutex
	balances  map[balanceKey]ledger.Balance
	entries   map[balanceKey][]ledger.JournalEntry
	requests  map[string]payout.Request
	movements map[string][]stock.Movement // by product, append order
	runs      []payout.SettlementRun
}

type balanceKey struct {
	Kind  ledger.ResourceKind
	Owner ledger.OwnerID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		balances:  make(map[balanceKey]ledger.Balance),
		entries:   make(map[balanceKey][]ledger.JournalEntry),
		requests:  make(map[string]payout.Request),
		movements: make(map[string][]stock.Movement),
	}
}

// =============================================================================
// LEDGER.STORE
// =============================================================================

func (s *Store) Commit(_ context.Context, entry ledger.JournalEntry, balance ledger.Balance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := balanceKey{Kind: entry.Kind, Owner: entry.OwnerID}
	current, found := s.balances[k]
	currentVersion := int64(0)
	if found {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		return ledger.ErrConcurrentModification
	}

	s.balances[k] = balance
	s.entries[k] = append(s.entries[k], entry)
	return nil
}

func (s *Store) GetBalance(_ context.Context, kind ledger.ResourceKind, owner ledger.OwnerID) (ledger.Balance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, found := s.balances[balanceKey{Kind: kind, Owner: owner}]
	return bal, found, nil
}

func (s *Store) Entries(_ context.Context, kind ledger.ResourceKind, owner ledger.OwnerID) ([]ledger.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.entries[balanceKey{Kind: kind, Owner: owner}]
	// Newest first.
	result := make([]ledger.JournalEntry, len(stored))
	for i, e := range stored {
		result[len(stored)-1-i] = e
	}
	return result, nil
}

func (s *Store) EntriesByReference(_ context.Context, referenceID string) ([]ledger.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.JournalEntry
	for _, list := range s.entries {
		for _, e := range list {
			if e.ReferenceID == referenceID {
				result = append(result, e)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// PAYOUT.REQUESTSTORE
// =============================================================================

func (s *Store) SaveRequest(_ context.Context, req payout.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *Store) GetRequest(_ context.Context, id string) (payout.Request, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, found := s.requests[id]
	return req, found, nil
}

func (s *Store) ListRequests(_ context.Context, filter payout.Filter) ([]payout.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payout.Request
	for _, req := range s.requests {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.MemberID != "" && req.MemberID != filter.MemberID {
			continue
		}
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) Transition(_ context.Context, id string, from []payout.Status, next payout.Status, processedAt *time.Time, rejectionReason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, found := s.requests[id]
	if !found {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if req.Status == f {
			matched = true
			break
		}
	}
	if !matched || !req.Status.CanTransitionTo(next) {
		return false, nil
	}

	req.Status = next
	if processedAt != nil {
		req.ProcessedAt = processedAt
	}
	if rejectionReason != nil {
		req.RejectionReason = rejectionReason
	}
	s.requests[id] = req
	return true, nil
}

func (s *Store) RequestStats(_ context.Context, today time.Time) (payout.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := payout.Stats{
		PendingAmount:        decimal.Zero,
		ProcessedTodayAmount: decimal.Zero,
	}
	for _, req := range s.requests {
		switch req.Status {
		case payout.StatusPending, payout.StatusProcessing:
			stats.PendingCount++
			stats.PendingAmount = stats.PendingAmount.Add(req.GrossAmount)
		case payout.StatusCompleted:
			if req.ProcessedAt != nil && !req.ProcessedAt.Before(today) {
				stats.ProcessedToday++
				stats.ProcessedTodayAmount = stats.ProcessedTodayAmount.Add(req.NetAmount)
			}
		case payout.StatusRejected:
			stats.RejectedCount++
		}
	}
	return stats, nil
}

func (s *Store) ListEligible(_ context.Context, cutoff time.Time) ([]payout.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payout.Request
	for _, req := range s.requests {
		if req.Status == payout.StatusPending && !req.ScheduledFor.After(cutoff) {
			result = append(result, req)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// PAYOUT.RUNSTORE
// =============================================================================

func (s *Store) SaveRun(_ context.Context, run payout.SettlementRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.runs {
		if existing.ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]payout.SettlementRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payout.SettlementRun, len(s.runs))
	copy(result, s.runs)
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// STOCK.MOVEMENTSTORE
// =============================================================================

func (s *Store) SaveMovement(_ context.Context, m stock.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements[m.ProductID] = append(s.movements[m.ProductID], m)
	return nil
}

func (s *Store) ListMovements(_ context.Context, productID string, limit, offset int) ([]stock.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.movements[productID]
	// Newest first.
	reversed := make([]stock.Movement, len(stored))
	for i, m := range stored {
		reversed[len(stored)-1-i] = m
	}
	if offset >= len(reversed) {
		return nil, nil
	}
	reversed = reversed[offset:]
	if limit > 0 && len(reversed) > limit {
		reversed = reversed[:limit]
	}
	return reversed, nil
}

func (s *Store) CountMovements(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.movements[productID]), nil
}

// Compile-time interface checks.
var (
	_ ledger.Store        = (*Store)(nil)
	_ payout.RequestStore = (*Store)(nil)
	_ payout.RunStore     = (*Store)(nil)
	_ stock.MovementStore = (*Store)(nil)
)
