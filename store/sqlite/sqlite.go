/*
Package sqlite provides the SQLite-backed implementation of every store
interface.

PURPOSE:
  Implements persistence for the journal, balances, payout requests,
  stock movements and settlement runs. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:        Journal + balance persistence
  payout.RequestStore: Request rows and conditional transitions
  payout.RunStore:     Settlement run audit records
  stock.MovementStore: Movement rows

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the journal_entries table.
  Corrections are new entries with opposite deltas.

ATOMIC COMMIT:
  Commit() writes the journal entry and the balance row inside one
  database transaction, guarded by the balance row's version column.
  A version mismatch rolls the whole transaction back and returns
  ledger.ErrConcurrentModification.

CONDITIONAL TRANSITIONS:
  Transition() is a single conditional UPDATE on payout_requests:
  the WHERE clause names the allowed current statuses, so only one of
  two racing resolutions changes the row.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers
  don't block and crash recovery is better. A single writer at a time
  is enough - the ledger serializes per owner anyway.

USAGE:
  store, err := sqlite.New("./data/engine.db")
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()
  led := ledger.New(store)

SEE ALSO:
  - ledger/store.go: Interface contracts
  - store/memory/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/payout"
	"github.com/warp/ledger-engine/stock"
)

// timeFormat is RFC3339 with fixed-width nanoseconds. Timestamps are
// stored as TEXT and compared lexicographically (ORDER BY, the
// scheduled_for cutoff), so the encoding must not trim trailing zeros
// the way RFC3339Nano does.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema.
func (s *Store) migrate() error {
	schema := `
	-- Journal (append-only; no UPDATE or DELETE, ever)
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		available_delta TEXT NOT NULL,
		held_delta TEXT NOT NULL,
		reason TEXT NOT NULL,
		reference_id TEXT,
		performed_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_owner
		ON journal_entries(kind, owner_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_journal_reference
		ON journal_entries(reference_id) WHERE reference_id IS NOT NULL;

	-- Materialized balances, versioned for optimistic concurrency
	CREATE TABLE IF NOT EXISTS balances (
		kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		available TEXT NOT NULL,
		held TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, owner_id)
	);

	-- Payout requests (never deleted; terminal states kept for history)
	CREATE TABLE IF NOT EXISTS payout_requests (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		payout_type TEXT,
		status TEXT NOT NULL,
		scheduled_for TEXT NOT NULL,
		created_at TEXT NOT NULL,
		processed_at TEXT,
		rejection_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_member
		ON payout_requests(member_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON payout_requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_eligible
		ON payout_requests(status, scheduled_for);

	-- Stock movements (immutable once written)
	CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		movement_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		reason TEXT,
		reference_no TEXT,
		batch_no TEXT,
		performed_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_product
		ON stock_movements(product_id, created_at DESC);

	-- Settlement runs (scheduler audit trail)
	CREATE TABLE IF NOT EXISTS settlement_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		picked INTEGER NOT NULL DEFAULT 0,
		settled INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER.STORE
// =============================================================================

// Commit writes one journal entry and the new balance all-or-nothing.
func (s *Store) Commit(ctx context.Context, entry ledger.JournalEntry, balance ledger.Balance, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeFormat)

	if expectedVersion == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO balances (kind, owner_id, available, held, version, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			balance.Kind, balance.OwnerID, balance.Available.String(), balance.Held.String(),
			balance.Version, now)
		if isConstraintErr(err) {
			return ledger.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("insert balance: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE balances SET available = ?, held = ?, version = ?, updated_at = ?
			 WHERE kind = ? AND owner_id = ? AND version = ?`,
			balance.Available.String(), balance.Held.String(), balance.Version, now,
			balance.Kind, balance.OwnerID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return ledger.ErrConcurrentModification
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO journal_entries
		 (id, kind, owner_id, available_delta, held_delta, reason, reference_id, performed_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Kind, entry.OwnerID,
		entry.AvailableDelta.String(), entry.HeldDelta.String(),
		entry.Reason, nullable(entry.ReferenceID), entry.PerformedBy,
		entry.CreatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}

	return tx.Commit()
}

// GetBalance returns the latest committed balance.
func (s *Store) GetBalance(ctx context.Context, kind ledger.ResourceKind, owner ledger.OwnerID) (ledger.Balance, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT available, held, version FROM balances WHERE kind = ? AND owner_id = ?`,
		kind, owner)

	var available, held string
	var version int64
	err := row.Scan(&available, &held, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, false, nil
	}
	if err != nil {
		return ledger.Balance{}, false, err
	}

	availableDec, err := decimal.NewFromString(available)
	if err != nil {
		return ledger.Balance{}, false, fmt.Errorf("parse available: %w", err)
	}
	heldDec, err := decimal.NewFromString(held)
	if err != nil {
		return ledger.Balance{}, false, fmt.Errorf("parse held: %w", err)
	}

	return ledger.Balance{
		Kind:      kind,
		OwnerID:   owner,
		Available: availableDec,
		Held:      heldDec,
		Version:   version,
	}, true, nil
}

// Entries returns the journal for one owner, newest first.
func (s *Store) Entries(ctx context.Context, kind ledger.ResourceKind, owner ledger.OwnerID) ([]ledger.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, owner_id, available_delta, held_delta, reason, reference_id, performed_by, created_at
		 FROM journal_entries WHERE kind = ? AND owner_id = ?
		 ORDER BY created_at DESC, id DESC`,
		kind, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesByReference returns all entries behind one reference, oldest first.
func (s *Store) EntriesByReference(ctx context.Context, referenceID string) ([]ledger.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, owner_id, available_delta, held_delta, reason, reference_id, performed_by, created_at
		 FROM journal_entries WHERE reference_id = ?
		 ORDER BY created_at ASC, id ASC`,
		referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]ledger.JournalEntry, error) {
	var entries []ledger.JournalEntry
	for rows.Next() {
		var e ledger.JournalEntry
		var availableDelta, heldDelta, createdAt string
		var referenceID sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.OwnerID, &availableDelta, &heldDelta,
			&e.Reason, &referenceID, &e.PerformedBy, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if e.AvailableDelta, err = decimal.NewFromString(availableDelta); err != nil {
			return nil, fmt.Errorf("parse available_delta: %w", err)
		}
		if e.HeldDelta, err = decimal.NewFromString(heldDelta); err != nil {
			return nil, fmt.Errorf("parse held_delta: %w", err)
		}
		if e.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		e.ReferenceID = referenceID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PAYOUT.REQUESTSTORE
// =============================================================================

// SaveRequest inserts a new request row.
func (s *Store) SaveRequest(ctx context.Context, req payout.Request) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payout_requests
		 (id, member_id, gross_amount, net_amount, payout_type, status, scheduled_for, created_at, processed_at, rejection_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.MemberID, req.GrossAmount.String(), req.NetAmount.String(),
		nullable(req.PayoutType), req.Status,
		req.ScheduledFor.Format(timeFormat), req.CreatedAt.Format(timeFormat),
		nullableTime(req.ProcessedAt), nullablePtr(req.RejectionReason))
	return err
}

// GetRequest returns a request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (payout.Request, bool, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payout.Request{}, false, nil
	}
	if err != nil {
		return payout.Request{}, false, err
	}
	return req, true, nil
}

// ListRequests returns requests matching the filter, newest first.
func (s *Store) ListRequests(ctx context.Context, filter payout.Filter) ([]payout.Request, error) {
	query := selectRequest
	var conds []string
	var args []any
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.MemberID != "" {
		conds = append(conds, "member_id = ?")
		args = append(args, filter.MemberID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payout.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

// Transition conditionally flips a request's status in one UPDATE.
func (s *Store) Transition(ctx context.Context, id string, from []payout.Status, next payout.Status, processedAt *time.Time, rejectionReason *string) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{next, nullableTime(processedAt), nullablePtr(rejectionReason), id}
	for _, f := range from {
		args = append(args, f)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE payout_requests
		 SET status = ?,
		     processed_at = COALESCE(?, processed_at),
		     rejection_reason = COALESCE(?, rejection_reason)
		 WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RequestStats aggregates the dashboard numbers.
func (s *Store) RequestStats(ctx context.Context, today time.Time) (payout.Stats, error) {
	stats := payout.Stats{
		PendingAmount:        decimal.Zero,
		ProcessedTodayAmount: decimal.Zero,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, gross_amount, net_amount, processed_at FROM payout_requests`)
	if err != nil {
		return payout.Stats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var status, gross, net string
		var processedAtStr sql.NullString
		if err := rows.Scan(&status, &gross, &net, &processedAtStr); err != nil {
			return payout.Stats{}, err
		}
		switch payout.Status(status) {
		case payout.StatusPending, payout.StatusProcessing:
			grossDec, err := decimal.NewFromString(gross)
			if err != nil {
				return payout.Stats{}, fmt.Errorf("parse gross_amount: %w", err)
			}
			stats.PendingCount++
			stats.PendingAmount = stats.PendingAmount.Add(grossDec)
		case payout.StatusCompleted:
			if !processedAtStr.Valid {
				continue
			}
			processedAt, err := time.Parse(timeFormat, processedAtStr.String)
			if err != nil {
				return payout.Stats{}, fmt.Errorf("parse processed_at: %w", err)
			}
			if !processedAt.Before(today) {
				netDec, err := decimal.NewFromString(net)
				if err != nil {
					return payout.Stats{}, fmt.Errorf("parse net_amount: %w", err)
				}
				stats.ProcessedToday++
				stats.ProcessedTodayAmount = stats.ProcessedTodayAmount.Add(netDec)
			}
		case payout.StatusRejected:
			stats.RejectedCount++
		}
	}
	return stats, rows.Err()
}

// ListEligible returns pending requests whose cutoff has passed, oldest first.
func (s *Store) ListEligible(ctx context.Context, cutoff time.Time) ([]payout.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRequest+` WHERE status = ? AND scheduled_for <= ? ORDER BY created_at ASC, id ASC`,
		payout.StatusPending, cutoff.Format(timeFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payout.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

const selectRequest = `SELECT id, member_id, gross_amount, net_amount, payout_type, status, scheduled_for, created_at, processed_at, rejection_reason FROM payout_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (payout.Request, error) {
	var req payout.Request
	var gross, net, scheduledFor, createdAt string
	var payoutType, processedAt, rejectionReason sql.NullString

	err := row.Scan(&req.ID, &req.MemberID, &gross, &net, &payoutType,
		&req.Status, &scheduledFor, &createdAt, &processedAt, &rejectionReason)
	if err != nil {
		return payout.Request{}, err
	}

	if req.GrossAmount, err = decimal.NewFromString(gross); err != nil {
		return payout.Request{}, fmt.Errorf("parse gross_amount: %w", err)
	}
	if req.NetAmount, err = decimal.NewFromString(net); err != nil {
		return payout.Request{}, fmt.Errorf("parse net_amount: %w", err)
	}
	if req.ScheduledFor, err = time.Parse(timeFormat, scheduledFor); err != nil {
		return payout.Request{}, fmt.Errorf("parse scheduled_for: %w", err)
	}
	if req.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return payout.Request{}, fmt.Errorf("parse created_at: %w", err)
	}
	req.PayoutType = payoutType.String
	if processedAt.Valid {
		t, err := time.Parse(timeFormat, processedAt.String)
		if err != nil {
			return payout.Request{}, fmt.Errorf("parse processed_at: %w", err)
		}
		req.ProcessedAt = &t
	}
	if rejectionReason.Valid {
		req.RejectionReason = &rejectionReason.String
	}
	return req, nil
}

// =============================================================================
// PAYOUT.RUNSTORE
// =============================================================================

// SaveRun upserts a settlement run record.
func (s *Store) SaveRun(ctx context.Context, run payout.SettlementRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlement_runs (id, started_at, finished_at, status, picked, settled, failed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   finished_at = excluded.finished_at,
		   status = excluded.status,
		   picked = excluded.picked,
		   settled = excluded.settled,
		   failed = excluded.failed,
		   error = excluded.error`,
		run.ID, run.StartedAt.Format(timeFormat), nullableTime(run.FinishedAt),
		run.Status, run.Picked, run.Settled, run.Failed, nullable(run.Error))
	return err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]payout.SettlementRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, picked, settled, failed, error
		 FROM settlement_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payout.SettlementRun
	for rows.Next() {
		var run payout.SettlementRun
		var startedAt string
		var finishedAt, runErr sql.NullString
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &run.Status,
			&run.Picked, &run.Settled, &run.Failed, &runErr); err != nil {
			return nil, err
		}
		if run.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if finishedAt.Valid {
			t, err := time.Parse(timeFormat, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			run.FinishedAt = &t
		}
		run.Error = runErr.String
		result = append(result, run)
	}
	return result, rows.Err()
}

// =============================================================================
// STOCK.MOVEMENTSTORE
// =============================================================================

// SaveMovement inserts a movement row.
func (s *Store) SaveMovement(ctx context.Context, m stock.Movement) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock_movements
		 (id, product_id, movement_type, quantity, reason, reference_no, batch_no, performed_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProductID, m.Type, m.Quantity, nullable(m.Reason),
		nullable(m.ReferenceNo), nullable(m.BatchNo), m.PerformedBy,
		m.CreatedAt.Format(timeFormat))
	return err
}

// ListMovements returns movements newest first, paginated.
func (s *Store) ListMovements(ctx context.Context, productID string, limit, offset int) ([]stock.Movement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, movement_type, quantity, reason, reference_no, batch_no, performed_by, created_at
		 FROM stock_movements WHERE product_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		productID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stock.Movement
	for rows.Next() {
		var m stock.Movement
		var createdAt string
		var reason, referenceNo, batchNo sql.NullString
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity,
			&reason, &referenceNo, &batchNo, &m.PerformedBy, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		m.Reason = reason.String
		m.ReferenceNo = referenceNo.String
		m.BatchNo = batchNo.String
		result = append(result, m)
	}
	return result, rows.Err()
}

// CountMovements returns the total movement count for a product.
func (s *Store) CountMovements(ctx context.Context, productID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock_movements WHERE product_id = ?`, productID).Scan(&count)
	return count, err
}

// =============================================================================
// HELPERS
// =============================================================================

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullablePtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}

// Compile-time interface checks.
var (
	_ ledger.Store        = (*Store)(nil)
	_ payout.RequestStore = (*Store)(nil)
	_ payout.RunStore     = (*Store)(nil)
	_ stock.MovementStore = (*Store)(nil)
)
