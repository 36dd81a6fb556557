/*
store.go - Persistence interface for the journal and balances

PURPOSE:
  Defines the interface between the ledger engine and the database.
  The Store persists journal entries and the materialized balance rows
  derived from them. Different implementations can use SQLite or
  in-memory storage.

APPEND-ONLY CONTRACT:
  The journal is append-only:
  - Commit(): The ONLY write path, one entry at a time
  - NO update or delete methods exist for entries
  Corrections are new entries with opposite deltas.

ATOMICITY:
  Commit() writes the journal entry and the updated balance row
  all-or-nothing. On any failure zero entries are written, so a balance
  always corresponds to some prefix of the journal.

OPTIMISTIC CONCURRENCY:
  Commit() takes the version the balance had when the caller read it.
  expectedVersion == 0 means "no row yet" and Commit must insert.
  A mismatch returns ErrConcurrentModification and writes nothing.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (WAL mode)
  - store/memory: In-memory for testing

SEE ALSO:
  - ledger.go: The engine driving this interface
  - store/sqlite/sqlite.go, store/memory/memory.go
*/
package ledger

import "context"

// =============================================================================
// STORE - Journal + balance persistence (append-only journal)
// =============================================================================

// Store persists journal entries and balances.
//
// IMPORTANT: the journal is APPEND-ONLY. No update, no delete, ever.
type Store interface {
	// Commit atomically appends one journal entry and writes the new
	// balance, guarded by the version the balance had when read.
	// Returns ErrConcurrentModification on a version mismatch, in which
	// case nothing is written.
	Commit(ctx context.Context, entry JournalEntry, balance Balance, expectedVersion int64) error

	// GetBalance returns the latest committed balance. found is false
	// when the owner has no journal history yet.
	GetBalance(ctx context.Context, kind ResourceKind, owner OwnerID) (balance Balance, found bool, err error)

	// Entries returns the journal for one owner, newest first.
	Entries(ctx context.Context, kind ResourceKind, owner OwnerID) ([]JournalEntry, error)

	// EntriesByReference returns all entries caused by one request or
	// movement, oldest first. Used for audit lookups.
	EntriesByReference(ctx context.Context, referenceID string) ([]JournalEntry, error)
}
