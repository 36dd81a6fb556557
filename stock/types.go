/*
Package stock provides inventory movements on top of the ledger engine.

PURPOSE:
  Franchise admins add and remove product stock. Each movement is a
  direct, immediately-settled mutation of the product's stock balance:
  there is no hold/release lifecycle, but the same non-negativity and
  audit guarantees apply. Every successful movement writes exactly one
  movement row and one journal entry.

KEY DIFFERENCES FROM PAYOUT:
  1. No request lifecycle: movements are immediate and terminal
  2. Quantities are whole units, not money
  3. Removal is validated against current stock server-side, regardless
     of any client-side check

SEE ALSO:
  - service.go: Add/Remove/History operations
  - payout/: The hold/release counterpart for wallets
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// MOVEMENT
// =============================================================================

// MovementType says which direction a movement goes.
type MovementType string

const (
	MovementAdd    MovementType = "add"
	MovementRemove MovementType = "remove"
)

// Movement is one stock adjustment. Immutable once written.
type Movement struct {
	ID          string
	ProductID   string
	Type        MovementType
	Quantity    int64 // always positive; Type carries the direction
	Reason      string
	ReferenceNo string // supplier invoice, order number, ...
	BatchNo     string
	PerformedBy string
	CreatedAt   time.Time
}

// =============================================================================
// STORE
// =============================================================================

// MovementStore persists stock movements.
type MovementStore interface {
	// SaveMovement inserts a movement.
	SaveMovement(ctx context.Context, m Movement) error

	// ListMovements returns movements for a product in reverse
	// chronological order, paginated: a finite, restartable sequence.
	ListMovements(ctx context.Context, productID string, limit, offset int) ([]Movement, error)

	// CountMovements returns the total number of movements for a product.
	CountMovements(ctx context.Context, productID string) (int, error)
}
