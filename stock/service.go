/*
service.go - Stock movement operations

Every mutation funnels through the ledger: the service never does
balance arithmetic itself. A removal that would drive stock negative is
refused by the ledger before any movement row is written.
*/
package stock

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
// ERRORS
// =============================================================================

// ErrInsufficientStock is returned when a removal exceeds current stock.
var ErrInsufficientStock = errors.New("insufficient stock")

// InsufficientStockError carries the numbers for the user-facing
// message required by the dashboard.
type InsufficientStockError struct {
	ProductID string
	Current   int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("cannot remove more than current stock (%d)", e.Current)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// =============================================================================
// SERVICE
// =============================================================================

// Service applies stock movements through the ledger.
type Service struct {
	Ledger *ledger.Ledger
	Store  MovementStore

	log zerolog.Logger
	now func() time.Time
}

// NewService creates a stock service.
func NewService(led *ledger.Ledger, store MovementStore, log zerolog.Logger) *Service {
	return &Service{
		Ledger: led,
		Store:  store,
		log:    log.With().Str("component", "stock").Logger(),
		now:    time.Now,
	}
}

// MovementInput carries the caller-supplied fields of a movement.
type MovementInput struct {
	Quantity    int64
	Reason      string
	ReferenceNo string
	BatchNo     string
}

// Add increases a product's stock. Always succeeds for a positive
// quantity; writes exactly one movement and one journal entry.
func (s *Service) Add(ctx context.Context, productID string, in MovementInput, actor string) (Movement, error) {
	return s.apply(ctx, productID, MovementAdd, in, actor)
}

// Remove decreases a product's stock. Fails with ErrInsufficientStock,
// writing nothing, if the quantity exceeds the current stock. The check
// is server-side regardless of any client-side validation.
func (s *Service) Remove(ctx context.Context, productID string, in MovementInput, actor string) (Movement, error) {
	return s.apply(ctx, productID, MovementRemove, in, actor)
}

func (s *Service) apply(ctx context.Context, productID string, typ MovementType, in MovementInput, actor string) (Movement, error) {
	if productID == "" {
		return Movement{}, &ledger.ValidationError{Field: "product_id", Message: "must not be empty"}
	}
	if in.Quantity <= 0 {
		return Movement{}, &ledger.ValidationError{Field: "quantity", Message: "must be positive"}
	}

	m := Movement{
		ID:          uuid.NewString(),
		ProductID:   productID,
		Type:        typ,
		Quantity:    in.Quantity,
		Reason:      in.Reason,
		ReferenceNo: in.ReferenceNo,
		BatchNo:     in.BatchNo,
		PerformedBy: actor,
		CreatedAt:   s.now().UTC(),
	}

	delta := decimal.NewFromInt(in.Quantity)
	reason := ledger.ReasonStockAdd
	if typ == MovementRemove {
		delta = delta.Neg()
		reason = ledger.ReasonStockRemove
	}

	if _, _, err := s.Ledger.ApplyDelta(ctx, ledger.KindStock, ledger.OwnerID(productID), delta, reason, m.ID, actor); err != nil {
		var insufficient *ledger.InsufficientResourceError
		if errors.As(err, &insufficient) {
			return Movement{}, &InsufficientStockError{
				ProductID: productID,
				Current:   insufficient.Available.IntPart(),
				Requested: in.Quantity,
			}
		}
		return Movement{}, err
	}

	if err := s.Store.SaveMovement(ctx, m); err != nil {
		// Compensate so the stock level stays consistent with history.
		compReason := ledger.ReasonStockRemove
		if typ == MovementRemove {
			compReason = ledger.ReasonStockAdd
		}
		if _, _, compErr := s.Ledger.ApplyDelta(ctx, ledger.KindStock, ledger.OwnerID(productID), delta.Neg(), compReason, m.ID, actor); compErr != nil {
			s.log.Error().Err(compErr).Str("movement_id", m.ID).
				Msg("failed to compensate delta after movement save failure")
		}
		return Movement{}, fmt.Errorf("%w: save movement: %v", ledger.ErrStorage, err)
	}

	s.log.Info().Str("movement_id", m.ID).Str("product_id", productID).
		Str("type", string(typ)).Int64("quantity", in.Quantity).Msg("stock movement applied")
	return m, nil
}

// Level returns the current stock count of a product.
func (s *Service) Level(ctx context.Context, productID string) (int64, error) {
	bal, err := s.Ledger.GetBalance(ctx, ledger.KindStock, ledger.OwnerID(productID))
	if err != nil {
		return 0, err
	}
	return bal.Available.IntPart(), nil
}

// History returns movements for a product, newest first, along with the
// total count for pagination.
func (s *Service) History(ctx context.Context, productID string, limit, offset int) ([]Movement, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	movements, err := s.Store.ListMovements(ctx, productID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list movements: %v", ledger.ErrStorage, err)
	}
	total, err := s.Store.CountMovements(ctx, productID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: count movements: %v", ledger.ErrStorage, err)
	}
	return movements, total, nil
}
