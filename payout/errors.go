/*
errors.go - Payout lifecycle errors

The engine-level taxonomy (insufficient resource, concurrency, storage)
lives in the ledger package; this file adds the request-specific kinds.
*/
package payout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBelowMinimum is returned when the requested amount is under the
	// configured withdrawal floor.
	ErrBelowMinimum = errors.New("amount below minimum withdrawal")

	// ErrInsufficientBalance is returned when the wallet's available
	// balance cannot cover the requested amount.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrRequestNotPending is returned on a stale or duplicate transition
	// attempt: the request has already been resolved. Recoverable by
	// refreshing state.
	ErrRequestNotPending = errors.New("request is not pending")

	// ErrRequestNotFound is returned when the request id does not exist.
	ErrRequestNotFound = errors.New("request not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// BelowMinimumError carries the configured floor for the error message.
type BelowMinimumError struct {
	Requested decimal.Decimal
	Minimum   decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("withdrawal amount %s is below the minimum of %s", e.Requested, e.Minimum)
}

func (e *BelowMinimumError) Unwrap() error { return ErrBelowMinimum }

// InsufficientBalanceError carries the wallet numbers for the message.
type InsufficientBalanceError struct {
	MemberID  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for member %s: available %s, requested %s",
		e.MemberID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// NotPendingError reports the status the request was actually in.
type NotPendingError struct {
	RequestID string
	Status    Status
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("request %s is not pending (status: %s)", e.RequestID, e.Status)
}

func (e *NotPendingError) Unwrap() error { return ErrRequestNotPending }

// IsClientError extends the ledger taxonomy with payout kinds.
func IsClientError(err error) bool {
	return ledger.IsClientError(err) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrRequestNotPending) ||
		errors.Is(err, ErrRequestNotFound)
}
