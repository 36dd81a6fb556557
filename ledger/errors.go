/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types for the core engine in one place. Domain packages
  (payout, stock) wrap these with additional context where the caller
  needs a more specific message.

ERROR CATEGORIES:
  1. Balance errors - Would drive a balance negative
  2. Concurrency errors - Lost optimistic-lock race
  3. Storage errors - Persistence failures

USAGE:
  if errors.Is(err, ledger.ErrInsufficientResource) {
      // caller must adjust the amount
  }

SEE ALSO:
  - ledger.go: Produces these errors
  - payout/errors.go, stock/service.go: Domain-level wrappers
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientResource is returned when a mutation would drive
	// available (or held) below zero. Recoverable: the caller must adjust
	// the amount.
	ErrInsufficientResource = errors.New("insufficient resource balance")

	// ErrConcurrentModification is returned when an optimistic version
	// check fails. The engine retries internally a bounded number of
	// times before surfacing this to the caller.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrValidation is returned for malformed input (non-positive
	// amounts, empty owner, unknown reason).
	ErrValidation = errors.New("validation failed")

	// ErrStorage is returned when the underlying store fails. Fatal for
	// that single operation; never silently swallowed.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientResourceError reports a balance shortage with the numbers
// the caller needs to build a specific user-facing message.
type InsufficientResourceError struct {
	Kind      ResourceKind
	OwnerID   OwnerID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientResourceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s: available %s, requested %s",
		e.Kind, e.OwnerID, e.Available, e.Requested)
}

func (e *InsufficientResourceError) Unwrap() error {
	return ErrInsufficientResource
}

// Shortfall returns how much the request exceeds the available amount.
func (e *InsufficientResourceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// ValidationError reports malformed input to a ledger operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input
// rather than an engine failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientResource) ||
		errors.Is(err, ErrValidation)
}
