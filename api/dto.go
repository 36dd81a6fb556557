/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request bodies carry go-playground/validator struct tags; handlers
  validate before touching domain logic. DTOs are otherwise pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/payout"
	"github.com/warp/ledger-engine/stock"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorDTO is the JSON error body: a machine-readable kind plus the
// specific human-readable reason (never a generic failure message).
type ErrorDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// =============================================================================
// WALLET / LEDGER
// =============================================================================

// BalanceDTO represents a wallet or stock balance.
type BalanceDTO struct {
	Kind      string          `json:"kind"`
	OwnerID   string          `json:"owner_id"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		Kind:      string(b.Kind),
		OwnerID:   string(b.OwnerID),
		Available: b.Available,
		Held:      b.Held,
	}
}

// JournalEntryDTO represents one journal entry.
type JournalEntryDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	OwnerID        string          `json:"owner_id"`
	AvailableDelta decimal.Decimal `json:"available_delta"`
	HeldDelta      decimal.Decimal `json:"held_delta"`
	Delta          decimal.Decimal `json:"delta"`
	Reason         string          `json:"reason"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	PerformedBy    string          `json:"performed_by"`
	CreatedAt      string          `json:"created_at"`
}

func toJournalEntryDTO(e ledger.JournalEntry) JournalEntryDTO {
	return JournalEntryDTO{
		ID:             string(e.ID),
		Kind:           string(e.Kind),
		OwnerID:        string(e.OwnerID),
		AvailableDelta: e.AvailableDelta,
		HeldDelta:      e.HeldDelta,
		Delta:          e.Delta(),
		Reason:         string(e.Reason),
		ReferenceID:    e.ReferenceID,
		PerformedBy:    e.PerformedBy,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

// CreditRequest posts earnings from the compensation engine.
type CreditRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Reference string          `json:"reference" validate:"required"`
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// CreateWithdrawalRequest is the member-facing withdrawal body.
type CreateWithdrawalRequest struct {
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	PayoutType string          `json:"payout_type" validate:"omitempty,max=64"`
}

// RejectRequest carries the optional free-text rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// BulkRequest names the ids of a bulk approve/reject.
type BulkRequest struct {
	IDs    []string `json:"ids" validate:"required,min=1,dive,required"`
	Reason string   `json:"reason" validate:"omitempty,max=500"`
}

// WithdrawalDTO represents a payout request.
type WithdrawalDTO struct {
	ID              string          `json:"id"`
	MemberID        string          `json:"member_id"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	PayoutType      string          `json:"payout_type,omitempty"`
	Status          string          `json:"status"`
	ScheduledFor    string          `json:"scheduled_for"`
	CreatedAt       string          `json:"created_at"`
	ProcessedAt     *string         `json:"processed_at,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
}

func toWithdrawalDTO(r payout.Request) WithdrawalDTO {
	dto := WithdrawalDTO{
		ID:              r.ID,
		MemberID:        r.MemberID,
		GrossAmount:     r.GrossAmount,
		NetAmount:       r.NetAmount,
		PayoutType:      r.PayoutType,
		Status:          string(r.Status),
		ScheduledFor:    r.ScheduledFor.Format(time.RFC3339),
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		RejectionReason: r.RejectionReason,
	}
	if r.ProcessedAt != nil {
		s := r.ProcessedAt.Format(time.RFC3339)
		dto.ProcessedAt = &s
	}
	return dto
}

// StatsDTO is the aggregate block on the payout listing.
type StatsDTO struct {
	PendingCount         int             `json:"pending_count"`
	PendingAmount        decimal.Decimal `json:"pending_amount"`
	ProcessedToday       int             `json:"processed_today"`
	ProcessedTodayAmount decimal.Decimal `json:"processed_today_amount"`
	RejectedCount        int             `json:"rejected_count"`
}

// ListWithdrawalsResponse is the payout listing plus stats.
type ListWithdrawalsResponse struct {
	Items []WithdrawalDTO `json:"items"`
	Stats StatsDTO        `json:"stats"`
}

// BulkItemDTO is one id's outcome in a bulk response.
type BulkItemDTO struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// BulkResponse enumerates per-id outcomes.
type BulkResponse struct {
	Items     []BulkItemDTO `json:"items"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

func toBulkResponse(result payout.BatchResult) BulkResponse {
	resp := BulkResponse{
		Items:     make([]BulkItemDTO, len(result.Items)),
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	}
	for i, item := range result.Items {
		resp.Items[i] = BulkItemDTO{
			ID:      item.ID,
			Outcome: string(item.Outcome),
			Error:   item.Error,
			Message: item.Message,
		}
	}
	return resp
}

// =============================================================================
// STOCK
// =============================================================================

// StockMovementRequest is the add/remove body.
type StockMovementRequest struct {
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"omitempty,max=200"`
	ReferenceNo string `json:"reference_no" validate:"omitempty,max=64"`
	BatchNo     string `json:"batch_no" validate:"omitempty,max=64"`
}

// MovementDTO represents one stock movement.
type MovementDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Type        string `json:"type"`
	Quantity    int64  `json:"quantity"`
	Reason      string `json:"reason,omitempty"`
	ReferenceNo string `json:"reference_no,omitempty"`
	BatchNo     string `json:"batch_no,omitempty"`
	PerformedBy string `json:"performed_by"`
	CreatedAt   string `json:"created_at"`
}

func toMovementDTO(m stock.Movement) MovementDTO {
	return MovementDTO{
		ID:          m.ID,
		ProductID:   m.ProductID,
		Type:        string(m.Type),
		Quantity:    m.Quantity,
		Reason:      m.Reason,
		ReferenceNo: m.ReferenceNo,
		BatchNo:     m.BatchNo,
		PerformedBy: m.PerformedBy,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
	}
}

// StockLevelDTO is the current stock count of a product.
type StockLevelDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// StockHistoryResponse is the paginated movement listing.
type StockHistoryResponse struct {
	Items  []MovementDTO `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// SettlementRunDTO represents one scheduler pass.
type SettlementRunDTO struct {
	ID         string  `json:"id"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Status     string  `json:"status"`
	Picked     int     `json:"picked"`
	Settled    int     `json:"settled"`
	Failed     int     `json:"failed"`
	Error      string  `json:"error,omitempty"`
}

func toSettlementRunDTO(run payout.SettlementRun) SettlementRunDTO {
	dto := SettlementRunDTO{
		ID:        run.ID,
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Status:    string(run.Status),
		Picked:    run.Picked,
		Settled:   run.Settled,
		Failed:    run.Failed,
		Error:     run.Error,
	}
	if run.FinishedAt != nil {
		s := run.FinishedAt.Format(time.RFC3339)
		dto.FinishedAt = &s
	}
	return dto
}
