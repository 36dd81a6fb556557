/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the payout/stock ledger engine via REST API. Handles HTTP
  request/response, JSON serialization and validation, and delegates to
  domain logic.

ENDPOINTS:
  Wallets:
    GET  /api/members/{id}/wallet            Wallet balance
    GET  /api/members/{id}/journal           Wallet journal history
    POST /api/wallets/{id}/credit            Compensation engine credit

  Withdrawals:
    POST /api/members/{id}/withdrawals       Create withdrawal request
    GET  /api/withdrawals                    List + aggregate stats
    POST /api/withdrawals/{id}/approve       Approve single
    POST /api/withdrawals/{id}/reject        Reject single
    POST /api/withdrawals/bulk-approve       Bulk approve
    POST /api/withdrawals/bulk-reject        Bulk reject

  Stock:
    POST /api/products/{id}/stock/add        Add stock
    POST /api/products/{id}/stock/remove     Remove stock
    GET  /api/products/{id}/stock            Current level
    GET  /api/products/{id}/stock/history    Movement history

  Settlement:
    POST /api/admin/settlement/run           Manual scheduler trigger
    GET  /api/settlement/runs                Run history

ERROR HANDLING:
  Domain errors map to kind-specific JSON bodies with the exact reason:
  - 400: validation errors, below-minimum
  - 404: unknown request id
  - 409: stale transition (request not pending), lost concurrency race
  - 422: insufficient balance / insufficient stock
  - 500: storage failures

ACTOR IDENTITY:
  Authentication is external (auth service). Every mutating call must
  carry the caller identity in X-Actor-ID; the middleware in server.go
  rejects mutations without it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Settlement scheduler
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/payout"
	"github.com/warp/ledger-engine/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Payouts   *payout.Service
	Batch     *payout.BatchProcessor
	Stock     *stock.Service
	Runs      payout.RunStore
	Scheduler *SettlementScheduler

	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a handler over the domain services.
func NewHandler(led *ledger.Ledger, payouts *payout.Service, batch *payout.BatchProcessor, stockSvc *stock.Service, runs payout.RunStore, log zerolog.Logger) *Handler {
	return &Handler{
		Ledger:   led,
		Payouts:  payouts,
		Batch:    batch,
		Stock:    stockSvc,
		Runs:     runs,
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns a member's wallet balance.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "id")
	bal, err := h.Ledger.GetBalance(r.Context(), ledger.KindWallet, ledger.OwnerID(memberID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

// GetJournal returns a member's wallet journal, newest first.
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "id")
	entries, err := h.Ledger.Entries(r.Context(), ledger.KindWallet, ledger.OwnerID(memberID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]JournalEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toJournalEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreditWallet posts earnings to a wallet. This is the compensation
// engine's endpoint - the only path that credits available directly.
func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "id")
	var body CreditRequest
	if !h.decode(w, r, &body) {
		return
	}
	if !body.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "validation_error", "amount must be positive")
		return
	}

	_, bal, err := h.Ledger.ApplyDelta(r.Context(), ledger.KindWallet, ledger.OwnerID(memberID),
		body.Amount, ledger.ReasonCompensationCredit, body.Reference, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

// CreateWithdrawal creates a pending payout request for a member.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "id")
	var body CreateWithdrawalRequest
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.Payouts.Create(r.Context(), memberID, body.Amount, body.PayoutType, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(req))
}

// ListWithdrawals returns requests filtered by status plus the
// aggregate stats block. status=all (or absent) means no filter.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	filter := payout.Filter{MemberID: r.URL.Query().Get("member")}
	if raw := r.URL.Query().Get("status"); raw != "" && raw != "all" {
		status, ok := payout.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation_error", "unknown status: "+raw)
			return
		}
		filter.Status = &status
	}

	items, err := h.Payouts.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	stats, err := h.Payouts.Stats(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ListWithdrawalsResponse{
		Items: make([]WithdrawalDTO, len(items)),
		Stats: StatsDTO{
			PendingCount:         stats.PendingCount,
			PendingAmount:        stats.PendingAmount,
			ProcessedToday:       stats.ProcessedToday,
			ProcessedTodayAmount: stats.ProcessedTodayAmount,
			RejectedCount:        stats.RejectedCount,
		},
	}
	for i, item := range items {
		resp.Items[i] = toWithdrawalDTO(item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApproveWithdrawal settles a single request.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, err := h.Payouts.Approve(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(req))
}

// RejectWithdrawal refunds a single request.
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.Payouts.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(req))
}

// BulkApprove attempts every id independently and enumerates outcomes.
func (h *Handler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var body BulkRequest
	if !h.decode(w, r, &body) {
		return
	}
	result := h.Batch.BulkApprove(r.Context(), body.IDs, actorFrom(r))
	writeJSON(w, http.StatusOK, toBulkResponse(result))
}

// BulkReject attempts every id independently and enumerates outcomes.
func (h *Handler) BulkReject(w http.ResponseWriter, r *http.Request) {
	var body BulkRequest
	if !h.decode(w, r, &body) {
		return
	}
	result := h.Batch.BulkReject(r.Context(), body.IDs, body.Reason, actorFrom(r))
	writeJSON(w, http.StatusOK, toBulkResponse(result))
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// AddStock increases a product's stock.
func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	h.applyStock(w, r, h.Stock.Add)
}

// RemoveStock decreases a product's stock, validated server-side
// against the current level.
func (h *Handler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	h.applyStock(w, r, h.Stock.Remove)
}

func (h *Handler) applyStock(w http.ResponseWriter, r *http.Request, op func(context.Context, string, stock.MovementInput, string) (stock.Movement, error)) {
	productID := chi.URLParam(r, "id")
	var body StockMovementRequest
	if !h.decode(w, r, &body) {
		return
	}

	m, err := op(r.Context(), productID, stock.MovementInput{
		Quantity:    body.Quantity,
		Reason:      body.Reason,
		ReferenceNo: body.ReferenceNo,
		BatchNo:     body.BatchNo,
	}, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

// GetStockLevel returns a product's current stock count.
func (h *Handler) GetStockLevel(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	qty, err := h.Stock.Level(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StockLevelDTO{ProductID: productID, Quantity: qty})
}

// GetStockHistory returns paginated movements, newest first.
func (h *Handler) GetStockHistory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	movements, total, err := h.Stock.History(r.Context(), productID, limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := StockHistoryResponse{
		Items:  make([]MovementDTO, len(movements)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for i, m := range movements {
		resp.Items[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// TriggerSettlement runs one settlement pass immediately.
func (h *Handler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_disabled", "settlement scheduler is not running")
		return
	}
	run := h.Scheduler.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, toSettlementRunDTO(run))
}

// ListSettlementRuns returns recent scheduler passes, newest first.
func (h *Handler) ListSettlementRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Runs.ListRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]SettlementRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSettlementRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses and validates a JSON body, writing the 400 itself on
// failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

// writeDomainError maps a domain error to status + kind-specific body.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	kind := payout.ErrorKind(err)
	switch {
	case errors.Is(err, payout.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, kind, err.Error())
	case errors.Is(err, payout.ErrRequestNotPending):
		writeError(w, http.StatusConflict, kind, err.Error())
	case errors.Is(err, payout.ErrBelowMinimum), errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, kind, err.Error())
	case errors.Is(err, payout.ErrInsufficientBalance),
		errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, ledger.ErrInsufficientResource):
		if errors.Is(err, stock.ErrInsufficientStock) {
			kind = "insufficient_stock"
		}
		writeError(w, http.StatusUnprocessableEntity, kind, err.Error())
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, kind, err.Error())
	default:
		h.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "storage_failure", "operation failed, no changes were applied")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorDTO{Error: kind, Message: message})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
