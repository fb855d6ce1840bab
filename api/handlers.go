/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Service and the sweeper.

ENDPOINTS:
  Accounts:
    PUT    /api/accounts/{id}          Upsert the local view of an account
    GET    /api/accounts/{id}          Get account
    GET    /api/accounts/{id}/bills    List the account's bills

  Bills:
    GET    /api/bills/{id}             Bill with its items

  Transactions:
    POST   /api/transactions           Create and allocate
    GET    /api/transactions/{id}      Transaction with its bill items
    PUT    /api/transactions/{id}      Revert and reallocate
    DELETE /api/transactions/{id}      Revert and delete

  Admin:
    POST   /api/admin/billing/sweep    Run the status sweep now

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Admin sweep disabled
  - 404: Account, bill or transaction not found
  - 409: Already allocated, duplicate transaction
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. The admin sweep can be switched off
  with BILLING_ALLOW_ADMIN_SWEEP=false.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/billing-engine/billing"
)

// Resetter is implemented by stores that can be wiped for demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Service         *billing.Service
	Sweeper         billing.SweepRunner
	AllowAdminSweep bool
	Logger          *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(service *billing.Service, sweeper billing.SweepRunner, allowAdminSweep bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:         service,
		Sweeper:         sweeper,
		AllowAdminSweep: allowAdminSweep,
		Logger:          logger.With("component", "api"),
	}
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// PutAccount creates or replaces an account.
// PUT /api/accounts/{id}
func (h *Handler) PutAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := req.toAccount(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid account", err)
		return
	}

	if err := h.Service.SaveAccount(r.Context(), account); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save account", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// GetAccount returns an account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Service.Account(r.Context(), billing.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeBillingError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// GetAccountBills lists an account's bills, oldest period first.
// GET /api/accounts/{id}/bills
func (h *Handler) GetAccountBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.Service.AccountBills(r.Context(), billing.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeBillingError(w, "Failed to list bills", err)
		return
	}
	if bills == nil {
		bills = []billing.BillSummary{}
	}
	writeJSON(w, http.StatusOK, bills)
}

// =============================================================================
// BILL ENDPOINTS
// =============================================================================

// GetBill returns a bill with its items.
// GET /api/bills/{id}
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Service.BillDetail(r.Context(), billing.BillID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeBillingError(w, "Failed to get bill", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// CreateTransaction stores a transaction and allocates it to bills.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}

	tx, items, err := h.Service.CreateTransaction(r.Context(), tx)
	if err != nil {
		h.writeBillingError(w, "Failed to create transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx, items))
}

// GetTransaction returns a transaction with its bill items.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, items, err := h.Service.Transaction(r.Context(), billing.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeBillingError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx, items))
}

// UpdateTransaction replaces a transaction and reallocates it.
// PUT /api/transactions/{id}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}
	// The path wins over any ID in the body.
	tx.ID = billing.TransactionID(chi.URLParam(r, "id"))

	tx, items, err := h.Service.UpdateTransaction(r.Context(), tx)
	if err != nil {
		h.writeBillingError(w, "Failed to update transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(tx, items))
}

// DeleteTransaction reverts a transaction's allocation and deletes it.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := billing.TransactionID(chi.URLParam(r, "id"))
	if err := h.Service.DeleteTransaction(r.Context(), id); err != nil {
		h.writeBillingError(w, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerSweep runs the bill status sweep immediately.
// POST /api/admin/billing/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if !h.AllowAdminSweep || h.Sweeper == nil {
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error: "Manual sweep is disabled",
			Code:  "sweep_disabled",
		})
		return
	}

	result, err := h.Sweeper.RunNow(r.Context(), billing.TriggerManual)
	if err != nil {
		var sweepErr *billing.SweepError
		if errors.As(err, &sweepErr) {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{
				Error:   "Sweep failed",
				Code:    "sweep_failed",
				Details: map[string]any{"transition": sweepErr.Transition.String(), "page": sweepErr.Page, "error": sweepErr.Err.Error()},
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toSweepResponse(result))
}

// =============================================================================
// HELPERS
// =============================================================================

// writeBillingError maps billing errors to HTTP status codes.
func (h *Handler) writeBillingError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case billing.IsNotFound(err):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrAlreadyAllocated):
		status, resp.Code = http.StatusConflict, "already_allocated"
	case errors.Is(err, billing.ErrDuplicateTransaction):
		status, resp.Code = http.StatusConflict, "duplicate_transaction"
	case billing.IsClientError(err):
		status, resp.Code = http.StatusBadRequest, "invalid_transaction"
	default:
		h.Logger.Error(message, "error", err)
	}

	writeJSON(w, status, resp)
}

// writeInvalidRequest reports a transaction request that could not be
// decoded into a transaction. Out-of-range amounts carry the same code as
// the allocator's rejections.
func writeInvalidRequest(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "Invalid transaction", Details: err.Error()}
	if billing.IsClientError(err) {
		resp.Code = "invalid_transaction"
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
