package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/engine"
	"github.com/rs/zerolog"
)

// AccountsHandler handles account and transfer endpoints.
type AccountsHandler struct {
	ledger Ledger
	log    zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(l Ledger, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		ledger: l,
		log:    log,
	}
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := h.ledger.Accounts(ctx, middleware.UserID(ctx))
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to list accounts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// Reconcile handles GET /api/accounts/reconcile
func (h *AccountsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recs, err := h.ledger.Reconcile(ctx, middleware.UserID(ctx))
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to reconcile accounts")
		return
	}

	balanced := true
	for _, rec := range recs {
		if !rec.Balanced() {
			balanced = false
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": recs,
		"balanced": balanced,
	})
}

// Transfer handles POST /api/transfers
func (h *AccountsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req engine.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.ledger.Transfer(ctx, middleware.UserID(ctx), req); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to transfer")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
