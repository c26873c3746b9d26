package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/rs/zerolog"
)

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	ledger Ledger
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(l Ledger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledger: l,
		log:    log,
	}
}

// ServeCollection handles /api/transactions.
func (h *TransactionsHandler) ServeCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListTransactions(w, r)
	case http.MethodPost:
		h.CreateTransaction(w, r)
	default:
		methodNotAllowed(w)
	}
}

// ServeItem handles /api/transactions/{id} and its sub-resources.
func (h *TransactionsHandler) ServeItem(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/transactions/")
	if id == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodPatch:
		h.UpdateTransaction(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		h.DeleteTransaction(w, r, id)
	case action == "children" && r.Method == http.MethodGet:
		h.ListChildren(w, r, id)
	case action == "pause" && r.Method == http.MethodPost:
		h.SetPaused(w, r, id)
	case action == "history" && r.Method == http.MethodDelete:
		h.DeleteHistory(w, r, id)
	case action == "" || action == "children" || action == "pause" || action == "history":
		methodNotAllowed(w)
	default:
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	txs, err := h.ledger.List(ctx, middleware.UserID(ctx))
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to list transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ledger.NewTransaction
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.ledger.Create(ctx, middleware.UserID(ctx), req)
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to create transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// UpdateTransaction handles PATCH /api/transactions/{id}
//
// Sending "recurrence": null or "nextDueDate": null clears the field.
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	var raw map[string]json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}
	body, _ := json.Marshal(raw)

	var patch ledger.Patch
	if err := json.Unmarshal(body, &patch); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	patch.ClearRecurrence = isNull(raw, "recurrence")
	patch.ClearNextDueDate = isNull(raw, "nextDueDate")

	tx, err := h.ledger.Update(ctx, id, middleware.UserID(ctx), patch)
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to update transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if err := h.ledger.Delete(ctx, id, middleware.UserID(ctx)); err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to delete transaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListChildren handles GET /api/transactions/{id}/children
func (h *TransactionsHandler) ListChildren(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	children, err := h.ledger.Children(ctx, id, middleware.UserID(ctx))
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to list children")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": children,
		"count":        len(children),
	})
}

// SetPaused handles POST /api/transactions/{id}/pause
func (h *TransactionsHandler) SetPaused(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	var req struct {
		Paused *bool `json:"paused"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Paused == nil {
		middleware.WriteError(w, http.StatusBadRequest, "paused is required")
		return
	}

	tx, err := h.ledger.SetPaused(ctx, id, middleware.UserID(ctx), *req.Paused)
	if err != nil {
		writeLedgerError(w, requestLogger(ctx, h.log), err, "Failed to pause recurrence")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteHistory handles DELETE /api/transactions/{id}/history
func (h *TransactionsHandler) DeleteHistory(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	log := requestLogger(ctx, h.log)

	removed, err := h.ledger.DeleteRecurrenceWithHistory(ctx, id, middleware.UserID(ctx))
	if err != nil {
		writeLedgerError(w, log, err, "Failed to delete recurrence history")
		return
	}

	log.Info().Str("transaction_id", id).Int("children", removed).Msg("Recurrence deleted with history")
	w.WriteHeader(http.StatusNoContent)
}

func isNull(raw map[string]json.RawMessage, key string) bool {
	v, ok := raw[key]
	return ok && string(v) == "null"
}
