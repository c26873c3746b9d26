// Package handlers implements the HTTP endpoints of the ledger API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/engine"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/rs/zerolog"
)

// Ledger is the transaction engine as seen by the HTTP layer.
type Ledger interface {
	List(ctx context.Context, userID string) ([]*ledger.Transaction, error)
	Create(ctx context.Context, userID string, n ledger.NewTransaction) (*ledger.Transaction, error)
	Update(ctx context.Context, id, userID string, p ledger.Patch) (*ledger.Transaction, error)
	Delete(ctx context.Context, id, userID string) error
	Children(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error)
	SetPaused(ctx context.Context, id, userID string, paused bool) (*ledger.Transaction, error)
	DeleteRecurrenceWithHistory(ctx context.Context, parentID, userID string) (int, error)
	Transfer(ctx context.Context, userID string, r engine.TransferRequest) (*engine.Transfer, error)
	Accounts(ctx context.Context, userID string) ([]*ledger.Account, error)
	Reconcile(ctx context.Context, userID string) ([]engine.Reconciliation, error)
}

// writeLedgerError maps engine errors to HTTP statuses. Validation messages
// are returned to the caller; anything else is logged and hidden.
func writeLedgerError(w http.ResponseWriter, log zerolog.Logger, err error, action string) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ledger.ErrAtomicity):
		log.Error().Err(err).Msg(action)
		middleware.WriteError(w, http.StatusServiceUnavailable, "Temporarily unavailable, retry")
	default:
		log.Error().Err(err).Msg(action)
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// splitPath splits "/prefix/{id}/{action}" into id and action.
func splitPath(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ = strings.Cut(rest, "/")
	return id, action
}

// requestLogger returns the request-scoped logger set by middleware.Logger,
// or fallback outside the middleware chain.
func requestLogger(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := ctx.Value(logger.LoggerKey).(zerolog.Logger); ok {
		return l
	}
	return fallback
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
