package handlers

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/scheduler"
	"github.com/rs/zerolog"
)

// RecurrenceRunner runs one recurrence batch.
type RecurrenceRunner interface {
	ProcessRecurrences(ctx context.Context, asOf civil.Date) (scheduler.Result, error)
}

// CronHandler handles the externally triggered batch endpoint.
type CronHandler struct {
	runner RecurrenceRunner
	log    zerolog.Logger
	now    func() time.Time
}

// NewCronHandler creates a new cron handler.
func NewCronHandler(runner RecurrenceRunner, log zerolog.Logger) *CronHandler {
	return &CronHandler{
		runner: runner,
		log:    log,
		now:    time.Now,
	}
}

// ProcessRecurrences handles GET /api/cron/recurrences
func (h *CronHandler) ProcessRecurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()

	res, err := h.runner.ProcessRecurrences(ctx, civil.DateOf(now))
	if err != nil {
		reqLog := requestLogger(ctx, h.log)
		reqLog.Error().Err(err).Msg("Failed to process recurrences")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process recurrences")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"processed": res.Processed,
		"skipped":   res.Skipped,
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}
