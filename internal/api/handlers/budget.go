package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/marketdata/internal/budget"
	"github.com/wonny/marketdata/pkg/logger"
)

// BudgetReporter exposes quota snapshots
type BudgetReporter interface {
	Status(ctx context.Context, provider string) (budget.Status, error)
	StatusAll(ctx context.Context) ([]budget.Status, error)
	Known(provider string) bool
}

// BudgetHandler serves provider quota status
type BudgetHandler struct {
	tracker BudgetReporter
	logger  *logger.Logger
}

// NewBudgetHandler creates a new budget handler
func NewBudgetHandler(tracker BudgetReporter, log *logger.Logger) *BudgetHandler {
	return &BudgetHandler{
		tracker: tracker,
		logger:  log,
	}
}

// ListBudgets returns today's usage for every provider
// GET /api/budget
func (h *BudgetHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.tracker.StatusAll(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get budget status")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve budget status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    statuses,
	})
}

// GetBudget returns today's usage for one provider
// GET /api/budget/{provider}
func (h *BudgetHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	if !h.tracker.Known(name) {
		respondError(w, http.StatusNotFound, "unknown provider: "+name)
		return
	}

	status, err := h.tracker.Status(r.Context(), name)
	if err != nil {
		h.logger.WithError(err).WithField("provider", name).Error("Failed to get budget status")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve budget status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    status,
	})
}
