package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/amaumene/plakt/internal/controllers"
	"github.com/sirupsen/logrus"
)

// SyncHandler triggers sync runs over HTTP
type SyncHandler struct {
	runner *controllers.Runner
	logger *logrus.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(runner *controllers.Runner, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		runner: runner,
		logger: logger,
	}
}

// syncRequest is the optional request body
type syncRequest struct {
	DryRun bool `json:"dry_run"`
}

// ServeHTTP handles POST /api/sync. The run executes synchronously and
// the response carries its result; a concurrent run answers 409.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// An absent or empty body means a regular run
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.runner.Run(r.Context(), req.DryRun)
	if err != nil {
		if errors.Is(err, controllers.ErrSyncRunning) {
			http.Error(w, "Sync already in progress", http.StatusConflict)
			return
		}
		h.logger.WithError(err).Error("Sync run failed")
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
