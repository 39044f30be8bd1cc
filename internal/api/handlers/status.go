package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/amaumene/plakt/internal/cache"
	"github.com/amaumene/plakt/internal/controllers"
	"github.com/amaumene/plakt/internal/models"
	"github.com/sirupsen/logrus"
)

// StatusHandler handles status requests
type StatusHandler struct {
	runner *controllers.Runner
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(runner *controllers.Runner, c *cache.Cache, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		runner: runner,
		cache:  c,
		logger: logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	Status     string             `json:"status"` // idle or syncing
	LastRun    *time.Time         `json:"last_run,omitempty"`
	LastResult *models.SyncResult `json:"last_result,omitempty"`
	Cache      *cache.Stats       `json:"cache"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.cache.GetStats()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read cache stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	running, lastRun, lastResult := h.runner.Status()

	response := StatusResponse{
		Status:     "idle",
		LastResult: lastResult,
		Cache:      stats,
	}
	if running {
		response.Status = "syncing"
	}
	if !lastRun.IsZero() {
		response.LastRun = &lastRun
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
