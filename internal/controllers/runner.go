package controllers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amaumene/plakt/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrSyncRunning is returned when a run is requested while another one
// is still in flight.
var ErrSyncRunning = errors.New("a sync is already running")

// Runner serializes sync runs. The scheduler and the HTTP API both
// trigger runs through it, so at most one reconciliation touches the
// remotes at a time.
type Runner struct {
	ctrl   *SyncController
	logger *logrus.Logger

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	lastResult *models.SyncResult
}

// NewRunner creates a new runner around a sync controller.
func NewRunner(ctrl *SyncController, logger *logrus.Logger) *Runner {
	return &Runner{ctrl: ctrl, logger: logger}
}

// Run executes one sync unless another is already in progress.
func (r *Runner) Run(ctx context.Context, dryRun bool) (*models.SyncResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrSyncRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	result, err := r.ctrl.Sync(ctx, dryRun)
	if err != nil {
		r.logger.WithError(err).Error("Sync run failed")
		return nil, err
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.lastResult = result
	r.mu.Unlock()

	return result, nil
}

// Status reports whether a run is in flight plus the outcome of the
// last completed one. lastRun is zero when no run has completed yet.
func (r *Runner) Status() (running bool, lastRun time.Time, lastResult *models.SyncResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running, r.lastRun, r.lastResult
}
