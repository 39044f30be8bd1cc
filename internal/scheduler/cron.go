package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/amaumene/plakt/internal/controllers"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the sync on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	runner   *controllers.Runner
	schedule string
	logger   *logrus.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(runner *controllers.Runner, schedule string, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
}

// Start starts the scheduler and kicks off an immediate first run.
func (s *Scheduler) Start() error {
	s.logger.WithField("schedule", s.schedule).Info("Starting scheduler")

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runSync()
	})
	if err != nil {
		return fmt.Errorf("failed to add sync job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	go s.runSync()

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cron.Stop()
}

// runSync executes one scheduled sync run
func (s *Scheduler) runSync() {
	s.logger.Info("Running scheduled sync")

	result, err := s.runner.Run(context.Background(), false)
	if err != nil {
		if errors.Is(err, controllers.ErrSyncRunning) {
			s.logger.Warn("Skipping scheduled sync, another run is in progress")
			return
		}
		s.logger.WithError(err).Error("Scheduled sync failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"added_to_trakt": result.AddedToTrakt,
		"added_to_plex":  result.AddedToPlex,
		"ratings_synced": result.RatingsSynced,
	}).Info("Scheduled sync completed")
}
