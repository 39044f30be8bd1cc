package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amaumene/plakt/internal/api"
	"github.com/amaumene/plakt/internal/controllers"
	"github.com/amaumene/plakt/internal/scheduler"
	"github.com/amaumene/plakt/internal/services/plex"
	"github.com/amaumene/plakt/internal/services/trakt"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync on a schedule with an HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.WithField("config_dir", cfg.ConfigDir).Info("Starting plakt")

	traktClient, err := trakt.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Trakt client: %w", err)
	}
	if !traktClient.HasToken() {
		return fmt.Errorf("not authenticated with Trakt (run 'plakt login')")
	}

	plexClient, err := plex.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Plex client: %w", err)
	}

	c, err := openCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer c.Close()
	logger.Info("Cache initialized")

	ctrl := controllers.NewSyncController(cfg, traktClient, plexClient, c, logger)
	runner := controllers.NewRunner(ctrl, logger)

	sched := scheduler.NewScheduler(runner, cfg.SyncSchedule, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	server := api.NewServer(cfg, runner, c, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("plakt is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Error during server shutdown")
		}
	}

	logger.Info("plakt stopped")
	return nil
}
