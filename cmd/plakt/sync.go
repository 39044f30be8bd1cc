package main

import (
	"fmt"
	"time"

	"github.com/amaumene/plakt/internal/controllers"
	"github.com/amaumene/plakt/internal/services/plex"
	"github.com/amaumene/plakt/internal/services/trakt"
	"github.com/spf13/cobra"
)

var syncDryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation between Plex and Trakt",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "compute the diff without writing anything")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	traktClient, err := trakt.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	if !traktClient.HasToken() {
		return fmt.Errorf("not authenticated with Trakt (run 'plakt login')")
	}

	plexClient, err := plex.NewClient(cfg, logger)
	if err != nil {
		return err
	}

	c, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctrl := controllers.NewSyncController(cfg, traktClient, plexClient, c, logger)

	result, err := ctrl.Sync(cmd.Context(), syncDryRun)
	if err != nil {
		return err
	}

	prefix := ""
	if syncDryRun {
		prefix = "[dry run] "
	}
	fmt.Printf("%sAdded to Trakt:  %d\n", prefix, result.AddedToTrakt)
	fmt.Printf("%sAdded to Plex:   %d\n", prefix, result.AddedToPlex)
	fmt.Printf("%sRatings synced:  %d\n", prefix, result.RatingsSynced)
	fmt.Printf("%sDuration:        %s\n", prefix, result.Duration.Round(time.Millisecond))
	for _, msg := range result.Errors {
		fmt.Printf("%sError: %s\n", prefix, msg)
	}

	return nil
}
