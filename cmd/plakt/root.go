package main

import (
	"github.com/amaumene/plakt/internal/cache"
	"github.com/amaumene/plakt/internal/config"
	"github.com/amaumene/plakt/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "plakt",
	Short:         "Keep Plex and Trakt watched state and ratings in sync",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads configuration and builds the logger every command
// starts from.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, utils.NewLogger(cfg.LogLevel), nil
}

// openCache opens the cache file from the config directory.
func openCache(cfg *config.Config) (*cache.Cache, error) {
	return cache.Open(cfg.CacheFile, cfg.WatchedTTL, cfg.RatingsTTL)
}
