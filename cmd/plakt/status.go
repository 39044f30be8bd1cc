package main

import (
	"fmt"
	"strings"

	"github.com/amaumene/plakt/internal/services/trakt"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, authentication and cache state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Configuration")
	fmt.Printf("  Config dir:      %s\n", cfg.ConfigDir)
	fmt.Printf("  Plex URL:        %s\n", orUnset(cfg.PlexURL))
	fmt.Printf("  Trakt client ID: %s\n", orUnset(mask(cfg.TraktClientID)))
	fmt.Printf("  Schedule:        %s\n", cfg.SyncSchedule)
	fmt.Printf("  Directions:      watched %s / ratings %s\n",
		directions(cfg.WatchedPlexToTrakt, cfg.WatchedTraktToPlex),
		directions(cfg.RatingsPlexToTrakt, cfg.RatingsTraktToPlex))

	authenticated := false
	if err := cfg.RequireTrakt(); err == nil {
		client, err := trakt.NewClient(cfg, logger)
		if err == nil {
			authenticated = client.HasToken()
		}
	}
	fmt.Printf("  Trakt auth:      %v\n", authenticated)

	c, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.GetStats()
	if err != nil {
		return err
	}

	fmt.Println("Cache")
	fmt.Printf("  ID mappings:     %d\n", stats.IDMappings)
	fmt.Printf("  Watched entries: %d\n", stats.Watched)
	fmt.Printf("  Rating entries:  %d\n", stats.Ratings)
	fmt.Printf("  State entries:   %d\n", stats.SyncState)

	if lastSync, ok, err := c.GetSyncState("last_sync"); err == nil && ok {
		fmt.Printf("  Last sync:       %s\n", lastSync)
	}

	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// mask hides all but the first few characters of a secret.
func mask(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + strings.Repeat("*", 8)
}

func directions(toTrakt, toPlex bool) string {
	switch {
	case toTrakt && toPlex:
		return "both"
	case toTrakt:
		return "plex->trakt"
	case toPlex:
		return "trakt->plex"
	default:
		return "off"
	}
}
