package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired entries from the cache",
	RunE:  runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	c, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	removed, err := c.PruneExpired()
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d expired entries\n", removed)
	return nil
}
