package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively write the connection settings",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	cfg.TraktClientID = prompt(reader, "Trakt client ID", cfg.TraktClientID)
	cfg.TraktClientSecret = prompt(reader, "Trakt client secret", cfg.TraktClientSecret)
	cfg.PlexURL = prompt(reader, "Plex server URL (e.g. http://localhost:32400)", cfg.PlexURL)
	cfg.PlexToken = prompt(reader, "Plex token", cfg.PlexToken)

	if err := cfg.SaveEnv(); err != nil {
		return err
	}

	fmt.Println("Settings written to", cfg.EnvFile)
	fmt.Println("Run 'plakt login' to authenticate with Trakt.")
	return nil
}

// prompt asks for one value, keeping the current one on empty input.
func prompt(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		return current
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}
