package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RatingPriority selects which side wins when both carry a rating.
// Parsed and validated here; the diff pass currently only acts on
// presence/absence asymmetry and leaves both-sides-rated items alone.
type RatingPriority string

const (
	PriorityPlex   RatingPriority = "plex"
	PriorityTrakt  RatingPriority = "trakt"
	PriorityNewest RatingPriority = "newest"
)

// Config holds all application configuration
type Config struct {
	// Trakt
	TraktClientID     string
	TraktClientSecret string

	// Plex
	PlexURL   string
	PlexToken string

	// Sync directions
	WatchedPlexToTrakt bool
	WatchedTraktToPlex bool
	RatingsPlexToTrakt bool
	RatingsTraktToPlex bool

	RatingPriority RatingPriority

	// Libraries to sync (empty = all of that kind)
	MovieLibraries []string
	ShowLibraries  []string

	// Serve mode
	SyncSchedule string
	ServerPort   string

	// Cache TTLs
	WatchedTTL time.Duration
	RatingsTTL time.Duration

	// Paths
	ConfigDir string
	TokenFile string // $CONFIG_DIR/token.json
	CacheFile string // $CONFIG_DIR/plakt-cache.db
	EnvFile   string // $CONFIG_DIR/.env

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables and the .env file
// in the config directory. Missing credentials are not an error here;
// each command validates the subset it needs.
func Load() (*Config, error) {
	viper.AutomaticEnv()

	configDir := viper.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "plakt")
	} else {
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Load .env from the config directory if present
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig()

	viper.SetDefault("SYNC_WATCHED_PLEX_TO_TRAKT", true)
	viper.SetDefault("SYNC_WATCHED_TRAKT_TO_PLEX", true)
	viper.SetDefault("SYNC_RATINGS_PLEX_TO_TRAKT", true)
	viper.SetDefault("SYNC_RATINGS_TRAKT_TO_PLEX", true)
	viper.SetDefault("SYNC_RATING_PRIORITY", string(PriorityNewest))
	viper.SetDefault("SYNC_SCHEDULE", "0 */6 * * *")
	viper.SetDefault("CACHE_WATCHED_TTL_HOURS", 24)
	viper.SetDefault("CACHE_RATINGS_TTL_HOURS", 24)
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")

	config := &Config{
		TraktClientID:     viper.GetString("TRAKT_CLIENT_ID"),
		TraktClientSecret: viper.GetString("TRAKT_CLIENT_SECRET"),

		PlexURL:   viper.GetString("PLEX_URL"),
		PlexToken: viper.GetString("PLEX_TOKEN"),

		WatchedPlexToTrakt: viper.GetBool("SYNC_WATCHED_PLEX_TO_TRAKT"),
		WatchedTraktToPlex: viper.GetBool("SYNC_WATCHED_TRAKT_TO_PLEX"),
		RatingsPlexToTrakt: viper.GetBool("SYNC_RATINGS_PLEX_TO_TRAKT"),
		RatingsTraktToPlex: viper.GetBool("SYNC_RATINGS_TRAKT_TO_PLEX"),

		RatingPriority: RatingPriority(viper.GetString("SYNC_RATING_PRIORITY")),

		MovieLibraries: splitList(viper.GetString("SYNC_MOVIE_LIBRARIES")),
		ShowLibraries:  splitList(viper.GetString("SYNC_SHOW_LIBRARIES")),

		SyncSchedule: viper.GetString("SYNC_SCHEDULE"),
		ServerPort:   viper.GetString("SERVER_PORT"),

		WatchedTTL: time.Duration(viper.GetInt("CACHE_WATCHED_TTL_HOURS")) * time.Hour,
		RatingsTTL: time.Duration(viper.GetInt("CACHE_RATINGS_TTL_HOURS")) * time.Hour,

		ConfigDir: configDir,
		TokenFile: filepath.Join(configDir, "token.json"),
		CacheFile: filepath.Join(configDir, "plakt-cache.db"),
		EnvFile:   filepath.Join(configDir, ".env"),

		LogLevel: viper.GetString("LOG_LEVEL"),
	}

	switch config.RatingPriority {
	case PriorityPlex, PriorityTrakt, PriorityNewest:
	default:
		return nil, fmt.Errorf("invalid SYNC_RATING_PRIORITY %q (want plex, trakt or newest)", config.RatingPriority)
	}

	return config, nil
}

// RequireTrakt validates that Trakt API credentials are configured.
func (c *Config) RequireTrakt() error {
	if c.TraktClientID == "" {
		return fmt.Errorf("TRAKT_CLIENT_ID is required")
	}
	if c.TraktClientSecret == "" {
		return fmt.Errorf("TRAKT_CLIENT_SECRET is required")
	}
	return nil
}

// RequirePlex validates that the Plex connection is configured.
func (c *Config) RequirePlex() error {
	if c.PlexURL == "" {
		return fmt.Errorf("PLEX_URL is required (run 'plakt setup')")
	}
	if c.PlexToken == "" {
		return fmt.Errorf("PLEX_TOKEN is required (run 'plakt setup')")
	}
	return nil
}

// SaveEnv writes the connection settings back to the .env file so that
// 'plakt setup' and 'plakt login' survive across runs.
func (c *Config) SaveEnv() error {
	lines := []string{
		"TRAKT_CLIENT_ID=" + c.TraktClientID,
		"TRAKT_CLIENT_SECRET=" + c.TraktClientSecret,
		"PLEX_URL=" + c.PlexURL,
		"PLEX_TOKEN=" + c.PlexToken,
	}
	data := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(c.EnvFile, []byte(data), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.EnvFile, err)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
