package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/plakt/internal/config"
	"github.com/amaumene/plakt/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	requestTimeout = 30 * time.Second

	// Plex type filter for /library/sections/{key}/all
	typeEpisode = "4"

	scrobbleIdentifier = "com.plexapp.plugins.library"
)

// Client is a thin wrapper over the Plex Media Server HTTP API. The
// reconciliation core only ever reads full library snapshots from it
// and writes per-item watched/rating mutations back.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new Plex client from the configured URL and token.
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if err := cfg.RequirePlex(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.PlexURL, "/"),
		token:      cfg.PlexToken,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}, nil
}

// get performs a GET against the server and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}

	fullURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)

	c.logger.WithField("path", path).Debug("Making Plex API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("plex request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("plex API returned status %d: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode plex response: %w", err)
		}
	}
	return nil
}

// GetSections lists all library sections.
func (c *Client) GetSections(ctx context.Context) ([]Section, error) {
	var resp sectionsResponse
	if err := c.get(ctx, "/library/sections", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list library sections: %w", err)
	}
	return resp.MediaContainer.Directory, nil
}

// sectionsOfType filters sections to one kind, optionally restricted to
// the named libraries (empty list = all of that kind).
func (c *Client) sectionsOfType(ctx context.Context, sectionType string, libraries []string) ([]Section, error) {
	sections, err := c.GetSections(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(libraries))
	for _, name := range libraries {
		wanted[name] = true
	}

	var out []Section
	for _, s := range sections {
		if s.Type != sectionType {
			continue
		}
		if len(wanted) > 0 && !wanted[s.Title] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// sectionItems fetches the items of one section, with guids included so
// external identifiers come back inline.
func (c *Client) sectionItems(ctx context.Context, sectionKey, itemType string) ([]Metadata, error) {
	params := url.Values{}
	params.Set("includeGuids", "1")
	if itemType != "" {
		params.Set("type", itemType)
	}

	var resp metadataResponse
	path := fmt.Sprintf("/library/sections/%s/all", sectionKey)
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return resp.MediaContainer.Metadata, nil
}

// GetMovies returns all movies from the configured movie libraries as
// normalized items.
func (c *Client) GetMovies(ctx context.Context, libraries []string) ([]models.MediaItem, error) {
	sections, err := c.sectionsOfType(ctx, "movie", libraries)
	if err != nil {
		return nil, err
	}

	var items []models.MediaItem
	for _, section := range sections {
		metadata, err := c.sectionItems(ctx, section.Key, "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch movies from %q: %w", section.Title, err)
		}
		for _, m := range metadata {
			items = append(items, toMovieItem(m))
		}
	}

	c.logger.WithField("count", len(items)).Debug("Fetched Plex movies")
	return items, nil
}

// GetEpisodes returns all episodes from the configured show libraries.
// Each episode also carries its parent show's identifiers, resolved via
// the show-level listing, since matching against the tracking service
// happens at show granularity.
func (c *Client) GetEpisodes(ctx context.Context, libraries []string) ([]models.MediaItem, error) {
	sections, err := c.sectionsOfType(ctx, "show", libraries)
	if err != nil {
		return nil, err
	}

	var items []models.MediaItem
	for _, section := range sections {
		shows, err := c.sectionItems(ctx, section.Key, "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch shows from %q: %w", section.Title, err)
		}

		showIDs := make(map[string]models.ExternalIDs, len(shows))
		for _, show := range shows {
			showIDs[show.RatingKey] = parseGUIDs(show.RatingKey, show.Guid)
		}

		episodes, err := c.sectionItems(ctx, section.Key, typeEpisode)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch episodes from %q: %w", section.Title, err)
		}

		for _, ep := range episodes {
			item := toEpisodeItem(ep)
			item.ShowIDs = showIDs[ep.GrandparentRatingKey]
			items = append(items, item)
		}
	}

	c.logger.WithField("count", len(items)).Debug("Fetched Plex episodes")
	return items, nil
}

// MarkWatched marks an item watched (scrobbles it).
func (c *Client) MarkWatched(ctx context.Context, ratingKey string) error {
	params := url.Values{}
	params.Set("key", ratingKey)
	params.Set("identifier", scrobbleIdentifier)

	if err := c.get(ctx, "/:/scrobble", params, nil); err != nil {
		return fmt.Errorf("failed to mark %s watched: %w", ratingKey, err)
	}
	return nil
}

// MarkUnwatched clears an item's watched state.
func (c *Client) MarkUnwatched(ctx context.Context, ratingKey string) error {
	params := url.Values{}
	params.Set("key", ratingKey)
	params.Set("identifier", scrobbleIdentifier)

	if err := c.get(ctx, "/:/unscrobble", params, nil); err != nil {
		return fmt.Errorf("failed to mark %s unwatched: %w", ratingKey, err)
	}
	return nil
}

// SetRating sets the user rating for an item on the shared 1-10 scale.
func (c *Client) SetRating(ctx context.Context, ratingKey string, rating int) error {
	params := url.Values{}
	params.Set("key", ratingKey)
	params.Set("identifier", scrobbleIdentifier)
	params.Set("rating", strconv.Itoa(rating))

	if err := c.get(ctx, "/:/rate", params, nil); err != nil {
		return fmt.Errorf("failed to rate %s: %w", ratingKey, err)
	}
	return nil
}

// parseGUIDs extracts external identifiers from the guid list.
// Malformed entries are skipped; an item without usable guids simply
// cannot be matched.
func parseGUIDs(ratingKey string, guids []GUIDRef) models.ExternalIDs {
	ids := models.ExternalIDs{Plex: ratingKey}

	for _, g := range guids {
		switch {
		case strings.HasPrefix(g.ID, "imdb://"):
			ids.IMDB = strings.TrimPrefix(g.ID, "imdb://")
		case strings.HasPrefix(g.ID, "tmdb://"):
			if v, err := strconv.ParseInt(strings.TrimPrefix(g.ID, "tmdb://"), 10, 64); err == nil {
				ids.TMDB = v
			}
		case strings.HasPrefix(g.ID, "tvdb://"):
			if v, err := strconv.ParseInt(strings.TrimPrefix(g.ID, "tvdb://"), 10, 64); err == nil {
				ids.TVDB = v
			}
		}
	}
	return ids
}

func watchedAt(m Metadata) *time.Time {
	if m.LastViewedAt == 0 {
		return nil
	}
	t := time.Unix(m.LastViewedAt, 0)
	return &t
}

func toMovieItem(m Metadata) models.MediaItem {
	return models.MediaItem{
		Title:     m.Title,
		Year:      m.Year,
		Type:      models.MediaTypeMovie,
		IDs:       parseGUIDs(m.RatingKey, m.Guid),
		Watched:   m.ViewCount > 0,
		WatchedAt: watchedAt(m),
		Plays:     m.ViewCount,
		Rating:    int(m.UserRating),
	}
}

func toEpisodeItem(m Metadata) models.MediaItem {
	return models.MediaItem{
		Title:     m.Title,
		Year:      m.Year,
		Type:      models.MediaTypeEpisode,
		ShowTitle: m.GrandparentTitle,
		Season:    m.ParentIndex,
		Episode:   m.Index,
		IDs:       parseGUIDs(m.RatingKey, m.Guid),
		Watched:   m.ViewCount > 0,
		WatchedAt: watchedAt(m),
		Plays:     m.ViewCount,
		Rating:    int(m.UserRating),
	}
}
