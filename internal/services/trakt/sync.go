package trakt

import (
	"context"
	"fmt"
	"time"
)

// IDs holds the identifier set Trakt attaches to every item.
type IDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// Movie is a movie reference as it appears in sync payloads and
// responses. Rating and WatchedAt are only populated for the write
// calls that need them.
type Movie struct {
	Title     string `json:"title,omitempty"`
	Year      int    `json:"year,omitempty"`
	IDs       IDs    `json:"ids"`
	Rating    int    `json:"rating,omitempty"`
	WatchedAt string `json:"watched_at,omitempty"`
}

// Show is a show reference in read responses.
type Show struct {
	Title string `json:"title,omitempty"`
	Year  int    `json:"year,omitempty"`
	IDs   IDs    `json:"ids"`
}

// EpisodeRef identifies an episode within a show in read responses.
type EpisodeRef struct {
	Season int   `json:"season"`
	Number int   `json:"number"`
	Title  string `json:"title,omitempty"`
	IDs    IDs   `json:"ids"`
}

// WatchedMovie is one entry of /sync/watched/movies.
type WatchedMovie struct {
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
	Movie         Movie     `json:"movie"`
}

// WatchedShow is one entry of /sync/watched/shows, with per-season
// per-episode play state nested inside.
type WatchedShow struct {
	Plays         int             `json:"plays"`
	LastWatchedAt time.Time       `json:"last_watched_at"`
	Show          Show            `json:"show"`
	Seasons       []WatchedSeason `json:"seasons"`
}

// WatchedSeason holds the watched episodes of one season.
type WatchedSeason struct {
	Number   int              `json:"number"`
	Episodes []WatchedEpisode `json:"episodes"`
}

// WatchedEpisode is one watched episode inside a WatchedSeason.
type WatchedEpisode struct {
	Number        int       `json:"number"`
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
}

// RatedItem is one entry of the /sync/ratings endpoints. Exactly one of
// Movie, Show or Episode is populated depending on the collection.
type RatedItem struct {
	Rating  int         `json:"rating"`
	RatedAt time.Time   `json:"rated_at"`
	Type    string      `json:"type"`
	Movie   *Movie      `json:"movie,omitempty"`
	Show    *Show       `json:"show,omitempty"`
	Episode *EpisodeRef `json:"episode,omitempty"`
}

// CollectedItem is one entry of the /sync/collection endpoints.
type CollectedItem struct {
	CollectedAt  time.Time `json:"collected_at,omitempty"`
	LastCollected time.Time `json:"last_collected_at,omitempty"`
	Movie        *Movie    `json:"movie,omitempty"`
	Show         *Show     `json:"show,omitempty"`
}

// SyncShow is a show entry in write payloads; seasons/episodes narrow
// the operation to specific episodes instead of the whole show.
type SyncShow struct {
	Title   string       `json:"title,omitempty"`
	Year    int          `json:"year,omitempty"`
	IDs     IDs          `json:"ids"`
	Rating  int          `json:"rating,omitempty"`
	Seasons []SyncSeason `json:"seasons,omitempty"`
}

// SyncSeason scopes a write to one season.
type SyncSeason struct {
	Number   int           `json:"number"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// SyncEpisode scopes a write to one episode.
type SyncEpisode struct {
	Number    int    `json:"number"`
	Rating    int    `json:"rating,omitempty"`
	WatchedAt string `json:"watched_at,omitempty"`
}

// SyncPayload carries disjoint per-kind lists for one batch write call.
type SyncPayload struct {
	Movies   []Movie    `json:"movies,omitempty"`
	Shows    []SyncShow `json:"shows,omitempty"`
	Episodes []Movie    `json:"episodes,omitempty"`
}

// Empty reports whether the payload carries nothing to write.
func (p SyncPayload) Empty() bool {
	return len(p.Movies) == 0 && len(p.Shows) == 0 && len(p.Episodes) == 0
}

// SyncCounts is the per-kind count block of a write response.
type SyncCounts struct {
	Movies   int `json:"movies"`
	Shows    int `json:"shows"`
	Episodes int `json:"episodes"`
}

// SyncResponse is the response to a batch write call.
type SyncResponse struct {
	Added   SyncCounts `json:"added"`
	Deleted SyncCounts `json:"deleted"`
	Updated SyncCounts `json:"updated"`
}

// =========================================================================
// Batch reads - one request returns the full collection
// =========================================================================

// GetWatchedMovies returns all watched movies in a single API call.
func (c *Client) GetWatchedMovies(ctx context.Context) ([]WatchedMovie, error) {
	var items []WatchedMovie
	if err := c.do(ctx, "GET", "/sync/watched/movies", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get watched movies: %w", err)
	}
	return items, nil
}

// GetWatchedShows returns all watched shows in a single API call.
func (c *Client) GetWatchedShows(ctx context.Context) ([]WatchedShow, error) {
	var items []WatchedShow
	if err := c.do(ctx, "GET", "/sync/watched/shows", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get watched shows: %w", err)
	}
	return items, nil
}

// GetMovieRatings returns all movie ratings in a single API call.
func (c *Client) GetMovieRatings(ctx context.Context) ([]RatedItem, error) {
	var items []RatedItem
	if err := c.do(ctx, "GET", "/sync/ratings/movies", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get movie ratings: %w", err)
	}
	return items, nil
}

// GetShowRatings returns all show ratings in a single API call.
func (c *Client) GetShowRatings(ctx context.Context) ([]RatedItem, error) {
	var items []RatedItem
	if err := c.do(ctx, "GET", "/sync/ratings/shows", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get show ratings: %w", err)
	}
	return items, nil
}

// GetEpisodeRatings returns all episode ratings in a single API call.
func (c *Client) GetEpisodeRatings(ctx context.Context) ([]RatedItem, error) {
	var items []RatedItem
	if err := c.do(ctx, "GET", "/sync/ratings/episodes", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get episode ratings: %w", err)
	}
	return items, nil
}

// GetCollectionMovies returns all collected movies in a single API call.
func (c *Client) GetCollectionMovies(ctx context.Context) ([]CollectedItem, error) {
	var items []CollectedItem
	if err := c.do(ctx, "GET", "/sync/collection/movies", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get movie collection: %w", err)
	}
	return items, nil
}

// GetCollectionShows returns all collected shows in a single API call.
func (c *Client) GetCollectionShows(ctx context.Context) ([]CollectedItem, error) {
	var items []CollectedItem
	if err := c.do(ctx, "GET", "/sync/collection/shows", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get show collection: %w", err)
	}
	return items, nil
}

// =========================================================================
// Batch writes - one request applies the whole mutation set
// =========================================================================

// write posts a batch payload, short-circuiting empty payloads to a
// zero-effect result without touching the network.
func (c *Client) write(ctx context.Context, path string, payload SyncPayload) (*SyncResponse, error) {
	if payload.Empty() {
		return &SyncResponse{}, nil
	}

	var resp SyncResponse
	if err := c.do(ctx, "POST", path, payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to post %s: %w", path, err)
	}
	return &resp, nil
}

// AddToHistory marks many items watched in a single call.
func (c *Client) AddToHistory(ctx context.Context, payload SyncPayload) (*SyncResponse, error) {
	return c.write(ctx, "/sync/history", payload)
}

// RemoveFromHistory removes many items from history in a single call.
func (c *Client) RemoveFromHistory(ctx context.Context, payload SyncPayload) (*SyncResponse, error) {
	return c.write(ctx, "/sync/history/remove", payload)
}

// AddRatings adds or updates many ratings in a single call.
func (c *Client) AddRatings(ctx context.Context, payload SyncPayload) (*SyncResponse, error) {
	return c.write(ctx, "/sync/ratings", payload)
}

// RemoveRatings removes many ratings in a single call.
func (c *Client) RemoveRatings(ctx context.Context, payload SyncPayload) (*SyncResponse, error) {
	return c.write(ctx, "/sync/ratings/remove", payload)
}

// SearchByID looks up an item by external identifier; results feed the
// identifier cache so each lookup happens at most once.
func (c *Client) SearchByID(ctx context.Context, idType, mediaID, mediaType string) ([]SearchResult, error) {
	path := fmt.Sprintf("/search/%s/%s", idType, mediaID)
	if mediaType != "" {
		path += "?type=" + mediaType
	}

	var results []SearchResult
	if err := c.do(ctx, "GET", path, nil, &results); err != nil {
		return nil, fmt.Errorf("failed to search by %s id: %w", idType, err)
	}
	return results, nil
}

// SearchResult is one entry of the /search/{id_type}/{id} endpoint.
type SearchResult struct {
	Type    string      `json:"type"`
	Score   float64     `json:"score"`
	Movie   *Movie      `json:"movie,omitempty"`
	Show    *Show       `json:"show,omitempty"`
	Episode *EpisodeRef `json:"episode,omitempty"`
}
