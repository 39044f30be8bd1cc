package controllers

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/amaumene/plakt/internal/cache"
	"github.com/amaumene/plakt/internal/config"
	"github.com/amaumene/plakt/internal/models"
	"github.com/amaumene/plakt/internal/services/trakt"
	"github.com/sirupsen/logrus"
)

// fakeTrakt is a stateful stand-in: writes mutate its collections the
// way the real service would, so a second run sees the first run's
// effects.
type fakeTrakt struct {
	watchedMovies  []trakt.WatchedMovie
	watchedShows   []trakt.WatchedShow
	movieRatings   []trakt.RatedItem
	showRatings    []trakt.RatedItem
	episodeRatings []trakt.RatedItem

	historyCalls []trakt.SyncPayload
	ratingCalls  []trakt.SyncPayload

	nextID int64
}

// assignID hands out a fresh Trakt ID for items written without one,
// the way the real service resolves identifiers on ingest.
func (f *fakeTrakt) assignID(ids trakt.IDs) trakt.IDs {
	if ids.Trakt == 0 {
		f.nextID++
		ids.Trakt = 1000 + f.nextID
	}
	return ids
}

func (f *fakeTrakt) GetWatchedMovies(ctx context.Context) ([]trakt.WatchedMovie, error) {
	return f.watchedMovies, nil
}

func (f *fakeTrakt) GetWatchedShows(ctx context.Context) ([]trakt.WatchedShow, error) {
	return f.watchedShows, nil
}

func (f *fakeTrakt) GetMovieRatings(ctx context.Context) ([]trakt.RatedItem, error) {
	return f.movieRatings, nil
}

func (f *fakeTrakt) GetShowRatings(ctx context.Context) ([]trakt.RatedItem, error) {
	return f.showRatings, nil
}

func (f *fakeTrakt) GetEpisodeRatings(ctx context.Context) ([]trakt.RatedItem, error) {
	return f.episodeRatings, nil
}

func (f *fakeTrakt) AddToHistory(ctx context.Context, payload trakt.SyncPayload) (*trakt.SyncResponse, error) {
	f.historyCalls = append(f.historyCalls, payload)
	for _, m := range payload.Movies {
		m.IDs = f.assignID(m.IDs)
		f.watchedMovies = append(f.watchedMovies, trakt.WatchedMovie{
			Plays:         1,
			LastWatchedAt: time.Now(),
			Movie:         m,
		})
	}
	for _, s := range payload.Shows {
		ws := trakt.WatchedShow{
			Plays: 1,
			Show:  trakt.Show{Title: s.Title, Year: s.Year, IDs: f.assignID(s.IDs)},
		}
		for _, season := range s.Seasons {
			wSeason := trakt.WatchedSeason{Number: season.Number}
			for _, ep := range season.Episodes {
				wSeason.Episodes = append(wSeason.Episodes, trakt.WatchedEpisode{
					Number: ep.Number, Plays: 1, LastWatchedAt: time.Now(),
				})
			}
			ws.Seasons = append(ws.Seasons, wSeason)
		}
		f.watchedShows = append(f.watchedShows, ws)
	}
	return &trakt.SyncResponse{}, nil
}

func (f *fakeTrakt) AddRatings(ctx context.Context, payload trakt.SyncPayload) (*trakt.SyncResponse, error) {
	f.ratingCalls = append(f.ratingCalls, payload)
	for i := range payload.Movies {
		m := payload.Movies[i]
		m.IDs = f.assignID(m.IDs)
		f.movieRatings = append(f.movieRatings, trakt.RatedItem{
			Rating: m.Rating, RatedAt: time.Now(), Type: "movie", Movie: &m,
		})
	}
	for _, s := range payload.Shows {
		show := trakt.Show{Title: s.Title, IDs: f.assignID(s.IDs)}
		for _, season := range s.Seasons {
			for _, ep := range season.Episodes {
				f.episodeRatings = append(f.episodeRatings, trakt.RatedItem{
					Rating: ep.Rating, RatedAt: time.Now(), Type: "episode",
					Show:    &show,
					Episode: &trakt.EpisodeRef{Season: season.Number, Number: ep.Number},
				})
			}
		}
	}
	return &trakt.SyncResponse{}, nil
}

// fakePlex applies watched/rating mutations to its own items.
type fakePlex struct {
	movies   []models.MediaItem
	episodes []models.MediaItem

	markWatchedCalls []string
	setRatingCalls   map[string]int
	failMarkWatched  map[string]bool
}

func (f *fakePlex) GetMovies(ctx context.Context, libraries []string) ([]models.MediaItem, error) {
	return f.movies, nil
}

func (f *fakePlex) GetEpisodes(ctx context.Context, libraries []string) ([]models.MediaItem, error) {
	return f.episodes, nil
}

func (f *fakePlex) MarkWatched(ctx context.Context, ratingKey string) error {
	if f.failMarkWatched[ratingKey] {
		return errors.New("server unavailable")
	}
	f.markWatchedCalls = append(f.markWatchedCalls, ratingKey)
	for i := range f.movies {
		if f.movies[i].IDs.Plex == ratingKey {
			f.movies[i].Watched = true
		}
	}
	for i := range f.episodes {
		if f.episodes[i].IDs.Plex == ratingKey {
			f.episodes[i].Watched = true
		}
	}
	return nil
}

func (f *fakePlex) SetRating(ctx context.Context, ratingKey string, rating int) error {
	if f.setRatingCalls == nil {
		f.setRatingCalls = make(map[string]int)
	}
	f.setRatingCalls[ratingKey] = rating
	for i := range f.movies {
		if f.movies[i].IDs.Plex == ratingKey {
			f.movies[i].Rating = rating
		}
	}
	for i := range f.episodes {
		if f.episodes[i].IDs.Plex == ratingKey {
			f.episodes[i].Rating = rating
		}
	}
	return nil
}

func newTestController(t *testing.T, traktSvc *fakeTrakt, plexSvc PlexService) *SyncController {
	t.Helper()

	c, err := cache.Open(filepath.Join(t.TempDir(), "test-cache.db"), time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		WatchedPlexToTrakt: true,
		WatchedTraktToPlex: true,
		RatingsPlexToTrakt: true,
		RatingsTraktToPlex: true,
		RatingPriority:     config.PriorityNewest,
	}

	return NewSyncController(cfg, traktSvc, plexSvc, c, logger)
}

func plexMovie(key, title, imdb string, watched bool, rating int) models.MediaItem {
	var watchedAt *time.Time
	if watched {
		ts := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
		watchedAt = &ts
	}
	return models.MediaItem{
		Title:     title,
		Year:      1994,
		Type:      models.MediaTypeMovie,
		IDs:       models.ExternalIDs{Plex: key, IMDB: imdb},
		Watched:   watched,
		WatchedAt: watchedAt,
		Rating:    rating,
	}
}

func traktWatchedMovie(traktID int64, title, imdb string) trakt.WatchedMovie {
	return trakt.WatchedMovie{
		Plays:         1,
		LastWatchedAt: time.Date(2024, 4, 1, 20, 0, 0, 0, time.UTC),
		Movie:         trakt.Movie{Title: title, IDs: trakt.IDs{Trakt: traktID, IMDB: imdb}},
	}
}

func TestSyncPropagatesWatchedMovieToTrakt(t *testing.T) {
	traktSvc := &fakeTrakt{}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "The Shawshank Redemption", "tt0111161", true, 0),
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AddedToTrakt != 1 {
		t.Errorf("expected 1 item added to Trakt, got %d", result.AddedToTrakt)
	}
	if result.AddedToPlex != 0 {
		t.Errorf("expected nothing added to Plex, got %d", result.AddedToPlex)
	}
	if len(traktSvc.historyCalls) != 1 {
		t.Fatalf("expected 1 history call, got %d", len(traktSvc.historyCalls))
	}
	movie := traktSvc.historyCalls[0].Movies[0]
	if movie.IDs.IMDB != "tt0111161" {
		t.Errorf("unexpected movie in payload: %+v", movie)
	}
	if movie.WatchedAt == "" {
		t.Error("expected watch timestamp to carry over")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	traktSvc := &fakeTrakt{
		watchedMovies: []trakt.WatchedMovie{
			traktWatchedMovie(1, "The Godfather", "tt0068646"),
		},
	}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "The Shawshank Redemption", "tt0111161", true, 0),
			plexMovie("101", "The Godfather", "tt0068646", false, 0),
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	first, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.AddedToTrakt != 1 || first.AddedToPlex != 1 {
		t.Fatalf("unexpected first run: %+v", first)
	}

	second, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.AddedToTrakt != 0 || second.AddedToPlex != 0 || second.RatingsSynced != 0 {
		t.Errorf("expected empty second run, got %+v", second)
	}
	if len(traktSvc.historyCalls) != 1 {
		t.Errorf("expected no further history calls, got %d", len(traktSvc.historyCalls))
	}
	if len(plexSvc.markWatchedCalls) != 1 {
		t.Errorf("expected no further Plex writes, got %d", len(plexSvc.markWatchedCalls))
	}
}

func TestIdentifierPrecedenceIMDBOverTMDB(t *testing.T) {
	// The IMDB identifier resolves to a watched entry; the TMDB
	// identifier resolves to a different, unwatched-but-rated entry.
	// IMDB must win, so the item is already in sync.
	traktSvc := &fakeTrakt{
		watchedMovies: []trakt.WatchedMovie{
			traktWatchedMovie(1, "Right Movie", "tt0000001"),
		},
		movieRatings: []trakt.RatedItem{
			{
				Rating: 9, RatedAt: time.Now(), Type: "movie",
				Movie: &trakt.Movie{Title: "Wrong Movie", IDs: trakt.IDs{Trakt: 2, TMDB: 500}},
			},
		},
	}
	item := plexMovie("100", "Right Movie", "tt0000001", true, 0)
	item.IDs.TMDB = 500
	plexSvc := &fakePlex{movies: []models.MediaItem{item}}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AddedToTrakt != 0 {
		t.Errorf("expected no history write, got %d", result.AddedToTrakt)
	}
	if len(plexSvc.setRatingCalls) != 0 {
		t.Errorf("expected no rating writes, got %v", plexSvc.setRatingCalls)
	}
}

func TestMovieWritesAreBatched(t *testing.T) {
	traktSvc := &fakeTrakt{}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "Heat", "tt0113277", true, 0),
			plexMovie("101", "Ronin", "tt0122690", true, 0),
			plexMovie("102", "Collateral", "tt0369339", true, 0),
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AddedToTrakt != 3 {
		t.Errorf("expected 3 items added, got %d", result.AddedToTrakt)
	}
	if len(traktSvc.historyCalls) != 1 {
		t.Fatalf("expected a single batched history call, got %d", len(traktSvc.historyCalls))
	}
	if got := len(traktSvc.historyCalls[0].Movies); got != 3 {
		t.Errorf("expected 3 movies in one payload, got %d", got)
	}
}

func TestDirectionFlagsGateWrites(t *testing.T) {
	traktSvc := &fakeTrakt{
		watchedMovies: []trakt.WatchedMovie{
			traktWatchedMovie(1, "The Godfather", "tt0068646"),
		},
	}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "The Shawshank Redemption", "tt0111161", true, 0),
			plexMovie("101", "The Godfather", "tt0068646", false, 0),
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)
	ctrl.cfg.WatchedPlexToTrakt = false

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AddedToTrakt != 0 {
		t.Errorf("expected disabled direction to write nothing, got %d", result.AddedToTrakt)
	}
	if len(traktSvc.historyCalls) != 0 {
		t.Errorf("expected no history calls, got %d", len(traktSvc.historyCalls))
	}
	// The opposite direction stays active
	if result.AddedToPlex != 1 {
		t.Errorf("expected Trakt-to-Plex direction to still run, got %d", result.AddedToPlex)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	traktSvc := &fakeTrakt{
		watchedMovies: []trakt.WatchedMovie{
			traktWatchedMovie(1, "The Godfather", "tt0068646"),
		},
	}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "The Shawshank Redemption", "tt0111161", true, 8),
			plexMovie("101", "The Godfather", "tt0068646", false, 0),
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Planned operations are still counted
	if result.AddedToTrakt != 1 || result.AddedToPlex != 1 || result.RatingsSynced != 1 {
		t.Errorf("unexpected dry run counts: %+v", result)
	}
	if len(traktSvc.historyCalls) != 0 || len(traktSvc.ratingCalls) != 0 {
		t.Error("dry run must not write to Trakt")
	}
	if len(plexSvc.markWatchedCalls) != 0 || len(plexSvc.setRatingCalls) != 0 {
		t.Error("dry run must not write to Plex")
	}
	stats, err := ctrl.cache.GetStats()
	if err != nil {
		t.Fatalf("failed to read cache stats: %v", err)
	}
	if stats.IDMappings != 0 || stats.Watched != 0 || stats.Ratings != 0 || stats.SyncState != 0 {
		t.Errorf("dry run must not write to the cache, got %+v", stats)
	}
}

func TestRatingsOnBothSidesUntouched(t *testing.T) {
	traktSvc := &fakeTrakt{
		movieRatings: []trakt.RatedItem{
			{
				Rating: 9, RatedAt: time.Now(), Type: "movie",
				Movie: &trakt.Movie{Title: "The Shawshank Redemption", IDs: trakt.IDs{Trakt: 1, IMDB: "tt0111161"}},
			},
		},
	}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "The Shawshank Redemption", "tt0111161", false, 7),
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RatingsSynced != 0 {
		t.Errorf("expected conflicting ratings to stay untouched, got %d synced", result.RatingsSynced)
	}
	if len(traktSvc.ratingCalls) != 0 || len(plexSvc.setRatingCalls) != 0 {
		t.Error("expected no rating writes on either side")
	}
}

func TestRatingPropagation(t *testing.T) {
	traktSvc := &fakeTrakt{
		movieRatings: []trakt.RatedItem{
			{
				Rating: 10, RatedAt: time.Now(), Type: "movie",
				Movie: &trakt.Movie{Title: "The Godfather", IDs: trakt.IDs{Trakt: 2, IMDB: "tt0068646"}},
			},
		},
	}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "Heat", "tt0113277", false, 8),      // rated only on Plex
			plexMovie("101", "The Godfather", "tt0068646", false, 0), // rated only on Trakt
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RatingsSynced != 2 {
		t.Errorf("expected 2 ratings synced, got %d", result.RatingsSynced)
	}
	if len(traktSvc.ratingCalls) != 1 || traktSvc.ratingCalls[0].Movies[0].Rating != 8 {
		t.Errorf("unexpected Trakt rating write: %+v", traktSvc.ratingCalls)
	}
	if plexSvc.setRatingCalls["101"] != 10 {
		t.Errorf("expected Plex rating 10 for key 101, got %v", plexSvc.setRatingCalls)
	}
}

func TestEpisodeSyncBuildsNestedPayload(t *testing.T) {
	showIDs := models.ExternalIDs{IMDB: "tt0306414", TMDB: 1438}
	watched := time.Date(2024, 5, 2, 21, 0, 0, 0, time.UTC)

	traktSvc := &fakeTrakt{
		watchedShows: []trakt.WatchedShow{
			{
				Show: trakt.Show{Title: "The Wire", IDs: trakt.IDs{Trakt: 10, IMDB: "tt0306414"}},
				Seasons: []trakt.WatchedSeason{
					{Number: 1, Episodes: []trakt.WatchedEpisode{{Number: 3, Plays: 1}}},
				},
			},
		},
	}
	plexSvc := &fakePlex{
		episodes: []models.MediaItem{
			{
				Title: "The Target", Type: models.MediaTypeEpisode,
				ShowTitle: "The Wire", Season: 1, Episode: 1, ShowIDs: showIDs,
				IDs:     models.ExternalIDs{Plex: "201"},
				Watched: true, WatchedAt: &watched,
			},
			{
				Title: "The Detail", Type: models.MediaTypeEpisode,
				ShowTitle: "The Wire", Season: 1, Episode: 2, ShowIDs: showIDs,
				IDs:     models.ExternalIDs{Plex: "202"},
				Watched: true,
			},
			{
				Title: "The Buys", Type: models.MediaTypeEpisode,
				ShowTitle: "The Wire", Season: 1, Episode: 3, ShowIDs: showIDs,
				IDs: models.ExternalIDs{Plex: "203"},
			},
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Episodes 1 and 2 go to Trakt as one nested show payload
	if result.AddedToTrakt != 2 {
		t.Errorf("expected 2 episodes added to Trakt, got %d", result.AddedToTrakt)
	}
	if len(traktSvc.historyCalls) != 1 {
		t.Fatalf("expected a single history call, got %d", len(traktSvc.historyCalls))
	}
	shows := traktSvc.historyCalls[0].Shows
	if len(shows) != 1 || shows[0].IDs.IMDB != "tt0306414" {
		t.Fatalf("unexpected show payload: %+v", shows)
	}
	if len(shows[0].Seasons) != 1 || shows[0].Seasons[0].Number != 1 {
		t.Fatalf("unexpected seasons: %+v", shows[0].Seasons)
	}
	eps := shows[0].Seasons[0].Episodes
	if len(eps) != 2 || eps[0].Number != 1 || eps[1].Number != 2 {
		t.Errorf("unexpected episodes: %+v", eps)
	}
	if eps[0].WatchedAt == "" {
		t.Error("expected watch timestamp on first episode")
	}

	// Episode 3 is watched on Trakt only and flows back to Plex
	if result.AddedToPlex != 1 {
		t.Errorf("expected 1 episode marked on Plex, got %d", result.AddedToPlex)
	}
	if len(plexSvc.markWatchedCalls) != 1 || plexSvc.markWatchedCalls[0] != "203" {
		t.Errorf("unexpected Plex writes: %v", plexSvc.markWatchedCalls)
	}
}

func TestPlexWriteFailureIsIsolated(t *testing.T) {
	traktSvc := &fakeTrakt{
		watchedMovies: []trakt.WatchedMovie{
			traktWatchedMovie(1, "The Godfather", "tt0068646"),
			traktWatchedMovie(2, "Goodfellas", "tt0099685"),
		},
	}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			plexMovie("100", "The Godfather", "tt0068646", false, 0),
			plexMovie("101", "Goodfellas", "tt0099685", false, 0),
		},
		failMarkWatched: map[string]bool{"100": true},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("expected run to survive a per-item failure, got %v", err)
	}
	if result.AddedToPlex != 1 {
		t.Errorf("expected the surviving item to be applied, got %d", result.AddedToPlex)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 recorded error, got %v", result.Errors)
	}
}

func TestUnmatchableItemsAreSkipped(t *testing.T) {
	traktSvc := &fakeTrakt{}
	plexSvc := &fakePlex{
		movies: []models.MediaItem{
			{
				Title: "Home Video", Type: models.MediaTypeMovie,
				IDs:     models.ExternalIDs{Plex: "100"},
				Watched: true,
			},
		},
	}
	ctrl := newTestController(t, traktSvc, plexSvc)

	result, err := ctrl.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AddedToTrakt != 0 || len(traktSvc.historyCalls) != 0 {
		t.Errorf("expected unmatchable item to be skipped, got %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("skipping is not an error, got %v", result.Errors)
	}
}
