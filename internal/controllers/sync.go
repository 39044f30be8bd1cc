package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/amaumene/plakt/internal/cache"
	"github.com/amaumene/plakt/internal/config"
	"github.com/amaumene/plakt/internal/models"
	"github.com/amaumene/plakt/internal/services/trakt"
	"github.com/sirupsen/logrus"
)

// lastSyncKey is the sync-state key recording the last successful run.
const lastSyncKey = "last_sync"

// TraktService is the slice of the Trakt client the reconciliation
// engine needs: full-collection reads and batched writes.
type TraktService interface {
	GetWatchedMovies(ctx context.Context) ([]trakt.WatchedMovie, error)
	GetWatchedShows(ctx context.Context) ([]trakt.WatchedShow, error)
	GetMovieRatings(ctx context.Context) ([]trakt.RatedItem, error)
	GetShowRatings(ctx context.Context) ([]trakt.RatedItem, error)
	GetEpisodeRatings(ctx context.Context) ([]trakt.RatedItem, error)
	AddToHistory(ctx context.Context, payload trakt.SyncPayload) (*trakt.SyncResponse, error)
	AddRatings(ctx context.Context, payload trakt.SyncPayload) (*trakt.SyncResponse, error)
}

// PlexService is the slice of the Plex client the engine needs:
// library snapshots and per-item mutations.
type PlexService interface {
	GetMovies(ctx context.Context, libraries []string) ([]models.MediaItem, error)
	GetEpisodes(ctx context.Context, libraries []string) ([]models.MediaItem, error)
	MarkWatched(ctx context.Context, ratingKey string) error
	SetRating(ctx context.Context, ratingKey string, rating int) error
}

// SyncController reconciles watched state and ratings between a Plex
// server and a Trakt account. One call to Sync is one full run: fetch
// both sides, diff, apply.
type SyncController struct {
	cfg    *config.Config
	trakt  TraktService
	plex   PlexService
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewSyncController creates a new sync controller.
func NewSyncController(cfg *config.Config, traktSvc TraktService, plexSvc PlexService, c *cache.Cache, logger *logrus.Logger) *SyncController {
	return &SyncController{
		cfg:    cfg,
		trakt:  traktSvc,
		plex:   plexSvc,
		cache:  c,
		logger: logger,
	}
}

// Sync runs one full reconciliation. The diff acts on presence/absence
// only: an item watched on one side and not the other gets propagated,
// an item rated on one side and not the other gets the rating copied
// over, and an item rated on both sides is left alone. With dryRun set
// everything is computed and counted but nothing is written anywhere.
func (c *SyncController) Sync(ctx context.Context, dryRun bool) (*models.SyncResult, error) {
	start := time.Now()
	result := &models.SyncResult{}

	c.logger.WithField("dry_run", dryRun).Info("Starting sync")

	if err := c.syncMovies(ctx, dryRun, result); err != nil {
		return nil, err
	}
	if err := c.syncEpisodes(ctx, dryRun, result); err != nil {
		return nil, err
	}

	if !dryRun {
		if err := c.cache.SetSyncState(lastSyncKey, start.UTC().Format(time.RFC3339)); err != nil {
			result.AddError(fmt.Sprintf("failed to record sync state: %v", err))
		}
	}

	result.Duration = time.Since(start)
	c.logger.WithFields(logrus.Fields{
		"added_to_trakt": result.AddedToTrakt,
		"added_to_plex":  result.AddedToPlex,
		"ratings_synced": result.RatingsSynced,
		"errors":         len(result.Errors),
		"duration":       result.Duration.Round(time.Millisecond),
	}).Info("Sync finished")

	return result, nil
}

// =========================================================================
// Movies
// =========================================================================

// movieState is the merged Trakt-side view of one movie.
type movieState struct {
	movie     trakt.Movie
	watched   bool
	plays     int
	watchedAt time.Time
	rating    int
	ratedAt   time.Time
}

// movieIndex resolves external identifiers to merged Trakt movie state.
// Lookups probe IMDB first and fall back to TMDB only when the IMDB
// identifier is absent or unknown.
type movieIndex struct {
	byTrakt map[int64]*movieState
	byIMDB  map[string]int64
	byTMDB  map[int64]int64
}

func newMovieIndex() *movieIndex {
	return &movieIndex{
		byTrakt: make(map[int64]*movieState),
		byIMDB:  make(map[string]int64),
		byTMDB:  make(map[int64]int64),
	}
}

func (ix *movieIndex) state(m trakt.Movie) *movieState {
	s, ok := ix.byTrakt[m.IDs.Trakt]
	if !ok {
		s = &movieState{movie: m}
		ix.byTrakt[m.IDs.Trakt] = s
		if m.IDs.IMDB != "" {
			ix.byIMDB[m.IDs.IMDB] = m.IDs.Trakt
		}
		if m.IDs.TMDB != 0 {
			ix.byTMDB[m.IDs.TMDB] = m.IDs.Trakt
		}
	}
	return s
}

func (ix *movieIndex) lookup(ids models.ExternalIDs) *movieState {
	if ids.IMDB != "" {
		if tid, ok := ix.byIMDB[ids.IMDB]; ok {
			return ix.byTrakt[tid]
		}
	}
	if ids.TMDB != 0 {
		if tid, ok := ix.byTMDB[ids.TMDB]; ok {
			return ix.byTrakt[tid]
		}
	}
	return nil
}

func (c *SyncController) syncMovies(ctx context.Context, dryRun bool, result *models.SyncResult) error {
	plexMovies, err := c.plex.GetMovies(ctx, c.cfg.MovieLibraries)
	if err != nil {
		return fmt.Errorf("failed to fetch Plex movies: %w", err)
	}

	traktWatched, err := c.trakt.GetWatchedMovies(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch Trakt watched movies: %w", err)
	}
	traktRatings, err := c.trakt.GetMovieRatings(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch Trakt movie ratings: %w", err)
	}

	ix := newMovieIndex()
	for _, w := range traktWatched {
		s := ix.state(w.Movie)
		s.watched = true
		s.plays = w.Plays
		s.watchedAt = w.LastWatchedAt
	}
	for _, r := range traktRatings {
		if r.Movie == nil {
			continue
		}
		s := ix.state(*r.Movie)
		s.rating = r.Rating
		s.ratedAt = r.RatedAt
	}

	if !dryRun {
		c.primeMovieCache(ix, traktWatched)
	}

	var historyPayload, ratingsPayload trakt.SyncPayload
	var markWatched []models.MediaItem
	var setRatings []models.MediaItem
	var ratingValues []int

	for _, item := range plexMovies {
		if !item.IDs.HasMatchable() {
			c.logger.WithField("title", item.Title).Debug("Skipping movie without usable identifiers")
			continue
		}

		state := ix.lookup(item.IDs)
		traktWatchedHere := state != nil && state.watched
		traktRated := state != nil && state.rating > 0

		if item.Watched && !traktWatchedHere && c.cfg.WatchedPlexToTrakt {
			historyPayload.Movies = append(historyPayload.Movies, movieRef(item, 0))
		}
		if !item.Watched && traktWatchedHere && c.cfg.WatchedTraktToPlex {
			markWatched = append(markWatched, item)
		}

		if item.Rated() && !traktRated && c.cfg.RatingsPlexToTrakt {
			m := movieRef(item, item.Rating)
			ratingsPayload.Movies = append(ratingsPayload.Movies, m)
		}
		if !item.Rated() && traktRated && c.cfg.RatingsTraktToPlex {
			setRatings = append(setRatings, item)
			ratingValues = append(ratingValues, state.rating)
		}
		// Rated on both sides: left untouched.
	}

	c.applyTraktHistory(ctx, dryRun, historyPayload, len(historyPayload.Movies), result)
	c.applyTraktRatings(ctx, dryRun, ratingsPayload, len(ratingsPayload.Movies), result)
	c.applyPlexWatched(ctx, dryRun, markWatched, result)
	c.applyPlexRatings(ctx, dryRun, setRatings, ratingValues, result)

	return nil
}

// movieRef builds a Trakt movie reference for a write payload. A
// non-zero rating turns it into a rating entry; otherwise the watch
// timestamp is carried when known.
func movieRef(item models.MediaItem, rating int) trakt.Movie {
	m := trakt.Movie{
		Title:  item.Title,
		Year:   item.Year,
		Rating: rating,
		IDs: trakt.IDs{
			IMDB: item.IDs.IMDB,
			TMDB: item.IDs.TMDB,
			TVDB: item.IDs.TVDB,
		},
	}
	if rating == 0 && item.WatchedAt != nil {
		m.WatchedAt = item.WatchedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// =========================================================================
// Episodes
// =========================================================================

// episodeState is the Trakt-side view of one episode within a show.
type episodeState struct {
	watched   bool
	plays     int
	watchedAt time.Time
	rating    int
}

// showState is the merged Trakt-side view of one show: identifiers plus
// per-season per-episode state.
type showState struct {
	show     trakt.Show
	episodes map[int]map[int]*episodeState // season -> episode -> state
}

func (s *showState) episode(season, number int) *episodeState {
	if s.episodes[season] == nil {
		s.episodes[season] = make(map[int]*episodeState)
	}
	e := s.episodes[season][number]
	if e == nil {
		e = &episodeState{}
		s.episodes[season][number] = e
	}
	return e
}

func (s *showState) find(season, number int) *episodeState {
	return s.episodes[season][number]
}

// showIndex resolves show-level external identifiers, IMDB before TMDB.
type showIndex struct {
	byTrakt map[int64]*showState
	byIMDB  map[string]int64
	byTMDB  map[int64]int64
}

func newShowIndex() *showIndex {
	return &showIndex{
		byTrakt: make(map[int64]*showState),
		byIMDB:  make(map[string]int64),
		byTMDB:  make(map[int64]int64),
	}
}

func (ix *showIndex) state(show trakt.Show) *showState {
	s, ok := ix.byTrakt[show.IDs.Trakt]
	if !ok {
		s = &showState{show: show, episodes: make(map[int]map[int]*episodeState)}
		ix.byTrakt[show.IDs.Trakt] = s
		if show.IDs.IMDB != "" {
			ix.byIMDB[show.IDs.IMDB] = show.IDs.Trakt
		}
		if show.IDs.TMDB != 0 {
			ix.byTMDB[show.IDs.TMDB] = show.IDs.Trakt
		}
	}
	return s
}

func (ix *showIndex) lookup(ids models.ExternalIDs) *showState {
	if ids.IMDB != "" {
		if tid, ok := ix.byIMDB[ids.IMDB]; ok {
			return ix.byTrakt[tid]
		}
	}
	if ids.TMDB != 0 {
		if tid, ok := ix.byTMDB[ids.TMDB]; ok {
			return ix.byTrakt[tid]
		}
	}
	return nil
}

func (c *SyncController) syncEpisodes(ctx context.Context, dryRun bool, result *models.SyncResult) error {
	plexEpisodes, err := c.plex.GetEpisodes(ctx, c.cfg.ShowLibraries)
	if err != nil {
		return fmt.Errorf("failed to fetch Plex episodes: %w", err)
	}

	traktWatched, err := c.trakt.GetWatchedShows(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch Trakt watched shows: %w", err)
	}
	traktRatings, err := c.trakt.GetEpisodeRatings(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch Trakt episode ratings: %w", err)
	}

	ix := newShowIndex()
	for _, ws := range traktWatched {
		s := ix.state(ws.Show)
		for _, season := range ws.Seasons {
			for _, ep := range season.Episodes {
				e := s.episode(season.Number, ep.Number)
				e.watched = true
				e.plays = ep.Plays
				e.watchedAt = ep.LastWatchedAt
			}
		}
	}
	for _, r := range traktRatings {
		if r.Show == nil || r.Episode == nil {
			continue
		}
		s := ix.state(*r.Show)
		s.episode(r.Episode.Season, r.Episode.Number).rating = r.Rating
	}

	if !dryRun {
		c.primeShowCache(ix, traktWatched, traktRatings)
	}

	historyAcc := newShowAccumulator()
	ratingsAcc := newShowAccumulator()
	var markWatched []models.MediaItem
	var setRatings []models.MediaItem
	var ratingValues []int
	historyCount := 0
	ratingsCount := 0

	for _, item := range plexEpisodes {
		if !item.ShowIDs.HasMatchable() {
			c.logger.WithFields(logrus.Fields{
				"show":  item.ShowTitle,
				"title": item.Title,
			}).Debug("Skipping episode without usable show identifiers")
			continue
		}

		show := ix.lookup(item.ShowIDs)
		var state *episodeState
		if show != nil {
			state = show.find(item.Season, item.Episode)
		}
		traktWatchedHere := state != nil && state.watched
		traktRated := state != nil && state.rating > 0

		if item.Watched && !traktWatchedHere && c.cfg.WatchedPlexToTrakt {
			ep := trakt.SyncEpisode{Number: item.Episode}
			if item.WatchedAt != nil {
				ep.WatchedAt = item.WatchedAt.UTC().Format(time.RFC3339)
			}
			historyAcc.add(item, ep)
			historyCount++
		}
		if !item.Watched && traktWatchedHere && c.cfg.WatchedTraktToPlex {
			markWatched = append(markWatched, item)
		}

		if item.Rated() && !traktRated && c.cfg.RatingsPlexToTrakt {
			ratingsAcc.add(item, trakt.SyncEpisode{Number: item.Episode, Rating: item.Rating})
			ratingsCount++
		}
		if !item.Rated() && traktRated && c.cfg.RatingsTraktToPlex {
			setRatings = append(setRatings, item)
			ratingValues = append(ratingValues, state.rating)
		}
	}

	c.applyTraktHistory(ctx, dryRun, trakt.SyncPayload{Shows: historyAcc.flatten()}, historyCount, result)
	c.applyTraktRatings(ctx, dryRun, trakt.SyncPayload{Shows: ratingsAcc.flatten()}, ratingsCount, result)
	c.applyPlexWatched(ctx, dryRun, markWatched, result)
	c.applyPlexRatings(ctx, dryRun, setRatings, ratingValues, result)

	return nil
}

// showAccumulator groups per-episode writes into the nested
// show/season/episode shape one batch call expects.
type showAccumulator struct {
	order []string
	shows map[string]*trakt.SyncShow
}

func newShowAccumulator() *showAccumulator {
	return &showAccumulator{shows: make(map[string]*trakt.SyncShow)}
}

func showKey(ids models.ExternalIDs) string {
	if ids.IMDB != "" {
		return "imdb:" + ids.IMDB
	}
	return fmt.Sprintf("tmdb:%d", ids.TMDB)
}

func (a *showAccumulator) add(item models.MediaItem, ep trakt.SyncEpisode) {
	key := showKey(item.ShowIDs)
	show, ok := a.shows[key]
	if !ok {
		show = &trakt.SyncShow{
			Title: item.ShowTitle,
			IDs: trakt.IDs{
				IMDB: item.ShowIDs.IMDB,
				TMDB: item.ShowIDs.TMDB,
				TVDB: item.ShowIDs.TVDB,
			},
		}
		a.shows[key] = show
		a.order = append(a.order, key)
	}

	for i := range show.Seasons {
		if show.Seasons[i].Number == item.Season {
			show.Seasons[i].Episodes = append(show.Seasons[i].Episodes, ep)
			return
		}
	}
	show.Seasons = append(show.Seasons, trakt.SyncSeason{
		Number:   item.Season,
		Episodes: []trakt.SyncEpisode{ep},
	})
}

// flatten returns the accumulated shows with seasons and episodes in
// stable ascending order.
func (a *showAccumulator) flatten() []trakt.SyncShow {
	var out []trakt.SyncShow
	for _, key := range a.order {
		show := a.shows[key]
		sort.Slice(show.Seasons, func(i, j int) bool {
			return show.Seasons[i].Number < show.Seasons[j].Number
		})
		for i := range show.Seasons {
			eps := show.Seasons[i].Episodes
			sort.Slice(eps, func(x, y int) bool { return eps[x].Number < eps[y].Number })
		}
		out = append(out, *show)
	}
	return out
}

// =========================================================================
// Apply
// =========================================================================

// applyTraktHistory sends one batched history write. count is the
// number of individual items inside the payload.
func (c *SyncController) applyTraktHistory(ctx context.Context, dryRun bool, payload trakt.SyncPayload, count int, result *models.SyncResult) {
	if count == 0 {
		return
	}
	if dryRun {
		c.logger.WithField("count", count).Info("Dry run: would add items to Trakt history")
		result.AddedToTrakt += count
		return
	}

	if _, err := c.trakt.AddToHistory(ctx, payload); err != nil {
		result.AddError(fmt.Sprintf("failed to add items to Trakt history: %v", err))
		return
	}
	result.AddedToTrakt += count
}

// applyTraktRatings sends one batched ratings write.
func (c *SyncController) applyTraktRatings(ctx context.Context, dryRun bool, payload trakt.SyncPayload, count int, result *models.SyncResult) {
	if count == 0 {
		return
	}
	if dryRun {
		c.logger.WithField("count", count).Info("Dry run: would add ratings on Trakt")
		result.RatingsSynced += count
		return
	}

	if _, err := c.trakt.AddRatings(ctx, payload); err != nil {
		result.AddError(fmt.Sprintf("failed to add ratings on Trakt: %v", err))
		return
	}
	result.RatingsSynced += count
}

// applyPlexWatched marks items watched on Plex one by one; a failure on
// one item is recorded and does not stop the rest.
func (c *SyncController) applyPlexWatched(ctx context.Context, dryRun bool, items []models.MediaItem, result *models.SyncResult) {
	for _, item := range items {
		if dryRun {
			c.logger.WithField("title", item.Title).Info("Dry run: would mark watched on Plex")
			result.AddedToPlex++
			continue
		}
		if err := c.plex.MarkWatched(ctx, item.IDs.Plex); err != nil {
			result.AddError(fmt.Sprintf("failed to mark %q watched on Plex: %v", item.Title, err))
			continue
		}
		result.AddedToPlex++
	}
}

// applyPlexRatings sets ratings on Plex one by one with the same
// per-item error isolation.
func (c *SyncController) applyPlexRatings(ctx context.Context, dryRun bool, items []models.MediaItem, ratings []int, result *models.SyncResult) {
	for i, item := range items {
		if dryRun {
			c.logger.WithField("title", item.Title).Info("Dry run: would set rating on Plex")
			result.RatingsSynced++
			continue
		}
		if err := c.plex.SetRating(ctx, item.IDs.Plex, ratings[i]); err != nil {
			result.AddError(fmt.Sprintf("failed to rate %q on Plex: %v", item.Title, err))
			continue
		}
		result.RatingsSynced++
	}
}

// =========================================================================
// Cache priming
// =========================================================================

// primeMovieCache stores identifier mappings and watched/rating
// snapshots derived from the Trakt fetches. Priming failures are logged
// and ignored; the cache is an accelerator, not a source of truth.
func (c *SyncController) primeMovieCache(ix *movieIndex, watched []trakt.WatchedMovie) {
	for traktID, s := range ix.byTrakt {
		c.primeIDs(s.movie.IDs, string(models.MediaTypeMovie), traktID)
		if s.rating > 0 {
			ratedAt := s.ratedAt
			if err := c.cache.SetRating(traktID, string(models.MediaTypeMovie), s.rating, &ratedAt); err != nil {
				c.logger.WithError(err).Debug("Failed to cache movie rating")
			}
		}
	}

	entries := make([]cache.WatchedEntry, 0, len(watched))
	for _, w := range watched {
		payload, err := json.Marshal(w)
		if err != nil {
			continue
		}
		entries = append(entries, cache.WatchedEntry{
			TraktID:   w.Movie.IDs.Trakt,
			MediaType: string(models.MediaTypeMovie),
			Payload:   payload,
		})
	}
	if err := c.cache.BulkSetWatched(entries); err != nil {
		c.logger.WithError(err).Debug("Failed to cache watched movies")
	}
}

// primeShowCache does the same for shows and episode ratings.
func (c *SyncController) primeShowCache(ix *showIndex, watched []trakt.WatchedShow, ratings []trakt.RatedItem) {
	for traktID, s := range ix.byTrakt {
		c.primeIDs(s.show.IDs, string(models.MediaTypeShow), traktID)
	}

	entries := make([]cache.WatchedEntry, 0, len(watched))
	for _, w := range watched {
		payload, err := json.Marshal(w)
		if err != nil {
			continue
		}
		entries = append(entries, cache.WatchedEntry{
			TraktID:   w.Show.IDs.Trakt,
			MediaType: string(models.MediaTypeShow),
			Payload:   payload,
		})
	}
	if err := c.cache.BulkSetWatched(entries); err != nil {
		c.logger.WithError(err).Debug("Failed to cache watched shows")
	}

	ratingEntries := make([]cache.RatingEntry, 0, len(ratings))
	for _, r := range ratings {
		if r.Episode == nil || r.Episode.IDs.Trakt == 0 {
			continue
		}
		ratedAt := r.RatedAt
		ratingEntries = append(ratingEntries, cache.RatingEntry{
			TraktID:   r.Episode.IDs.Trakt,
			MediaType: string(models.MediaTypeEpisode),
			Rating:    r.Rating,
			RatedAt:   &ratedAt,
		})
	}
	if err := c.cache.BulkSetRatings(ratingEntries); err != nil {
		c.logger.WithError(err).Debug("Failed to cache episode ratings")
	}
}

// primeIDs stores the external-to-Trakt identifier mappings for one item.
func (c *SyncController) primeIDs(ids trakt.IDs, mediaType string, traktID int64) {
	if ids.IMDB != "" {
		if err := c.cache.SetTraktID("imdb", ids.IMDB, mediaType, traktID, nil); err != nil {
			c.logger.WithError(err).Debug("Failed to cache identifier mapping")
		}
	}
	if ids.TMDB != 0 {
		if err := c.cache.SetTraktID("tmdb", fmt.Sprintf("%d", ids.TMDB), mediaType, traktID, nil); err != nil {
			c.logger.WithError(err).Debug("Failed to cache identifier mapping")
		}
	}
}
