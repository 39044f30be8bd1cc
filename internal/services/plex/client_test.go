package plex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/amaumene/plakt/internal/models"
	"github.com/sirupsen/logrus"
)

func newTestClient(serverURL string) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Client{
		baseURL:    serverURL,
		token:      "test-token",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

func TestParseGUIDs(t *testing.T) {
	ids := parseGUIDs("12345", []GUIDRef{
		{ID: "imdb://tt0111161"},
		{ID: "tmdb://278"},
		{ID: "tvdb://not-a-number"},
		{ID: "plex://movie/5d776b59ad5437001f79c6f8"},
	})

	if ids.Plex != "12345" {
		t.Errorf("expected plex rating key 12345, got %q", ids.Plex)
	}
	if ids.IMDB != "tt0111161" {
		t.Errorf("expected imdb id, got %q", ids.IMDB)
	}
	if ids.TMDB != 278 {
		t.Errorf("expected tmdb 278, got %d", ids.TMDB)
	}
	// Malformed tvdb guid is skipped, not an error
	if ids.TVDB != 0 {
		t.Errorf("expected tvdb unset, got %d", ids.TVDB)
	}
	if !ids.HasMatchable() {
		t.Error("expected item to be matchable")
	}
}

const sectionsBody = `{"MediaContainer":{"Directory":[
	{"key":"1","type":"movie","title":"Movies"},
	{"key":"2","type":"show","title":"TV Shows"},
	{"key":"3","type":"movie","title":"Kids Movies"}
]}}`

const moviesBody = `{"MediaContainer":{"size":2,"Metadata":[
	{"ratingKey":"100","type":"movie","title":"The Shawshank Redemption","year":1994,
	 "viewCount":2,"lastViewedAt":1714560000,"userRating":9,
	 "Guid":[{"id":"imdb://tt0111161"},{"id":"tmdb://278"}]},
	{"ratingKey":"101","type":"movie","title":"Unmatched Home Video","year":2020}
]}}`

func TestGetMovies(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.Header.Get("X-Plex-Token") != "test-token" {
			t.Error("missing X-Plex-Token header")
		}
		switch r.URL.Path {
		case "/library/sections":
			w.Write([]byte(sectionsBody))
		case "/library/sections/1/all":
			if r.URL.Query().Get("includeGuids") != "1" {
				t.Error("expected includeGuids=1")
			}
			w.Write([]byte(moviesBody))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	items, err := client.GetMovies(context.Background(), []string{"Movies"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 movies, got %d", len(items))
	}

	m := items[0]
	if m.Title != "The Shawshank Redemption" || m.Year != 1994 {
		t.Errorf("unexpected item: %+v", m)
	}
	if m.Type != models.MediaTypeMovie {
		t.Errorf("expected movie type, got %s", m.Type)
	}
	if !m.Watched || m.Plays != 2 || m.Rating != 9 {
		t.Errorf("unexpected watch state: %+v", m)
	}
	if m.WatchedAt == nil {
		t.Error("expected watched-at timestamp")
	}
	if m.IDs.IMDB != "tt0111161" || m.IDs.TMDB != 278 || m.IDs.Plex != "100" {
		t.Errorf("unexpected ids: %+v", m.IDs)
	}

	// Library filter: only the "Movies" section is fetched
	for _, p := range paths {
		if p == "/library/sections/3/all" {
			t.Error("excluded library was fetched")
		}
	}

	// Second item has no guids and no view state
	if items[1].Watched || items[1].Rated() || items[1].IDs.HasMatchable() {
		t.Errorf("unexpected state for unmatched item: %+v", items[1])
	}
}

const showsBody = `{"MediaContainer":{"size":1,"Metadata":[
	{"ratingKey":"200","type":"show","title":"The Wire","year":2002,
	 "Guid":[{"id":"imdb://tt0306414"},{"id":"tmdb://1438"}]}
]}}`

const episodesBody = `{"MediaContainer":{"size":2,"Metadata":[
	{"ratingKey":"201","type":"episode","title":"The Target","year":2002,
	 "grandparentRatingKey":"200","grandparentTitle":"The Wire",
	 "parentIndex":1,"index":1,"viewCount":1,
	 "Guid":[{"id":"imdb://tt0749451"}]},
	{"ratingKey":"202","type":"episode","title":"The Detail","year":2002,
	 "grandparentRatingKey":"200","grandparentTitle":"The Wire",
	 "parentIndex":1,"index":2}
]}}`

func TestGetEpisodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/library/sections":
			w.Write([]byte(sectionsBody))
		case r.URL.Path == "/library/sections/2/all" && r.URL.Query().Get("type") == "4":
			w.Write([]byte(episodesBody))
		case r.URL.Path == "/library/sections/2/all":
			w.Write([]byte(showsBody))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	items, err := client.GetEpisodes(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(items))
	}

	ep := items[0]
	if ep.Type != models.MediaTypeEpisode || ep.ShowTitle != "The Wire" {
		t.Errorf("unexpected episode: %+v", ep)
	}
	if ep.Season != 1 || ep.Episode != 1 {
		t.Errorf("unexpected numbering: s%de%d", ep.Season, ep.Episode)
	}
	// Episode carries its own ids plus the parent show's ids
	if ep.IDs.IMDB != "tt0749451" {
		t.Errorf("unexpected episode ids: %+v", ep.IDs)
	}
	if ep.ShowIDs.IMDB != "tt0306414" || ep.ShowIDs.TMDB != 1438 {
		t.Errorf("unexpected show ids: %+v", ep.ShowIDs)
	}
	if !ep.Watched || items[1].Watched {
		t.Error("unexpected watched flags")
	}
}

func TestMarkWatchedAndRate(t *testing.T) {
	var calls []url.Values
	var callPaths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callPaths = append(callPaths, r.URL.Path)
		calls = append(calls, r.URL.Query())
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	if err := client.MarkWatched(ctx, "100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SetRating(ctx, "100", 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if callPaths[0] != "/:/scrobble" {
		t.Errorf("unexpected scrobble path %s", callPaths[0])
	}
	if calls[0].Get("key") != "100" || calls[0].Get("identifier") != scrobbleIdentifier {
		t.Errorf("unexpected scrobble params: %v", calls[0])
	}
	if callPaths[1] != "/:/rate" {
		t.Errorf("unexpected rate path %s", callPaths[1])
	}
	if calls[1].Get("rating") != "8" {
		t.Errorf("unexpected rating param: %v", calls[1])
	}
}
