package models

// MediaType identifies the kind of a media item
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeEpisode MediaType = "episode"
)

// ExternalIDs holds the identifiers an item carries across services.
// Any subset may be populated; zero values mean "not known".
type ExternalIDs struct {
	IMDB  string // e.g. "tt0111161"
	TMDB  int64
	TVDB  int64
	Plex  string // Plex rating key
	Trakt int64
}

// HasMatchable reports whether the item carries at least one identifier
// usable for cross-service matching.
func (ids ExternalIDs) HasMatchable() bool {
	return ids.IMDB != "" || ids.TMDB != 0
}
