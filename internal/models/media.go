package models

import "time"

// MediaItem is the normalized representation of a movie or episode,
// built fresh on every adapter fetch and never persisted directly.
type MediaItem struct {
	Title string
	Year  int
	Type  MediaType

	// Episode fields, zero for movies
	ShowTitle string
	Season    int
	Episode   int
	ShowIDs   ExternalIDs // identifiers of the parent show

	IDs ExternalIDs

	Watched   bool
	WatchedAt *time.Time
	Plays     int
	Rating    int // 1-10, 0 means unrated
}

// Rated reports whether the item carries a user rating.
// A zero rating is equivalent to no rating at all.
func (m MediaItem) Rated() bool {
	return m.Rating > 0
}
