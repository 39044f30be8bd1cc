package plex

// Response shapes for the Plex Media Server REST API. Plex answers in
// JSON when asked via the Accept header; everything arrives wrapped in
// a MediaContainer.

type sectionsResponse struct {
	MediaContainer struct {
		Directory []Section `json:"Directory"`
	} `json:"MediaContainer"`
}

// Section is one library section (a "library" in the UI).
type Section struct {
	Key   string `json:"key"`
	Type  string `json:"type"` // movie, show, artist, photo
	Title string `json:"title"`
}

type metadataResponse struct {
	MediaContainer struct {
		Size     int        `json:"size"`
		Metadata []Metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

// GUIDRef is one external identifier attached to an item, shaped like
// "imdb://tt0111161" or "tmdb://278".
type GUIDRef struct {
	ID string `json:"id"`
}

// Metadata is a media item as returned by /library/sections/{key}/all.
type Metadata struct {
	RatingKey            string    `json:"ratingKey"`
	Type                 string    `json:"type"` // movie, show, season, episode
	Title                string    `json:"title"`
	Year                 int       `json:"year,omitempty"`
	GrandparentRatingKey string    `json:"grandparentRatingKey,omitempty"`
	GrandparentTitle     string    `json:"grandparentTitle,omitempty"`
	Index                int       `json:"index,omitempty"`       // episode number
	ParentIndex          int       `json:"parentIndex,omitempty"` // season number
	UserRating           float64   `json:"userRating,omitempty"`
	ViewCount            int       `json:"viewCount,omitempty"`
	LastViewedAt         int64     `json:"lastViewedAt,omitempty"`
	Guid                 []GUIDRef `json:"Guid,omitempty"`
}
