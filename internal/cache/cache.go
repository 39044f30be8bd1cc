package cache

import (
	"fmt"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// Identifier mappings are immutable facts; give them an effectively
// unbounded lifetime so they never force a remote lookup twice.
const idMappingTTL = 10 * 365 * 24 * time.Hour

// IDMapping maps an external identifier to the canonical Trakt ID.
type IDMapping struct {
	Key        string `boltholdKey:"Key"` // namespace|externalID|mediaType
	Namespace  string
	ExternalID string
	MediaType  string
	TraktID    int64
	Payload    []byte // optional auxiliary JSON blob
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// WatchedEntry is a short-lived snapshot of remote watched state,
// keyed by the canonical Trakt ID.
type WatchedEntry struct {
	TraktID   int64 `boltholdKey:"TraktID"`
	MediaType string
	Payload   []byte
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// RatingEntry is a short-lived snapshot of a remote rating.
type RatingEntry struct {
	TraktID   int64 `boltholdKey:"TraktID"`
	MediaType string
	Rating    int
	RatedAt   *time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// StateEntry is an arbitrary key/value pair for resumable cross-run state.
// State entries never expire; they are only cleared explicitly.
type StateEntry struct {
	Key       string `boltholdKey:"Key"`
	Value     string
	UpdatedAt time.Time
}

// Stats reports per-table entry counts.
type Stats struct {
	IDMappings int `json:"id_mappings"`
	Watched    int `json:"watched"`
	Ratings    int `json:"ratings"`
	SyncState  int `json:"sync_state"`
}

// Cache is the durable store backing identifier mappings and the
// short-TTL watched/rating snapshots. A run owns its Cache exclusively
// and closes it when done.
type Cache struct {
	store      *bolthold.Store
	watchedTTL time.Duration
	ratingsTTL time.Duration
	now        func() time.Time
}

// Open opens (creating if needed) the cache file. Schema setup is
// implicit and idempotent; bolthold creates buckets on first write.
func Open(path string, watchedTTL, ratingsTTL time.Duration) (*Cache, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	return &Cache{
		store:      store,
		watchedTTL: watchedTTL,
		ratingsTTL: ratingsTTL,
		now:        time.Now,
	}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func mappingKey(namespace, externalID, mediaType string) string {
	return namespace + "|" + externalID + "|" + mediaType
}

// GetTraktID returns the live canonical ID for an external identifier,
// or false if no unexpired mapping exists.
func (c *Cache) GetTraktID(namespace, externalID, mediaType string) (int64, bool, error) {
	var m IDMapping
	err := c.store.Get(mappingKey(namespace, externalID, mediaType), &m)
	if err == bolthold.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !m.ExpiresAt.After(c.now()) {
		return 0, false, nil
	}
	return m.TraktID, true, nil
}

// SetTraktID upserts an identifier mapping, overwriting any existing
// record for the same key.
func (c *Cache) SetTraktID(namespace, externalID, mediaType string, traktID int64, payload []byte) error {
	now := c.now()
	m := IDMapping{
		Key:        mappingKey(namespace, externalID, mediaType),
		Namespace:  namespace,
		ExternalID: externalID,
		MediaType:  mediaType,
		TraktID:    traktID,
		Payload:    payload,
		CreatedAt:  now,
		ExpiresAt:  now.Add(idMappingTTL),
	}
	return c.store.Upsert(m.Key, &m)
}

// GetIDMappingData returns the auxiliary payload for a mapping
// regardless of expiration; it is enrichment, not identity truth.
func (c *Cache) GetIDMappingData(namespace, externalID, mediaType string) ([]byte, error) {
	var m IDMapping
	err := c.store.Get(mappingKey(namespace, externalID, mediaType), &m)
	if err == bolthold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Payload, nil
}

// GetWatched returns the cached watched snapshot for a Trakt ID.
// A read past expiration returns false, forcing a fresh remote fetch.
func (c *Cache) GetWatched(traktID int64) ([]byte, bool, error) {
	var e WatchedEntry
	err := c.store.Get(traktID, &e)
	if err == bolthold.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !e.ExpiresAt.After(c.now()) {
		return nil, false, nil
	}
	return e.Payload, true, nil
}

// SetWatched caches a watched snapshot.
func (c *Cache) SetWatched(traktID int64, mediaType string, payload []byte) error {
	now := c.now()
	return c.store.Upsert(traktID, &WatchedEntry{
		TraktID:   traktID,
		MediaType: mediaType,
		Payload:   payload,
		UpdatedAt: now,
		ExpiresAt: now.Add(c.watchedTTL),
	})
}

// BulkSetWatched caches many watched snapshots in one transaction;
// the batch either fully applies or fails entirely.
func (c *Cache) BulkSetWatched(entries []WatchedEntry) error {
	now := c.now()
	return c.store.Bolt().Update(func(tx *bbolt.Tx) error {
		for i := range entries {
			e := entries[i]
			e.UpdatedAt = now
			e.ExpiresAt = now.Add(c.watchedTTL)
			if err := c.store.TxUpsert(tx, e.TraktID, &e); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRating returns the cached rating and rated-at time for a Trakt ID.
func (c *Cache) GetRating(traktID int64) (int, *time.Time, bool, error) {
	var e RatingEntry
	err := c.store.Get(traktID, &e)
	if err == bolthold.ErrNotFound {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	if !e.ExpiresAt.After(c.now()) {
		return 0, nil, false, nil
	}
	return e.Rating, e.RatedAt, true, nil
}

// SetRating caches a rating snapshot.
func (c *Cache) SetRating(traktID int64, mediaType string, rating int, ratedAt *time.Time) error {
	now := c.now()
	return c.store.Upsert(traktID, &RatingEntry{
		TraktID:   traktID,
		MediaType: mediaType,
		Rating:    rating,
		RatedAt:   ratedAt,
		UpdatedAt: now,
		ExpiresAt: now.Add(c.ratingsTTL),
	})
}

// BulkSetRatings caches many rating snapshots in one transaction.
func (c *Cache) BulkSetRatings(entries []RatingEntry) error {
	now := c.now()
	return c.store.Bolt().Update(func(tx *bbolt.Tx) error {
		for i := range entries {
			e := entries[i]
			e.UpdatedAt = now
			e.ExpiresAt = now.Add(c.ratingsTTL)
			if err := c.store.TxUpsert(tx, e.TraktID, &e); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSyncState returns a sync state value by key.
func (c *Cache) GetSyncState(key string) (string, bool, error) {
	var e StateEntry
	err := c.store.Get(key, &e)
	if err == bolthold.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return e.Value, true, nil
}

// SetSyncState stores a sync state value.
func (c *Cache) SetSyncState(key, value string) error {
	return c.store.Upsert(key, &StateEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: c.now(),
	})
}

// ClearSyncState removes all sync state entries.
func (c *Cache) ClearSyncState() error {
	return c.store.DeleteMatching(&StateEntry{}, nil)
}

// PruneExpired removes expired rows from the three TTL-bearing tables
// and returns the number removed. Identifier mappings carry a ten-year
// expiry, so in practice the delete never touches them; sync state has
// no expiry at all.
func (c *Cache) PruneExpired() (int, error) {
	now := c.now()
	total := 0

	var mappings []IDMapping
	if err := c.store.Find(&mappings, bolthold.Where("ExpiresAt").Le(now)); err != nil {
		return total, err
	}
	if err := c.store.DeleteMatching(&IDMapping{}, bolthold.Where("ExpiresAt").Le(now)); err != nil {
		return total, err
	}
	total += len(mappings)

	var watched []WatchedEntry
	if err := c.store.Find(&watched, bolthold.Where("ExpiresAt").Le(now)); err != nil {
		return total, err
	}
	if err := c.store.DeleteMatching(&WatchedEntry{}, bolthold.Where("ExpiresAt").Le(now)); err != nil {
		return total, err
	}
	total += len(watched)

	var ratings []RatingEntry
	if err := c.store.Find(&ratings, bolthold.Where("ExpiresAt").Le(now)); err != nil {
		return total, err
	}
	if err := c.store.DeleteMatching(&RatingEntry{}, bolthold.Where("ExpiresAt").Le(now)); err != nil {
		return total, err
	}
	total += len(ratings)

	return total, nil
}

// GetStats returns entry counts per table.
func (c *Cache) GetStats() (*Stats, error) {
	stats := &Stats{}

	count, err := c.store.Count(&IDMapping{}, nil)
	if err != nil {
		return nil, err
	}
	stats.IDMappings = count

	count, err = c.store.Count(&WatchedEntry{}, nil)
	if err != nil {
		return nil, err
	}
	stats.Watched = count

	count, err = c.store.Count(&RatingEntry{}, nil)
	if err != nil {
		return nil, err
	}
	stats.Ratings = count

	count, err = c.store.Count(&StateEntry{}, nil)
	if err != nil {
		return nil, err
	}
	stats.SyncState = count

	return stats, nil
}
