package models

import "time"

// maxErrors bounds how many non-fatal errors one run retains for display.
const maxErrors = 10

// SyncResult aggregates the outcome of one reconciliation run.
// It lives only for the duration of the run.
type SyncResult struct {
	AddedToTrakt  int           `json:"added_to_trakt"`
	AddedToPlex   int           `json:"added_to_plex"`
	RatingsSynced int           `json:"ratings_synced"`
	Duration      time.Duration `json:"duration"`
	Errors        []string      `json:"errors,omitempty"`
}

// AddError records a non-fatal error message, keeping only the first few.
func (r *SyncResult) AddError(msg string) {
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, msg)
	}
}
