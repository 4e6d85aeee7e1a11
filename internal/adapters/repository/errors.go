package repository

import "errors"

// Sentinel kinds for store errors.
var (
	// ErrStoreWrite wraps any failure of the authoritative upsert.
	ErrStoreWrite = errors.New("score store write failed")
	// ErrStoreRead wraps any failure reading scores or identities.
	ErrStoreRead = errors.New("score store read failed")

	ErrNotFound     = errors.New("leaderboard entry not found")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)
