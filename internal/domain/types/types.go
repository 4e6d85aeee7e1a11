// Package types contains the read shapes returned to API callers.
package types

// Source tells callers which tier served a leaderboard.
type Source string

const (
	SourceCache Source = "cache"
	SourceDB    Source = "db"
)

// Entry is one ranked leaderboard row.
type Entry struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Score  int64  `json:"score"`
	Rank   int    `json:"rank"`
}

// Leaderboard is the response to a top-N read.
type Leaderboard struct {
	ContestID string  `json:"contestId"`
	Source    Source  `json:"source"`
	Entries   []Entry `json:"entries"`
}

// Standing is one user's position in a contest, derived from the durable store.
type Standing struct {
	ContestID string `json:"contestId"`
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Score     int64  `json:"score"`
	Rank      int    `json:"rank"`
}

// CacheStatus describes a contest's rank cache.
type CacheStatus struct {
	ContestID string `json:"contestId"`
	Warm      bool   `json:"warm"`
	Size      int64  `json:"size"`
}
