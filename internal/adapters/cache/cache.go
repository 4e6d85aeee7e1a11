// Package cache implements the per-contest rank cache: a sorted collection of
// (user, score) members with a TTL, kept in Redis or in process memory.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/pkg/metrics"
)

// ErrCacheUnavailable wraps every backend failure. Callers treat it as a miss
// on reads and log it on writes.
var ErrCacheUnavailable = errors.New("rank cache unavailable")

// Outcome reports what IncrementBy did.
type Outcome int

const (
	// Cold means the contest had no cached ranking; nothing was written.
	Cold Outcome = iota
	// Incremented means an existing member's score moved by delta.
	Incremented
	// Seeded means the member was absent and was added at its total.
	Seeded
	// Current means the member already held total or more, so the write had
	// been applied by a reload and nothing changed.
	Current
)

func (o Outcome) String() string {
	switch o {
	case Cold:
		return "cold"
	case Incremented:
		return "incremented"
	case Seeded:
		return "seeded"
	case Current:
		return "current"
	default:
		return "unknown"
	}
}

// RankCache is a per-contest sorted set ordered by score DESC, then user ID
// ascending by byte order.
type RankCache interface {
	// IncrementBy adds delta to userID's cached score. A member missing from
	// a warm contest is added at total; a cold contest is left untouched. A
	// member already at total or above is left as is, so a delta is never
	// applied on top of a reload that already contains it.
	IncrementBy(ctx context.Context, contestID, userID string, delta, total int64) (Outcome, error)
	// BulkLoad replaces the contest's ranking with entries and sets its TTL.
	// An empty batch leaves the contest cold.
	BulkLoad(ctx context.Context, contestID string, entries []model.ScoreEntry, ttl time.Duration) error
	// TopN returns at most n members in ranking order. An empty result means
	// the contest is cold.
	TopN(ctx context.Context, contestID string, n int) ([]model.ScoreEntry, error)
	// Exists reports whether the contest has a live cached ranking.
	Exists(ctx context.Context, contestID string) (bool, error)
	// Size returns the number of cached members for the contest.
	Size(ctx context.Context, contestID string) (int64, error)
	// Invalidate drops the contest's cached ranking.
	Invalidate(ctx context.Context, contestID string) error
}

// less returns true if (aScore, aID) ranks ahead of (bScore, bID).
func less(aScore int64, aID string, bScore int64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func observe(op string, start time.Time) {
	metrics.RecordCacheLatency(op, float64(time.Since(start).Microseconds())/1000)
}
