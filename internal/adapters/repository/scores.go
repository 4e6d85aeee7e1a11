package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/pkg/metrics"
)

// Ordering: score DESC, then user_id ascending by byte order. The "C"
// collation keeps Postgres in step with the rank cache, which compares
// member names as raw bytes.
const (
	ensureEntrySQL = `INSERT INTO leaderboard_entries (contest_id, user_id, score)
VALUES ($1, $2, 0)
ON CONFLICT (contest_id, user_id) DO NOTHING`

	lockEntrySQL = `SELECT score FROM leaderboard_entries
WHERE contest_id = $1 AND user_id = $2
FOR UPDATE`

	setScoreSQL = `UPDATE leaderboard_entries
SET score = $3, updated_at = now()
WHERE contest_id = $1 AND user_id = $2`

	topNSQL = `SELECT user_id, score FROM leaderboard_entries
WHERE contest_id = $1
ORDER BY score DESC, user_id COLLATE "C" ASC
LIMIT $2`

	rankSQL = `SELECT e.score, 1 + (
	SELECT COUNT(*) FROM leaderboard_entries o
	WHERE o.contest_id = e.contest_id
	  AND (o.score > e.score
	       OR (o.score = e.score AND o.user_id COLLATE "C" < e.user_id COLLATE "C"))
) AS rank
FROM leaderboard_entries e
WHERE e.contest_id = $1 AND e.user_id = $2`
)

// ScoreStore is the durable, authoritative leaderboard_entries accessor.
type ScoreStore struct {
	db      DB
	timeout time.Duration
}

// Option applies a configuration option to the ScoreStore.
type Option func(*ScoreStore)

// WithQueryTimeout bounds each store call.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *ScoreStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScoreStore creates a store on top of db.
func NewScoreStore(db DB, opts ...Option) *ScoreStore {
	s := &ScoreStore{db: db, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertScore sets the absolute score for (contestID, userID) and returns the
// value it replaced, 0 for a first entry. The row is locked for the duration
// of the transaction, so concurrent writers for the same key each observe the
// previous writer's score.
func (s *ScoreStore) UpsertScore(ctx context.Context, contestID, userID string, score int64) (int64, error) {
	start := time.Now()
	defer observe("upsert", start)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	previous, err := s.upsert(ctx, contestID, userID, score)
	if err != nil {
		metrics.RecordStoreError("upsert")
		return 0, fmt.Errorf("%w: contest %s, user %s: %w", ErrStoreWrite, contestID, userID, err)
	}
	return previous, nil
}

func (s *ScoreStore) upsert(ctx context.Context, contestID, userID string, score int64) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, ensureEntrySQL, contestID, userID); err != nil {
		return 0, err
	}
	var previous int64
	if err := tx.QueryRow(ctx, lockEntrySQL, contestID, userID).Scan(&previous); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, setScoreSQL, contestID, userID, score); err != nil {
		return 0, err
	}
	return previous, tx.Commit(ctx)
}

// TopN returns at most n entries in ranking order.
func (s *ScoreStore) TopN(ctx context.Context, contestID string, n int) ([]model.ScoreEntry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	start := time.Now()
	defer observe("top_n", start)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.Query(ctx, topNSQL, contestID, n)
	if err != nil {
		metrics.RecordStoreError("top_n")
		return nil, fmt.Errorf("%w: top %d of contest %s: %w", ErrStoreRead, n, contestID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ScoreEntry, error) {
		var e model.ScoreEntry
		err := row.Scan(&e.UserID, &e.Score)
		return e, err
	})
	if err != nil {
		metrics.RecordStoreError("top_n")
		return nil, fmt.Errorf("%w: top %d of contest %s: %w", ErrStoreRead, n, contestID, err)
	}
	return entries, nil
}

// Rank returns the user's score and 1-based position under the ranking order.
// Returns ErrNotFound if the user has no entry in the contest.
func (s *ScoreStore) Rank(ctx context.Context, contestID, userID string) (model.ScoreEntry, int, error) {
	start := time.Now()
	defer observe("rank", start)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		score int64
		rank  int64
	)
	err := s.db.QueryRow(ctx, rankSQL, contestID, userID).Scan(&score, &rank)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.ScoreEntry{}, 0, ErrNotFound
	case err != nil:
		metrics.RecordStoreError("rank")
		return model.ScoreEntry{}, 0, fmt.Errorf("%w: rank of %s in contest %s: %w", ErrStoreRead, userID, contestID, err)
	}
	return model.ScoreEntry{UserID: userID, Score: score}, int(rank), nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}
