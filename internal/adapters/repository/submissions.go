package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/okian/contestboard/pkg/metrics"
)

const (
	contestMappingsSQL = `SELECT id FROM contest_challenges
WHERE contest_id = $1
ORDER BY id`

	bestPointsSQL = `SELECT challenge_mapping_id, MAX(points) FROM submissions
WHERE user_id = $1 AND challenge_mapping_id = ANY($2)
GROUP BY challenge_mapping_id`
)

// SubmissionReader reads the grading service's tables for the score
// aggregator. It never writes.
type SubmissionReader struct {
	db      DB
	timeout time.Duration
}

// SubmissionOption configures a SubmissionReader.
type SubmissionOption func(*SubmissionReader)

// WithSubmissionQueryTimeout bounds each submission query.
func WithSubmissionQueryTimeout(d time.Duration) SubmissionOption {
	return func(r *SubmissionReader) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewSubmissionReader creates a reader on top of db.
func NewSubmissionReader(db DB, opts ...SubmissionOption) *SubmissionReader {
	r := &SubmissionReader{db: db, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ChallengeMappings lists the challenge mapping IDs of a contest.
func (r *SubmissionReader) ChallengeMappings(ctx context.Context, contestID string) ([]string, error) {
	start := time.Now()
	defer observe("challenge_mappings", start)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, contestMappingsSQL, contestID)
	if err != nil {
		metrics.RecordStoreError("challenge_mappings")
		return nil, fmt.Errorf("%w: mappings of contest %s: %w", ErrStoreRead, contestID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		metrics.RecordStoreError("challenge_mappings")
		return nil, fmt.Errorf("%w: mappings of contest %s: %w", ErrStoreRead, contestID, err)
	}
	return ids, nil
}

// BestPoints returns the user's maximum points per mapping, for the mappings
// the user submitted to.
func (r *SubmissionReader) BestPoints(ctx context.Context, userID string, mappingIDs []string) (map[string]int64, error) {
	start := time.Now()
	defer observe("best_points", start)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, bestPointsSQL, userID, mappingIDs)
	if err != nil {
		metrics.RecordStoreError("best_points")
		return nil, fmt.Errorf("%w: submissions of %s: %w", ErrStoreRead, userID, err)
	}

	best := make(map[string]int64, len(mappingIDs))
	var (
		mappingID string
		points    int64
	)
	_, err = pgx.ForEachRow(rows, []any{&mappingID, &points}, func() error {
		best[mappingID] = points
		return nil
	})
	if err != nil {
		metrics.RecordStoreError("best_points")
		return nil, fmt.Errorf("%w: submissions of %s: %w", ErrStoreRead, userID, err)
	}
	return best, nil
}
