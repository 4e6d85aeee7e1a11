// Package scoring computes a participant's authoritative contest total from
// graded submissions: the sum, over every challenge mapped into the contest,
// of the user's best submission for that challenge.
package scoring

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/pkg/metrics"
)

// Source reads the submission data the aggregator needs. It is implemented
// by the Postgres submission reader and by MemorySource.
type Source interface {
	// ChallengeMappings lists the challenge mapping IDs belonging to contestID.
	ChallengeMappings(ctx context.Context, contestID string) ([]string, error)
	// BestPoints returns, for each mapping the user submitted to, the maximum
	// points among those submissions. Mappings without submissions are absent.
	BestPoints(ctx context.Context, userID string, mappingIDs []string) (map[string]int64, error)
}

// Aggregator recomputes totals from scratch, so running it twice with no new
// submissions in between always yields the same score.
type Aggregator struct {
	source  Source
	timeout time.Duration
}

// NewAggregator creates an aggregator reading from source.
func NewAggregator(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{source: source}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecomputeTotal returns the user's total score for the contest.
func (a *Aggregator) RecomputeTotal(ctx context.Context, contestID, userID string) (int64, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	mappings, err := a.mappings(ctx, contestID)
	if err != nil {
		return 0, err
	}
	return a.total(ctx, contestID, userID, mappings)
}

// RecomputeForEvent recomputes the total for the event's user after checking
// that the graded challenge mapping belongs to the event's contest.
func (a *Aggregator) RecomputeForEvent(ctx context.Context, e model.GradingEvent) (int64, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	mappings, err := a.mappings(ctx, e.ContestID)
	if err != nil {
		return 0, err
	}
	if !slices.Contains(mappings, e.ChallengeMappingID) {
		return 0, fmt.Errorf("%w: mapping %s, contest %s", ErrMappingNotInContest, e.ChallengeMappingID, e.ContestID)
	}
	return a.total(ctx, e.ContestID, e.UserID, mappings)
}

func (a *Aggregator) mappings(ctx context.Context, contestID string) ([]string, error) {
	mappings, err := a.source.ChallengeMappings(ctx, contestID)
	if err != nil {
		metrics.RecordErrorByComponent("scoring", "mappings_unavailable")
		return nil, fmt.Errorf("%w: challenge mappings of contest %s: %w", ErrDataUnavailable, contestID, err)
	}
	return mappings, nil
}

func (a *Aggregator) total(ctx context.Context, contestID, userID string, mappings []string) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRecomputeLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if len(mappings) == 0 {
		return 0, nil
	}

	best, err := a.source.BestPoints(ctx, userID, mappings)
	if err != nil {
		metrics.RecordErrorByComponent("scoring", "submissions_unavailable")
		return 0, fmt.Errorf("%w: submissions of user %s in contest %s: %w", ErrDataUnavailable, userID, contestID, err)
	}

	var sum int64
	for _, id := range mappings {
		// a negative best still counts as no credit for that challenge
		if p := best[id]; p > 0 {
			sum += p
		}
	}
	return sum, nil
}

func (a *Aggregator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
