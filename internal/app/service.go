// Package service is the leaderboard orchestrator: it runs the write path
// (recompute, durable upsert, cache delta) and the cache-first read path, and
// owns the asynchronous grading event pipeline in front of the write path.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/contestboard/internal/adapters/cache"
	eventqueue "github.com/okian/contestboard/internal/adapters/mq/queue"
	workerpool "github.com/okian/contestboard/internal/adapters/mq/worker"
	"github.com/okian/contestboard/internal/domain/dedupe"
	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/internal/domain/types"
	"github.com/okian/contestboard/pkg/logger"
	"github.com/okian/contestboard/pkg/metrics"
)

// ScoreStore is the durable, authoritative score table.
type ScoreStore interface {
	// UpsertScore sets the absolute score and returns the one it replaced.
	UpsertScore(ctx context.Context, contestID, userID string, score int64) (int64, error)
	TopN(ctx context.Context, contestID string, n int) ([]model.ScoreEntry, error)
	Rank(ctx context.Context, contestID, userID string) (model.ScoreEntry, int, error)
}

// Recomputer derives a user's contest total after a grading event.
type Recomputer interface {
	RecomputeForEvent(ctx context.Context, e model.GradingEvent) (int64, error)
}

// IdentityResolver maps user IDs to display identities. Unknown IDs are
// omitted from the result.
type IdentityResolver interface {
	Resolve(ctx context.Context, userIDs []string) (map[string]model.Identity, error)
}

// Service implements the API dependencies for the leaderboard system.
type Service struct {
	mu sync.RWMutex

	store      ScoreStore
	recomputer Recomputer
	rankCache  cache.RankCache
	identities IdentityResolver

	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	// cancelWorkers ends the workers' context once Stop has drained them.
	cancelWorkers context.CancelFunc
	loads         singleflight.Group

	workerCount        int
	queueSize          int
	dedupeSize         int
	workerMaxRetries   int
	workerRetryBackoff time.Duration
	cacheTTL           time.Duration
	cacheReadTimeout   time.Duration
	cacheDepth         int
	defaultSize        int
	maxLimit           int

	started bool
	logger  logger.Logger
}

// New constructs a Service over its collaborators.
func New(store ScoreStore, recomputer Recomputer, rankCache cache.RankCache, identities IdentityResolver, opts ...Option) *Service {
	s := &Service{
		store:              store,
		recomputer:         recomputer,
		rankCache:          rankCache,
		identities:         identities,
		workerCount:        runtime.NumCPU() * 2,
		queueSize:          10_000,
		dedupeSize:         100_000,
		workerMaxRetries:   3,
		workerRetryBackoff: 200 * time.Millisecond,
		cacheTTL:           300 * time.Second,
		cacheReadTimeout:   50 * time.Millisecond,
		cacheDepth:         1000,
		defaultSize:        10,
		maxLimit:           100,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("leaderboard")
	}
	// a warm cache can only answer exactly up to the depth it was loaded with
	s.cacheDepth = max(s.cacheDepth, s.maxLimit)
	s.defaultSize = min(s.defaultSize, s.maxLimit)

	// the deduper outlives restarts so redeliveries across Stop/Start are caught
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start creates the event queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s,
		workerpool.WithMaxRetries(s.workerMaxRetries),
		workerpool.WithRetryBackoff(s.workerRetryBackoff),
		workerpool.WithReleaser(s.deduper),
	)
	// workers outlive the caller's context; Stop drains them first
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelWorkers = cancel
	s.workerPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "leaderboard service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("cacheTTL", s.cacheTTL),
		logger.Int("cacheDepth", s.cacheDepth),
	)
	return nil
}

// Stop closes intake and waits for queued events to drain.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping leaderboard service", logger.Int("queued", s.eventQueue.Len()))

	err := s.workerPool.Shutdown(ctx)
	s.cancelWorkers()
	s.started = false
	if err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		return err
	}
	s.logger.Info(ctx, "leaderboard service stopped")
	return nil
}

// Enqueue records the event for deduplication and queues it for the write
// path. It reports duplicate=true for an event ID already accepted. A full
// queue returns ErrBackpressure and forgets the event so a redelivery can
// succeed later.
func (s *Service) Enqueue(ctx context.Context, e model.GradingEvent) (bool, error) {
	if err := e.Validate(); err != nil {
		metrics.RecordEventReceived("rejected")
		return false, err
	}
	if e.EventID == "" {
		e.EventID = e.DerivedID()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false, ErrNotStarted
	}

	if s.deduper.SeenAndRecord(ctx, e.EventID) {
		metrics.RecordEventReceived("duplicate")
		s.logger.Debug(ctx, "duplicate grading event", logger.String("event_id", e.EventID))
		return true, nil
	}

	if err := s.eventQueue.Enqueue(ctx, e); err != nil {
		s.deduper.Unrecord(ctx, e.EventID)
		if errors.Is(err, eventqueue.ErrQueueFull) {
			metrics.RecordEventReceived("backpressure")
			return false, ErrBackpressure
		}
		metrics.RecordEventReceived("rejected")
		return false, fmt.Errorf("enqueue %s: %w", e.EventID, err)
	}

	metrics.RecordEventReceived("accepted")
	return false, nil
}

// OnSubmissionGraded runs the write path for one event: recompute the total,
// write it to the durable store, then move the cached score by the
// difference. Store failures are returned; cache failures are logged only.
func (s *Service) OnSubmissionGraded(ctx context.Context, e model.GradingEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}

	total, err := s.recomputer.RecomputeForEvent(ctx, e)
	if err != nil {
		return fmt.Errorf("recompute %s/%s: %w", e.ContestID, e.UserID, err)
	}

	previous, err := s.store.UpsertScore(ctx, e.ContestID, e.UserID, total)
	if err != nil {
		s.logger.Error(ctx, "score upsert failed",
			logger.String("contest_id", e.ContestID),
			logger.String("user_id", e.UserID),
			logger.Int64("score", total),
			logger.Error(err),
		)
		return err
	}
	if previous != total {
		metrics.RecordScoreChange()
	}

	delta := total - previous
	outcome, err := s.rankCache.IncrementBy(ctx, e.ContestID, e.UserID, delta, total)
	if err != nil {
		metrics.RecordErrorByComponent("cache", "increment")
		s.logger.Warn(ctx, "rank cache update skipped",
			logger.String("contest_id", e.ContestID),
			logger.String("user_id", e.UserID),
			logger.Int64("delta", delta),
			logger.Error(err),
		)
		return nil
	}

	s.logger.Debug(ctx, "score applied",
		logger.String("event_id", e.EventID),
		logger.String("contest_id", e.ContestID),
		logger.String("user_id", e.UserID),
		logger.Int64("previous", previous),
		logger.Int64("score", total),
		logger.String("cache", outcome.String()),
	)
	return nil
}

// GetLeaderboard returns the top n of a contest; n == 0 selects the default
// size. A warm cache answers directly. Otherwise the durable store is read,
// the cache is reloaded with it and the store rows are served.
func (s *Service) GetLeaderboard(ctx context.Context, contestID string, n int) (types.Leaderboard, error) {
	if n == 0 {
		n = s.defaultSize
	}
	if n < 1 || n > s.maxLimit {
		return types.Leaderboard{}, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidLimit, n, s.maxLimit)
	}

	source := types.SourceCache
	rows := s.cachedTopN(ctx, contestID, n)
	if len(rows) == 0 {
		source = types.SourceDB
		loaded, err := s.repopulate(ctx, contestID)
		if err != nil {
			return types.Leaderboard{}, err
		}
		rows = loaded[:min(n, len(loaded))]
	}
	metrics.RecordLeaderboardRead(string(source))

	emails := s.resolveEmails(ctx, rows)
	entries := make([]types.Entry, len(rows))
	for i, r := range rows {
		entries[i] = types.Entry{
			UserID: r.UserID,
			Email:  emails[r.UserID],
			Score:  r.Score,
			Rank:   i + 1,
		}
	}
	return types.Leaderboard{ContestID: contestID, Source: source, Entries: entries}, nil
}

// cachedTopN reads the cache under a short timeout. Errors and timeouts count
// as a miss.
func (s *Service) cachedTopN(ctx context.Context, contestID string, n int) []model.ScoreEntry {
	cctx, cancel := context.WithTimeout(ctx, s.cacheReadTimeout)
	defer cancel()

	rows, err := s.rankCache.TopN(cctx, contestID, n)
	if err != nil {
		metrics.RecordErrorByComponent("cache", "top_n")
		s.logger.Warn(ctx, "rank cache read failed, using store",
			logger.String("contest_id", contestID),
			logger.Error(err),
		)
		return nil
	}
	return rows
}

// repopulate loads the contest's top cacheDepth rows from the store into the
// cache. Concurrent misses for one contest share a single load.
func (s *Service) repopulate(ctx context.Context, contestID string) ([]model.ScoreEntry, error) {
	v, err, _ := s.loads.Do(contestID, func() (any, error) {
		// one caller giving up must not fail the others waiting on this load
		lctx := context.WithoutCancel(ctx)

		rows, err := s.store.TopN(lctx, contestID, s.cacheDepth)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return rows, nil
		}
		if err := s.rankCache.BulkLoad(lctx, contestID, rows, s.cacheTTL); err != nil {
			metrics.RecordErrorByComponent("cache", "bulk_load")
			s.logger.Warn(ctx, "rank cache repopulation failed",
				logger.String("contest_id", contestID),
				logger.Error(err),
			)
			return rows, nil
		}
		metrics.RecordCacheRepopulation()
		s.logger.Debug(ctx, "rank cache repopulated",
			logger.String("contest_id", contestID),
			logger.Int("rows", len(rows)),
		)
		return rows, nil
	})
	if err != nil {
		s.logger.Error(ctx, "leaderboard read failed",
			logger.String("contest_id", contestID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return v.([]model.ScoreEntry), nil
}

// resolveEmails never fails the read: an unavailable directory yields empty
// emails.
func (s *Service) resolveEmails(ctx context.Context, rows []model.ScoreEntry) map[string]string {
	emails := make(map[string]string, len(rows))
	if len(rows) == 0 {
		return emails
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.UserID
	}
	resolved, err := s.identities.Resolve(ctx, ids)
	if err != nil {
		metrics.RecordErrorByComponent("identity", "resolve")
		s.logger.Warn(ctx, "identity lookup failed", logger.Int("users", len(ids)), logger.Error(err))
		return emails
	}
	for id, ident := range resolved {
		emails[id] = ident.Email
	}
	return emails
}

// Rank returns a user's standing in a contest from the durable store.
func (s *Service) Rank(ctx context.Context, contestID, userID string) (types.Standing, error) {
	entry, rank, err := s.store.Rank(ctx, contestID, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return types.Standing{}, err
	case err != nil:
		return types.Standing{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	emails := s.resolveEmails(ctx, []model.ScoreEntry{entry})
	return types.Standing{
		ContestID: contestID,
		UserID:    userID,
		Email:     emails[userID],
		Score:     entry.Score,
		Rank:      rank,
	}, nil
}

// InvalidateCache drops the contest's cached ranking.
func (s *Service) InvalidateCache(ctx context.Context, contestID string) error {
	if err := s.rankCache.Invalidate(ctx, contestID); err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	s.logger.Info(ctx, "rank cache invalidated", logger.String("contest_id", contestID))
	return nil
}

// CacheStatus reports whether the contest's ranking is cached and its size.
func (s *Service) CacheStatus(ctx context.Context, contestID string) (types.CacheStatus, error) {
	warm, err := s.rankCache.Exists(ctx, contestID)
	if err != nil {
		return types.CacheStatus{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	size, err := s.rankCache.Size(ctx, contestID)
	if err != nil {
		return types.CacheStatus{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return types.CacheStatus{ContestID: contestID, Warm: warm, Size: size}, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.deduper.Size(),
	}
	if s.started {
		stats["queueLength"] = s.eventQueue.Len()
		metrics.UpdateQueueSize(s.eventQueue.Len(), s.eventQueue.Cap())
	}
	return stats
}
