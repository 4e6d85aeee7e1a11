package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/okian/contestboard/internal/adapters/cache"
	"github.com/okian/contestboard/internal/adapters/repository"
	"github.com/okian/contestboard/internal/domain/model"
)

// memStore is a ScoreStore over a map, ordered like the Postgres store.
type memStore struct {
	mu       sync.Mutex
	scores   map[string]map[string]int64
	readErr  error
	writeErr error
	topCalls int
	entered  chan struct{} // signalled when an upsert starts, if set
	release  chan struct{} // upserts wait on it, if set
}

func newMemStore() *memStore {
	return &memStore{scores: make(map[string]map[string]int64)}
}

func (s *memStore) set(contestID, userID string, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scores[contestID] == nil {
		s.scores[contestID] = make(map[string]int64)
	}
	s.scores[contestID][userID] = score
}

func (s *memStore) get(contestID, userID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.scores[contestID][userID]
	return v, ok
}

func (s *memStore) UpsertScore(_ context.Context, contestID, userID string, score int64) (int64, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, errors.Join(repository.ErrStoreWrite, s.writeErr)
	}
	if s.scores[contestID] == nil {
		s.scores[contestID] = make(map[string]int64)
	}
	previous := s.scores[contestID][userID]
	s.scores[contestID][userID] = score
	return previous, nil
}

func (s *memStore) sorted(contestID string) []model.ScoreEntry {
	out := make([]model.ScoreEntry, 0, len(s.scores[contestID]))
	for id, score := range s.scores[contestID] {
		out = append(out, model.ScoreEntry{UserID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *memStore) TopN(_ context.Context, contestID string, n int) ([]model.ScoreEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topCalls++
	if s.readErr != nil {
		return nil, errors.Join(repository.ErrStoreRead, s.readErr)
	}
	all := s.sorted(contestID)
	return all[:min(n, len(all))], nil
}

func (s *memStore) Rank(_ context.Context, contestID, userID string) (model.ScoreEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return model.ScoreEntry{}, 0, errors.Join(repository.ErrStoreRead, s.readErr)
	}
	for i, e := range s.sorted(contestID) {
		if e.UserID == userID {
			return e, i + 1, nil
		}
	}
	return model.ScoreEntry{}, 0, repository.ErrNotFound
}

func (s *memStore) topNCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topCalls
}

// staticIdentities resolves from a fixed map.
type staticIdentities struct {
	emails map[string]string
	err    error
}

func (r *staticIdentities) Resolve(_ context.Context, userIDs []string) (map[string]model.Identity, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]model.Identity)
	for _, id := range userIDs {
		if email, ok := r.emails[id]; ok {
			out[id] = model.Identity{UserID: id, Email: email}
		}
	}
	return out, nil
}

// brokenCache fails every call, like an unreachable Redis.
type brokenCache struct{}

var errCacheDown = errors.Join(cache.ErrCacheUnavailable, errors.New("dial tcp: connection refused"))

func (brokenCache) IncrementBy(context.Context, string, string, int64, int64) (cache.Outcome, error) {
	return cache.Cold, errCacheDown
}

func (brokenCache) BulkLoad(context.Context, string, []model.ScoreEntry, time.Duration) error {
	return errCacheDown
}

func (brokenCache) TopN(context.Context, string, int) ([]model.ScoreEntry, error) {
	return nil, errCacheDown
}

func (brokenCache) Exists(context.Context, string) (bool, error) { return false, errCacheDown }

func (brokenCache) Size(context.Context, string) (int64, error) { return 0, errCacheDown }

func (brokenCache) Invalidate(context.Context, string) error { return errCacheDown }

// slowCache holds a warm memory cache whose reads hang until the caller gives up.
type slowCache struct {
	*cache.Memory
}

func (c slowCache) TopN(ctx context.Context, _ string, _ int) ([]model.ScoreEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// hookedStore runs afterUpsert once the upsert has committed, before the
// caller continues.
type hookedStore struct {
	*memStore
	afterUpsert func()
}

func (s *hookedStore) UpsertScore(ctx context.Context, contestID, userID string, score int64) (int64, error) {
	previous, err := s.memStore.UpsertScore(ctx, contestID, userID, score)
	if err == nil && s.afterUpsert != nil {
		s.afterUpsert()
	}
	return previous, err
}
