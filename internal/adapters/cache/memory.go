package cache

import (
	"context"
	"sync"
	"time"

	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/pkg/metrics"
)

var _ RankCache = (*Memory)(nil)

// board is one contest's ranking.
type board struct {
	root      *node
	byID      map[string]int64
	expiresAt time.Time
}

// Memory is an in-process rank cache for single-node deployments and tests.
// Expired boards are dropped lazily on access.
type Memory struct {
	mu     sync.Mutex
	boards map[string]*board
	now    func() time.Time
}

// MemoryOption configures the in-memory rank cache.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, for TTL tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-memory rank cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{boards: make(map[string]*board), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// live returns the contest's board or nil if it is absent or expired.
// Caller must hold m.mu.
func (m *Memory) live(contestID string) *board {
	b, ok := m.boards[contestID]
	if !ok {
		return nil
	}
	if !m.now().Before(b.expiresAt) {
		delete(m.boards, contestID)
		return nil
	}
	return b
}

func (m *Memory) IncrementBy(_ context.Context, contestID, userID string, delta, total int64) (Outcome, error) {
	start := time.Now()
	defer observe("increment", start)

	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.live(contestID)
	if b == nil {
		metrics.RecordCacheRequest("increment", Cold.String())
		return Cold, nil
	}

	outcome := Seeded
	score := total
	if old, ok := b.byID[userID]; ok {
		if old >= total {
			metrics.RecordCacheRequest("increment", Current.String())
			return Current, nil
		}
		outcome = Incremented
		score = old + delta
		b.root = deleteNode(b.root, userID, old)
	}
	b.byID[userID] = score
	b.root = insert(b.root, userID, score)

	metrics.RecordCacheRequest("increment", outcome.String())
	return outcome, nil
}

func (m *Memory) BulkLoad(_ context.Context, contestID string, entries []model.ScoreEntry, ttl time.Duration) error {
	start := time.Now()
	defer observe("bulk_load", start)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(entries) == 0 {
		delete(m.boards, contestID)
		return nil
	}

	b := &board{byID: make(map[string]int64, len(entries)), expiresAt: m.now().Add(ttl)}
	for _, e := range entries {
		if old, ok := b.byID[e.UserID]; ok {
			b.root = deleteNode(b.root, e.UserID, old)
		}
		b.byID[e.UserID] = e.Score
		b.root = insert(b.root, e.UserID, e.Score)
	}
	m.boards[contestID] = b

	metrics.RecordCacheRequest("bulk_load", "ok")
	return nil
}

func (m *Memory) TopN(_ context.Context, contestID string, n int) ([]model.ScoreEntry, error) {
	if n < 1 {
		return nil, nil
	}
	start := time.Now()
	defer observe("top_n", start)

	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.live(contestID)
	if b == nil {
		metrics.RecordCacheRequest("top_n", "miss")
		return nil, nil
	}
	out := make([]model.ScoreEntry, 0, min(n, len(b.byID)))
	collectTopN(b.root, n, &out)

	metrics.RecordCacheRequest("top_n", "hit")
	return out, nil
}

func (m *Memory) Exists(_ context.Context, contestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(contestID) != nil, nil
}

func (m *Memory) Size(_ context.Context, contestID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.live(contestID); b != nil {
		return int64(nsize(b.root)), nil
	}
	return 0, nil
}

func (m *Memory) Invalidate(_ context.Context, contestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, contestID)
	metrics.RecordCacheRequest("invalidate", "ok")
	return nil
}
