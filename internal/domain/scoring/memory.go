package scoring

import (
	"context"
	"sync"

	"github.com/okian/contestboard/internal/domain/model"
)

// MemorySource keeps contests and submissions in memory. It backs local runs
// without a grading database and tests of everything above the aggregator.
type MemorySource struct {
	mu          sync.RWMutex
	mappings    map[string][]string           // contestID -> mapping IDs
	submissions map[string]map[string][]int64 // userID -> mappingID -> points
	failure     error
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		mappings:    make(map[string][]string),
		submissions: make(map[string]map[string][]int64),
	}
}

// AddMapping attaches a challenge mapping to a contest.
func (s *MemorySource) AddMapping(contestID, mappingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[contestID] = append(s.mappings[contestID], mappingID)
}

// AddSubmission records a graded submission.
func (s *MemorySource) AddSubmission(sub model.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMapping, ok := s.submissions[sub.UserID]
	if !ok {
		byMapping = make(map[string][]int64)
		s.submissions[sub.UserID] = byMapping
	}
	byMapping[sub.ChallengeMappingID] = append(byMapping[sub.ChallengeMappingID], sub.Points)
}

// SetFailure makes every read fail with err until it is reset with nil.
func (s *MemorySource) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *MemorySource) ChallengeMappings(_ context.Context, contestID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	ids, ok := s.mappings[contestID]
	if !ok {
		return nil, ErrContestNotFound
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemorySource) BestPoints(_ context.Context, userID string, mappingIDs []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	best := make(map[string]int64)
	byMapping := s.submissions[userID]
	for _, id := range mappingIDs {
		points, ok := byMapping[id]
		if !ok || len(points) == 0 {
			continue
		}
		top := points[0]
		for _, p := range points[1:] {
			top = max(top, p)
		}
		best[id] = top
	}
	return best, nil
}
