package service

import (
	"time"

	"github.com/okian/contestboard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the number of event IDs remembered for deduplication.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithWorkerRetries sets how failed events are retried by workers.
func WithWorkerRetries(maxRetries int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxRetries >= 0 {
			s.workerMaxRetries = maxRetries
		}
		if backoff > 0 {
			s.workerRetryBackoff = backoff
		}
	}
}

// WithCacheTTL sets how long a repopulated contest ranking lives.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithCacheReadTimeout caps a read-path cache lookup.
func WithCacheReadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cacheReadTimeout = d
		}
	}
}

// WithCacheDepth sets how many rows a repopulation loads.
func WithCacheDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.cacheDepth = depth
		}
	}
}

// WithLeaderboardLimits sets the default and maximum top-N.
func WithLeaderboardLimits(defaultSize, maxLimit int) Option {
	return func(s *Service) {
		if defaultSize > 0 {
			s.defaultSize = defaultSize
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
