package worker

import (
	"time"

	"github.com/okian/contestboard/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxRetries sets how many times a failed event is re-run. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(w *InMemoryWorker) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay; attempt k waits k times this.
func WithRetryBackoff(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.retryBackoff = d
		}
	}
}

// WithReleaser sets who is told to forget an event that could not be applied.
func WithReleaser(r Releaser) Option {
	return func(w *InMemoryWorker) {
		if r != nil {
			w.releaser = r
		}
	}
}
