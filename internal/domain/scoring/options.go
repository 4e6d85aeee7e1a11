package scoring

import "time"

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithTimeout bounds a single recomputation.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}
