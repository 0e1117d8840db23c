package ranking

import "github.com/okian/receval/pkg/logger"

// Option applies a configuration option to the Evaluator.
type Option func(*Evaluator)

// WithWorkers shards per-user computation across n goroutines.
func WithWorkers(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMinShardSize sets the smallest user count worth sharding.
func WithMinShardSize(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.minShardSize = n
		}
	}
}

// WithLogger sets the logger used for exclusion diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}
