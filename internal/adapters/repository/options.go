package repository

import (
	"time"

	"github.com/okian/receval/pkg/logger"
	"github.com/okian/receval/pkg/metrics"
)

type storeConfig struct {
	now     func() time.Time
	logger  logger.Logger
	metrics *metrics.Manager
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		now:     time.Now,
		logger:  logger.Nop(),
		metrics: metrics.Global(),
	}
}

// Option applies a configuration option to a store.
type Option func(*storeConfig)

// WithClock sets the time source used to stamp experiments.
func WithClock(now func() time.Time) Option {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger that receives experiment summaries.
func WithLogger(l logger.Logger) Option {
	return func(c *storeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(c *storeConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}
