// Package service wires the evaluation domain to storage and metrics and
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	repository "github.com/okian/receval/internal/adapters/repository"
	"github.com/okian/receval/internal/domain/ranking"
	"github.com/okian/receval/internal/domain/split"
	"github.com/okian/receval/pkg/logger"
	"github.com/okian/receval/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultBatchConcurrency = 4
	defaultK                = 10
)

// Service implements the API dependencies for the evaluation system.
type Service struct {
	mu sync.RWMutex

	// Core components
	evaluator *ranking.Evaluator
	splitter  *split.Splitter
	store     repository.Store

	// Configuration
	workerCount      int
	batchConcurrency int
	defaultK         int
	resultsDir       string
	splitDefaults    split.Options
	matrixThreshold  float64

	// State
	started   bool
	startedAt time.Time
	evaluated atomic.Int64
	splits    atomic.Int64
	matrices  atomic.Int64

	logger  logger.Logger
	metrics *metrics.Manager
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets how many goroutines share the per-user metric work.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithBatchConcurrency bounds concurrent evaluations within a batch.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// WithDefaultK sets the cutoff used when a request leaves it unset.
func WithDefaultK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.defaultK = k
		}
	}
}

// WithResultsDir persists experiments as files under dir.
func WithResultsDir(dir string) Option {
	return func(s *Service) {
		s.resultsDir = dir
	}
}

// WithStore sets the experiment store, overriding WithResultsDir.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSplitDefaults sets the options a split request starts from.
func WithSplitDefaults(o split.Options) Option {
	return func(s *Service) {
		s.splitDefaults = o
	}
}

// WithMatrixThreshold sets the default matrix rating threshold.
func WithMatrixThreshold(t float64) Option {
	return func(s *Service) {
		s.matrixThreshold = t
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

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU(),
		batchConcurrency: defaultBatchConcurrency,
		defaultK:         defaultK,
		splitDefaults:    split.DefaultOptions(),
		metrics:          metrics.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the evaluator, splitter and experiment store.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting evaluation service...")

	s.evaluator = ranking.NewEvaluator(
		ranking.WithWorkers(s.workerCount),
		ranking.WithLogger(s.logger.Named("ranking")),
	)
	s.splitter = split.New(split.WithLogger(s.logger.Named("split")))

	if s.store == nil {
		storeOpts := []repository.Option{
			repository.WithLogger(s.logger.Named("repository")),
			repository.WithMetrics(s.metrics),
		}
		if s.resultsDir == "" {
			s.store = repository.NewMemoryStore(storeOpts...)
			s.logger.Info(ctx, "using in-memory experiment store")
		} else {
			fs, err := repository.NewFileStore(s.resultsDir, storeOpts...)
			if err != nil {
				return fmt.Errorf("open experiment store: %w", err)
			}
			s.store = fs
			s.logger.Info(ctx, "using file experiment store", logger.String("dir", s.resultsDir))
		}
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "evaluation service started",
		logger.Int("workers", s.workerCount),
		logger.Int("batchConcurrency", s.batchConcurrency),
		logger.Int("defaultK", s.defaultK),
	)
	return nil
}

// Stop marks the service stopped. Experiments already saved stay on disk.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	s.logger.Info(context.Background(), "evaluation service stopped",
		logger.Int64("evaluations", s.evaluated.Load()),
		logger.Int64("splits", s.splits.Load()))
}

// running returns the components, or ErrNotStarted.
func (s *Service) running() (*ranking.Evaluator, *split.Splitter, repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, nil, ErrNotStarted
	}
	return s.evaluator, s.splitter, s.store, nil
}

// DefaultK returns the cutoff used when a request leaves k unset.
func (s *Service) DefaultK() int { return s.defaultK }

// SplitDefaults returns the options a split request starts from.
func (s *Service) SplitDefaults() split.Options {
	o := s.splitDefaults
	o.Keep = append([]string(nil), o.Keep...)
	return o
}

// MatrixThreshold returns the default matrix rating threshold.
func (s *Service) MatrixThreshold() float64 { return s.matrixThreshold }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":          s.started,
		"workerCount":      s.workerCount,
		"batchConcurrency": s.batchConcurrency,
		"defaultK":         s.defaultK,
		"evaluations":      s.evaluated.Load(),
		"splits":           s.splits.Load(),
		"matrices":         s.matrices.Load(),
	}
	if s.started {
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
		stats["experiments"] = s.store.Count(context.Background())
		if s.resultsDir != "" {
			stats["resultsDir"] = s.resultsDir
		}
	}
	return stats
}
