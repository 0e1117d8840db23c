package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/receval/pkg/logger"
)

// MemoryStore keeps experiments in process memory.
type MemoryStore struct {
	cfg storeConfig

	mu    sync.RWMutex
	order []string
	byID  map[string]Experiment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryStore{cfg: cfg, byID: make(map[string]Experiment)}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, e Experiment) (Saved, error) {
	start := time.Now()
	e, err := prepare(e, s.cfg.now())
	if err != nil {
		return Saved{}, err
	}

	s.mu.Lock()
	if _, exists := s.byID[e.ID]; exists {
		s.mu.Unlock()
		return Saved{}, errDuplicateID(e.ID)
	}
	s.byID[e.ID] = e
	s.order = append(s.order, e.ID)
	total := len(s.order)
	s.mu.Unlock()

	s.cfg.metrics.RecordExperimentSaved(float64(time.Since(start).Microseconds())/1000, total)
	s.cfg.logger.Info(ctx, "experiment stored in memory",
		logger.String("id", e.ID), logger.String("label", e.Label))
	return Saved{ID: e.ID, Timestamp: e.EvaluatedAt.Format(TimestampLayout)}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return Experiment{}, ErrNotFound
	}
	return e, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]Row, 0, len(s.order))
	for _, id := range s.order {
		rows = append(rows, rowOf(s.byID[id]))
	}
	return rows, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
