package service

import (
	"context"
	"errors"
	"time"

	"github.com/okian/receval/internal/domain/matrix"
	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/internal/domain/split"
	"github.com/okian/receval/pkg/logger"
	"github.com/okian/receval/pkg/metrics"
)

// Split partitions t in time and applies the warm-start filters.
func (s *Service) Split(ctx context.Context, t model.Table, o split.Options) (split.Result, error) {
	_, sp, _, err := s.running()
	if err != nil {
		return split.Result{}, err
	}

	start := time.Now()
	res, err := sp.Split(ctx, t, o)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		s.metrics.RecordSplit(metrics.StatusError, elapsed, 0, 0)
		s.metrics.RecordErrorByComponent("split", errorKind(err))
		var empty *split.EmptyResultError
		if errors.As(err, &empty) {
			s.metrics.RecordSplitEmpty(empty.Step)
		}
		return split.Result{}, err
	}
	s.splits.Add(1)
	s.metrics.RecordSplit(metrics.StatusOK, elapsed, res.Train.Len(), res.Test.Len())
	return res, nil
}

// BuildMatrix builds the user-item matrix of t. A nil threshold uses the
// service default.
func (s *Service) BuildMatrix(ctx context.Context, t model.Table, threshold *float64) (*matrix.Matrix, error) {
	if _, _, _, err := s.running(); err != nil {
		return nil, err
	}
	th := s.matrixThreshold
	if threshold != nil {
		th = *threshold
	}
	m, err := matrix.Build(t, th)
	if err != nil {
		s.metrics.RecordErrorByComponent("matrix", errorKind(err))
		return nil, err
	}
	s.matrices.Add(1)
	s.metrics.RecordMatrixBuild(m.NNZ())
	s.logger.Debug(ctx, "matrix built",
		logger.Int("rows", m.NRows),
		logger.Int("cols", m.NCols),
		logger.Int("nnz", m.NNZ()),
		logger.Float64("threshold", th))
	return m, nil
}
