package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	repository "github.com/okian/receval/internal/adapters/repository"
	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/internal/domain/ranking"
	"github.com/okian/receval/internal/domain/split"
	"github.com/okian/receval/pkg/logger"
	"github.com/okian/receval/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// Meta is the run metadata persisted with an experiment.
type Meta struct {
	Parameters repository.Parameters
	Dataset    repository.Dataset
}

// EvaluateRequest scores one model.
type EvaluateRequest struct {
	Label string
	// K defaults to the service cutoff when zero.
	K               int
	Recommendations model.Recommendations
	Relevance       model.Relevance
	Items           model.ItemSet
	// Save persists the record as an experiment.
	Save bool
	Meta Meta
}

// EvaluateResult is a scored model and, when saved, its location.
type EvaluateResult struct {
	Record ranking.Record
	Saved  *repository.Saved
}

// Evaluate computes the six metrics for one model.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResult, error) {
	ev, _, store, err := s.running()
	if err != nil {
		return EvaluateResult{}, err
	}
	res, err := s.score(ctx, ev, req)
	if err != nil {
		return EvaluateResult{}, err
	}
	if req.Save {
		if res.Saved, err = s.save(ctx, store, req.Meta, res.Record); err != nil {
			return EvaluateResult{}, err
		}
	}
	return res, nil
}

func (s *Service) score(ctx context.Context, ev *ranking.Evaluator, req EvaluateRequest) (EvaluateResult, error) {
	if req.Label == "" {
		return EvaluateResult{}, fmt.Errorf("%w: label is required", ErrInvalidRequest)
	}
	if req.K == 0 {
		req.K = s.defaultK
	}

	start := time.Now()
	rec, err := ev.Evaluate(ctx, ranking.Input{
		Label:           req.Label,
		K:               req.K,
		Recommendations: req.Recommendations,
		Relevance:       req.Relevance,
		Items:           req.Items,
	})
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		s.metrics.RecordEvaluation(metrics.StatusError, elapsed, 0)
		s.metrics.RecordErrorByComponent("ranking", errorKind(err))
		return EvaluateResult{}, err
	}
	s.evaluated.Add(1)
	s.metrics.RecordEvaluation(metrics.StatusOK, elapsed, len(req.Relevance))
	for _, m := range rec.Metrics() {
		s.metrics.UpdateModelQuality(rec.Label, m.Name, m.Value)
	}
	excluded := map[string]int{}
	for _, w := range rec.Warnings {
		excluded[w.Metric]++
	}
	for metric, n := range excluded {
		s.metrics.RecordZeroRelevance(metric, n)
	}
	s.logger.Debug(ctx, "model evaluated",
		logger.String("label", rec.Label),
		logger.Int("k", rec.K),
		logger.Int("users", len(req.Relevance)),
		logger.Float64("elapsedMs", elapsed))
	return EvaluateResult{Record: rec}, nil
}

func (s *Service) save(ctx context.Context, store repository.Store, meta Meta, rec ranking.Record) (*repository.Saved, error) {
	saved, err := store.Save(ctx, repository.Experiment{
		Label:      rec.Label,
		Record:     rec,
		Parameters: meta.Parameters,
		Dataset:    meta.Dataset,
	})
	if err != nil {
		s.metrics.RecordErrorByComponent("repository", errorKind(err))
		return nil, fmt.Errorf("save experiment %q: %w", rec.Label, err)
	}
	return &saved, nil
}

// EvaluateBatch scores several models concurrently and returns results in
// request order. The first scoring failure cancels the rest and nothing is
// saved. Runs marked for saving are persisted in request order once every run
// has been scored; a storage failure there leaves the earlier runs saved.
func (s *Service) EvaluateBatch(ctx context.Context, reqs []EvaluateRequest) ([]EvaluateResult, error) {
	ev, _, store, err := s.running()
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidRequest)
	}

	out := make([]EvaluateResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			s.metrics.AddBatchInFlight(1)
			defer s.metrics.AddBatchInFlight(-1)
			res, err := s.score(gctx, ev, req)
			if err != nil {
				return &BatchError{Index: i, Label: req.Label, Err: err}
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, req := range reqs {
		if !req.Save {
			continue
		}
		saved, err := s.save(ctx, store, req.Meta, out[i].Record)
		if err != nil {
			return nil, &BatchError{Index: i, Label: req.Label, Err: err}
		}
		out[i].Saved = saved
	}
	return out, nil
}

// SplitEvaluation scores recommendations against a completed split.
type SplitEvaluation struct {
	Label           string
	K               int
	Recommendations model.Recommendations
	Split           split.Result
	Options         split.Options
	Save            bool
}

// EvaluateSplit uses the split test set as relevance and the train items as
// the catalogue, and fills the experiment metadata from the split.
func (s *Service) EvaluateSplit(ctx context.Context, req SplitEvaluation) (EvaluateResult, error) {
	rel := model.GroupByUser(req.Split.Test)
	items := model.Items(req.Split.Train)
	k := req.K
	if k == 0 {
		k = s.defaultK
	}
	return s.Evaluate(ctx, EvaluateRequest{
		Label:           req.Label,
		K:               k,
		Recommendations: req.Recommendations,
		Relevance:       rel,
		Items:           items,
		Save:            req.Save,
		Meta: Meta{
			Parameters: repository.Parameters{
				K:                    k,
				MinTrainInteractions: req.Options.MinTestUserTrain,
				MinTestInteractions:  req.Options.MinTestUserTest,
			},
			Dataset: repository.Dataset{
				NTrainUsers: len(model.Users(req.Split.Train)),
				NTestUsers:  len(rel),
				NItems:      len(items),
				TrainSize:   req.Split.Train.Len(),
				TestSize:    req.Split.Test.Len(),
			},
		},
	})
}

// Experiments returns the cumulative results table.
func (s *Service) Experiments(ctx context.Context) ([]repository.Row, error) {
	_, _, store, err := s.running()
	if err != nil {
		return nil, err
	}
	return store.List(ctx)
}

// Experiment returns one stored experiment.
func (s *Service) Experiment(ctx context.Context, id string) (repository.Experiment, error) {
	_, _, store, err := s.running()
	if err != nil {
		return repository.Experiment{}, err
	}
	return store.Get(ctx, id)
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ranking.ErrMismatchedUsers):
		return "mismatched_users"
	case errors.Is(err, ranking.ErrInvalidCutoff):
		return "invalid_cutoff"
	case errors.Is(err, ranking.ErrEmptyItemUniverse):
		return "empty_universe"
	case errors.Is(err, model.ErrSchema):
		return "schema"
	case errors.Is(err, split.ErrTemporalLeakage):
		return "leakage"
	case errors.Is(err, split.ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, split.ErrInvalidOptions):
		return "invalid_options"
	case errors.Is(err, repository.ErrHeaderMismatch):
		return "header_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
