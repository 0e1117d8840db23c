// Package ranking computes top-K ranking-quality metrics for implicit-feedback
// recommenders.
//
// Every metric takes the ranked recommendations and the held-out relevance of
// the same users; the two must be keyed by exactly the same user set. Users
// are always visited in ascending id order, and per-user contributions are
// reduced in that order, so results are bit-identical across calls and across
// worker counts.
package ranking

import (
	"context"
	"fmt"
	"slices"

	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Default evaluator configuration constants.
const (
	defaultWorkers      = 1
	defaultMinShardSize = 1024
)

// Evaluator computes ranking metrics. It holds no per-call state and is safe
// for concurrent use.
type Evaluator struct {
	workers      int
	minShardSize int
	logger       logger.Logger
}

// NewEvaluator creates an evaluator with configuration options.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		workers:      defaultWorkers,
		minShardSize: defaultMinShardSize,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score is the value of one metric.
type Score struct {
	Metric string
	K      int
	Value  float64
	// Counted is the number of users in the denominator.
	Counted  int
	Warnings []Warning
}

func checkCutoff(metric string, k int) error {
	if k <= 0 {
		return fmt.Errorf("%s: %w (got %d)", metric, ErrInvalidCutoff, k)
	}
	return nil
}

// checkUsers enforces that both mappings are keyed by the same users.
func checkUsers(metric string, recs model.Recommendations, rel model.Relevance) error {
	var missingRecs, missingRel []model.UserID
	for u := range rel {
		if _, ok := recs[u]; !ok {
			missingRecs = append(missingRecs, u)
		}
	}
	for u := range recs {
		if _, ok := rel[u]; !ok {
			missingRel = append(missingRel, u)
		}
	}
	if len(missingRecs) == 0 && len(missingRel) == 0 {
		return nil
	}
	slices.Sort(missingRecs)
	slices.Sort(missingRel)
	return &MismatchedUserSetError{
		Metric:                   metric,
		MissingInRecommendations: missingRecs,
		MissingInRelevance:       missingRel,
	}
}

func (e *Evaluator) precondition(metric string, recs model.Recommendations, rel model.Relevance, k int) error {
	if err := checkCutoff(metric, k); err != nil {
		return err
	}
	return checkUsers(metric, recs, rel)
}

// perUser evaluates fn for every user and returns the results in user order.
// Large inputs are split into contiguous shards, one goroutine each.
func perUser[T any](ctx context.Context, e *Evaluator, users []model.UserID, fn func(u model.UserID) T) ([]T, error) {
	out := make([]T, len(users))
	if e.workers <= 1 || len(users) < e.minShardSize {
		for i, u := range users {
			out[i] = fn(u)
		}
		return out, nil
	}

	shards := min(e.workers, len(users))
	size := (len(users) + shards - 1) / shards
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(users); start += size {
		end := min(start+size, len(users))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				out[i] = fn(users[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func topK(list []model.ItemID, k int) []model.ItemID {
	if len(list) > k {
		return list[:k]
	}
	return list
}

// firstHits marks the positions of top holding the first occurrence of a
// relevant item. Repeats of an item never count twice.
func firstHits(top []model.ItemID, relevant model.ItemSet) []bool {
	mask := make([]bool, len(top))
	if len(relevant) == 0 {
		return mask
	}
	seen := make(map[model.ItemID]struct{}, len(top))
	for i, it := range top {
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		mask[i] = relevant.Has(it)
	}
	return mask
}

// distinctHits counts distinct items of top that are relevant.
func distinctHits(top []model.ItemID, relevant model.ItemSet) int {
	hits := 0
	for _, hit := range firstHits(top, relevant) {
		if hit {
			hits++
		}
	}
	return hits
}

func (e *Evaluator) zeroRelevance(ctx context.Context, metric string, u model.UserID) Warning {
	e.logger.Warn(ctx, "user excluded from average",
		logger.String("metric", metric),
		logger.Int64("user_id", int64(u)),
		logger.String("reason", ReasonZeroRelevance))
	return Warning{Metric: metric, UserID: u, Reason: ReasonZeroRelevance}
}
