package ranking

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/receval/internal/domain/model"
)

// Metric names, used as record column prefixes.
const (
	MetricHitRate   = "hit_rate"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricNDCG      = "ndcg"
	MetricMAP       = "map"
	MetricCoverage  = "coverage"
)

// HitRate is the fraction of users whose top-K list contains at least one
// relevant item.
func (e *Evaluator) HitRate(ctx context.Context, recs model.Recommendations, rel model.Relevance, k int) (Score, error) {
	if err := e.precondition(MetricHitRate, recs, rel, k); err != nil {
		return Score{}, err
	}
	users := rel.Users()
	hit, err := perUser(ctx, e, users, func(u model.UserID) bool {
		return distinctHits(topK(recs[u], k), rel[u]) > 0
	})
	if err != nil {
		return Score{}, err
	}
	n := 0
	for _, h := range hit {
		if h {
			n++
		}
	}
	return Score{Metric: MetricHitRate, K: k, Value: ratio(float64(n), len(users)), Counted: len(users)}, nil
}

// Precision is the total number of hits divided by K times the user count.
// The denominator always uses K, even for users with fewer than K relevant items.
func (e *Evaluator) Precision(ctx context.Context, recs model.Recommendations, rel model.Relevance, k int) (Score, error) {
	if err := e.precondition(MetricPrecision, recs, rel, k); err != nil {
		return Score{}, err
	}
	users := rel.Users()
	hits, err := perUser(ctx, e, users, func(u model.UserID) int {
		return distinctHits(topK(recs[u], k), rel[u])
	})
	if err != nil {
		return Score{}, err
	}
	total := 0
	for _, h := range hits {
		total += h
	}
	return Score{Metric: MetricPrecision, K: k, Value: ratio(float64(total), k*len(users)), Counted: len(users)}, nil
}

// userValue is a per-user contribution to an averaged metric; skip marks a
// user excluded for having no relevant items.
type userValue struct {
	value float64
	skip  bool
}

// Recall averages hits/|relevant| over users with a non-empty relevance set.
func (e *Evaluator) Recall(ctx context.Context, recs model.Recommendations, rel model.Relevance, k int) (Score, error) {
	return e.averaged(ctx, MetricRecall, recs, rel, k, func(top []model.ItemID, relevant model.ItemSet) float64 {
		return float64(distinctHits(top, relevant)) / float64(len(relevant))
	})
}

// NDCG averages binary-relevance normalized discounted cumulative gain.
func (e *Evaluator) NDCG(ctx context.Context, recs model.Recommendations, rel model.Relevance, k int) (Score, error) {
	return e.averaged(ctx, MetricNDCG, recs, rel, k, func(top []model.ItemID, relevant model.ItemSet) float64 {
		var dcg float64
		for i, hit := range firstHits(top, relevant) {
			dcg += gain(hit) / math.Log2(float64(i+2))
		}
		idcg := idealDCG(min(len(relevant), k))
		if idcg == 0 {
			return 0
		}
		return dcg / idcg
	})
}

// MAP averages average precision: precision@i summed at hit positions and
// normalized by min(|relevant|, K).
func (e *Evaluator) MAP(ctx context.Context, recs model.Recommendations, rel model.Relevance, k int) (Score, error) {
	return e.averaged(ctx, MetricMAP, recs, rel, k, func(top []model.ItemID, relevant model.ItemSet) float64 {
		hits := 0
		var sum float64
		for i, hit := range firstHits(top, relevant) {
			if hit {
				hits++
				sum += float64(hits) / float64(i+1)
			}
		}
		denom := min(len(relevant), k)
		if denom == 0 {
			return 0
		}
		return sum / float64(denom)
	})
}

// Coverage is the number of distinct items in any top-K list divided by the
// size of the item universe.
func (e *Evaluator) Coverage(ctx context.Context, recs model.Recommendations, rel model.Relevance, universe model.ItemSet, k int) (Score, error) {
	if err := e.precondition(MetricCoverage, recs, rel, k); err != nil {
		return Score{}, err
	}
	if len(universe) == 0 {
		return Score{}, fmt.Errorf("%s: %w", MetricCoverage, ErrEmptyItemUniverse)
	}
	seen := make(map[model.ItemID]struct{})
	for _, u := range recs.Users() {
		for _, it := range topK(recs[u], k) {
			seen[it] = struct{}{}
		}
	}
	return Score{Metric: MetricCoverage, K: k, Value: float64(len(seen)) / float64(len(universe)), Counted: len(recs)}, nil
}

// averaged runs a per-user metric and takes the mean over users with at least
// one relevant item. Excluded users are reported as warnings.
func (e *Evaluator) averaged(ctx context.Context, metric string, recs model.Recommendations, rel model.Relevance, k int,
	fn func(top []model.ItemID, relevant model.ItemSet) float64) (Score, error) {
	if err := e.precondition(metric, recs, rel, k); err != nil {
		return Score{}, err
	}
	users := rel.Users()
	vals, err := perUser(ctx, e, users, func(u model.UserID) userValue {
		relevant := rel[u]
		if len(relevant) == 0 {
			return userValue{skip: true}
		}
		return userValue{value: fn(topK(recs[u], k), relevant)}
	})
	if err != nil {
		return Score{}, err
	}

	score := Score{Metric: metric, K: k}
	var total float64
	for i, v := range vals {
		if v.skip {
			score.Warnings = append(score.Warnings, e.zeroRelevance(ctx, metric, users[i]))
			continue
		}
		total += v.value
		score.Counted++
	}
	score.Value = ratio(total, score.Counted)
	return score, nil
}

func gain(relevant bool) float64 {
	if relevant {
		return math.Exp2(1) - 1
	}
	return 0
}

func idealDCG(n int) float64 {
	var idcg float64
	for i := range n {
		idcg += gain(true) / math.Log2(float64(i+2))
	}
	return idcg
}

func ratio(num float64, den int) float64 {
	if den == 0 {
		return 0
	}
	return num / float64(den)
}
