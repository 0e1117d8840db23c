package ranking

import (
	"context"
	"strconv"

	"github.com/okian/receval/internal/domain/model"
)

// Input bundles everything needed to score one model.
type Input struct {
	Label           string
	K               int
	Recommendations model.Recommendations
	Relevance       model.Relevance
	Items           model.ItemSet
}

// Metric is one named column of a Record.
type Metric struct {
	Name  string
	Value float64
}

// Record is the single-row summary of a model's quality at cutoff K.
type Record struct {
	Label     string
	K         int
	HitRate   float64
	Precision float64
	Recall    float64
	NDCG      float64
	MAP       float64
	Coverage  float64
	// Warnings lists users excluded from recall, ndcg and map.
	Warnings []Warning
}

// ColumnName returns the record column for metric at cutoff k, e.g. "ndcg@10".
func ColumnName(metric string, k int) string {
	return metric + "@" + strconv.Itoa(k)
}

// Columns returns the six metric column names in their fixed order.
func Columns(k int) []string {
	return []string{
		ColumnName(MetricHitRate, k),
		ColumnName(MetricPrecision, k),
		ColumnName(MetricRecall, k),
		ColumnName(MetricNDCG, k),
		ColumnName(MetricMAP, k),
		ColumnName(MetricCoverage, k),
	}
}

// Metrics returns the six values in column order.
func (r Record) Metrics() []Metric {
	cols := Columns(r.K)
	vals := []float64{r.HitRate, r.Precision, r.Recall, r.NDCG, r.MAP, r.Coverage}
	out := make([]Metric, len(cols))
	for i := range cols {
		out[i] = Metric{Name: cols[i], Value: vals[i]}
	}
	return out
}

// Evaluate computes all six metrics with a shared K and returns them as one
// record labelled by in.Label. Any contract violation aborts the whole call.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (Record, error) {
	hr, err := e.HitRate(ctx, in.Recommendations, in.Relevance, in.K)
	if err != nil {
		return Record{}, err
	}
	pr, err := e.Precision(ctx, in.Recommendations, in.Relevance, in.K)
	if err != nil {
		return Record{}, err
	}
	rc, err := e.Recall(ctx, in.Recommendations, in.Relevance, in.K)
	if err != nil {
		return Record{}, err
	}
	nd, err := e.NDCG(ctx, in.Recommendations, in.Relevance, in.K)
	if err != nil {
		return Record{}, err
	}
	mp, err := e.MAP(ctx, in.Recommendations, in.Relevance, in.K)
	if err != nil {
		return Record{}, err
	}
	cv, err := e.Coverage(ctx, in.Recommendations, in.Relevance, in.Items, in.K)
	if err != nil {
		return Record{}, err
	}

	warnings := make([]Warning, 0, len(rc.Warnings)+len(nd.Warnings)+len(mp.Warnings))
	warnings = append(warnings, rc.Warnings...)
	warnings = append(warnings, nd.Warnings...)
	warnings = append(warnings, mp.Warnings...)

	return Record{
		Label:     in.Label,
		K:         in.K,
		HitRate:   hr.Value,
		Precision: pr.Value,
		Recall:    rc.Value,
		NDCG:      nd.Value,
		MAP:       mp.Value,
		Coverage:  cv.Value,
		Warnings:  warnings,
	}, nil
}
