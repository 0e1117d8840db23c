// Package split carves a time-stamped interaction log into a train set and a
// warm, leakage-free test set.
package split

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/pkg/logger"
)

// Splitter performs temporal splits. It is stateless and safe for concurrent use.
type Splitter struct {
	logger logger.Logger
}

// New creates a splitter with configuration options.
func New(opts ...Option) *Splitter {
	s := &Splitter{logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats holds the row and user counts observed at each step.
type Stats struct {
	Threshold     int64 `json:"threshold"`
	TrainRows     int   `json:"train_rows"`
	TestRows      int   `json:"test_rows"`
	WarmUsers     int   `json:"warm_users"`
	WarmTrainRows int   `json:"warm_train_rows"`
	WarmItemRows  int   `json:"warm_item_test_rows"`
	TestUsers     int   `json:"test_users"`
	FinalTestRows int   `json:"final_test_rows"`
}

// Result is a completed split. Both tables share the kept schema and hold
// rows in their original log order.
type Result struct {
	Train model.Table
	Test  model.Table
	Stats Stats
}

// NearestQuantile returns the observed value at rank round(q*(n-1)) of the
// sorted values, rounding halves to even.
func NearestQuantile(values []int64, q float64) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: quantile of an empty column", ErrInvalidOptions)
	}
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, fmt.Errorf("%w: quantile %v outside [0, 1]", ErrInvalidOptions, q)
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	idx := int(math.RoundToEven(q * float64(len(sorted)-1)))
	return sorted[idx], nil
}

// outputSchema resolves the key columns and the kept projection.
func outputSchema(schema model.Schema, o Options) (model.Schema, error) {
	for _, req := range []struct {
		name  string
		field model.Field
	}{
		{o.TimeColumn, model.FieldTimestamp},
		{o.UserColumn, model.FieldUser},
		{o.ItemColumn, model.FieldItem},
	} {
		if _, err := schema.Require(req.name, req.field); err != nil {
			return nil, err
		}
	}
	if len(o.Keep) == 0 {
		return slices.Clone(schema), nil
	}
	out, err := schema.Project(o.Keep)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{o.TimeColumn, o.UserColumn, o.ItemColumn} {
		if _, ok := out.Lookup(name); !ok {
			return nil, &model.SchemaError{Column: name, Reason: "key column must be kept"}
		}
	}
	return out, nil
}

// Split partitions t at the time quantile, keeps warm train users, drops cold
// test items and keeps only test users meeting both count thresholds. It never
// returns an empty train or test table.
func (s *Splitter) Split(ctx context.Context, t model.Table, o Options) (Result, error) {
	if err := o.Validate(); err != nil {
		return Result{}, err
	}
	schema, err := outputSchema(t.Schema, o)
	if err != nil {
		return Result{}, err
	}
	if t.Len() == 0 {
		return Result{}, &EmptyResultError{Step: StepPartitionTrain}
	}

	times := make([]int64, len(t.Rows))
	for i, r := range t.Rows {
		times[i] = r.Timestamp
	}
	threshold, err := NearestQuantile(times, o.Quantile)
	if err != nil {
		return Result{}, err
	}
	stats := Stats{Threshold: threshold}

	var train, test []model.InteractionRecord
	for _, r := range t.Rows {
		if r.Timestamp <= threshold {
			train = append(train, r)
		} else {
			test = append(test, r)
		}
	}
	stats.TrainRows, stats.TestRows = len(train), len(test)
	s.logger.Info(ctx, "time partition",
		logger.Int64("threshold", threshold),
		logger.Int("train_rows", stats.TrainRows),
		logger.Int("test_rows", stats.TestRows))

	if len(train) == 0 {
		return Result{}, &EmptyResultError{Step: StepPartitionTrain, Threshold: threshold}
	}
	if len(test) == 0 {
		return Result{}, &EmptyResultError{Step: StepPartitionTest, Threshold: threshold}
	}
	if err := checkLeakage(train, test); err != nil {
		return Result{}, err
	}

	trainCounts := countUsers(train)
	warm := make(map[model.UserID]struct{})
	for u, c := range trainCounts {
		if c >= o.MinTrainRatings {
			warm[u] = struct{}{}
		}
	}
	warmTrain := filter(train, func(r model.InteractionRecord) bool {
		_, ok := warm[r.UserID]
		return ok
	})
	stats.WarmUsers, stats.WarmTrainRows = len(warm), len(warmTrain)
	s.logger.Info(ctx, "warm train users",
		logger.Int("warm_users", stats.WarmUsers),
		logger.Int("train_rows", stats.WarmTrainRows))
	if len(warmTrain) == 0 {
		return Result{}, &EmptyResultError{Step: StepWarmTrain, Threshold: threshold}
	}

	trainItems := model.Items(model.Table{Rows: warmTrain})
	warmItemTest := filter(test, func(r model.InteractionRecord) bool {
		return trainItems.Has(r.ItemID)
	})
	stats.WarmItemRows = len(warmItemTest)
	if len(warmItemTest) == 0 {
		return Result{}, &EmptyResultError{Step: StepTestItems, Threshold: threshold}
	}

	warmCounts := countUsers(warmTrain)
	testCounts := countUsers(warmItemTest)
	eligible := make(map[model.UserID]struct{})
	for u, c := range testCounts {
		if c >= o.MinTestUserTest && warmCounts[u] >= o.MinTestUserTrain {
			eligible[u] = struct{}{}
		}
	}
	finalTest := filter(warmItemTest, func(r model.InteractionRecord) bool {
		_, ok := eligible[r.UserID]
		return ok
	})
	stats.TestUsers, stats.FinalTestRows = len(eligible), len(finalTest)
	s.logger.Info(ctx, "eligible test users",
		logger.Int("test_users", stats.TestUsers),
		logger.Int("test_rows", stats.FinalTestRows))
	if len(eligible) == 0 {
		return Result{}, &EmptyResultError{Step: StepTestUsers, Threshold: threshold}
	}

	return Result{
		Train: model.Table{Schema: t.Schema, Rows: warmTrain}.Project(schema),
		Test:  model.Table{Schema: t.Schema, Rows: finalTest}.Project(schema),
		Stats: stats,
	}, nil
}

func checkLeakage(train, test []model.InteractionRecord) error {
	trainMax := int64(math.MinInt64)
	for _, r := range train {
		trainMax = max(trainMax, r.Timestamp)
	}
	testMin := int64(math.MaxInt64)
	for _, r := range test {
		testMin = min(testMin, r.Timestamp)
	}
	if trainMax >= testMin {
		return &LeakageError{TrainMax: trainMax, TestMin: testMin}
	}
	return nil
}

func countUsers(rows []model.InteractionRecord) map[model.UserID]int {
	out := make(map[model.UserID]int)
	for _, r := range rows {
		out[r.UserID]++
	}
	return out
}

func filter(rows []model.InteractionRecord, keep func(model.InteractionRecord) bool) []model.InteractionRecord {
	out := make([]model.InteractionRecord, 0, len(rows))
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
