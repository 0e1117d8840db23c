// Package repository persists evaluated experiments.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/receval/internal/domain/ranking"
)

// TimestampLayout names experiments in file names and the results table.
const TimestampLayout = "20060102_150405"

// Parameters are the thresholds an experiment was evaluated with.
type Parameters struct {
	K                    int `json:"k"`
	MinTrainInteractions int `json:"min_train_interactions"`
	MinTestInteractions  int `json:"min_test_interactions"`
}

// Dataset describes the split an experiment was evaluated on.
type Dataset struct {
	NTrainUsers int `json:"n_train_users"`
	NTestUsers  int `json:"n_test_users"`
	NItems      int `json:"n_items"`
	TrainSize   int `json:"train_size"`
	TestSize    int `json:"test_size"`
}

// Experiment is one evaluated model plus its run metadata.
type Experiment struct {
	ID          string
	Label       string
	EvaluatedAt time.Time
	Record      ranking.Record
	Parameters  Parameters
	Dataset     Dataset
}

// Saved locates a persisted experiment.
type Saved struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	// JSONPath and CSVPath are empty for in-memory stores.
	JSONPath string `json:"json_path,omitempty"`
	CSVPath  string `json:"csv_path,omitempty"`
}

// Row is one line of the cumulative results table.
type Row struct {
	ID             string             `json:"id"`
	Label          string             `json:"model_name"`
	K              int                `json:"k"`
	Metrics        map[string]float64 `json:"metrics"`
	Timestamp      string             `json:"timestamp"`
	EvaluationDate string             `json:"evaluation_date"`
}

// Store persists experiments without ever overwriting an earlier one.
type Store interface {
	// Save records e and appends it to the results table.
	Save(ctx context.Context, e Experiment) (Saved, error)
	// Get returns the experiment with id, or ErrNotFound.
	Get(ctx context.Context, id string) (Experiment, error)
	// List returns the results table in insertion order.
	List(ctx context.Context) ([]Row, error)
	// Count returns the number of stored experiments.
	Count(ctx context.Context) int
}

// prepare fills the ID and evaluation time and checks the label.
func prepare(e Experiment, now time.Time) (Experiment, error) {
	if strings.TrimSpace(e.Label) == "" {
		return Experiment{}, fmt.Errorf("%w: empty label", ErrInvalidExperiment)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = now
	}
	switch e.Parameters.K {
	case 0:
		e.Parameters.K = e.Record.K
	case e.Record.K:
	default:
		return Experiment{}, fmt.Errorf("%w: parameters k %d differs from record k %d", ErrInvalidExperiment, e.Parameters.K, e.Record.K)
	}
	if e.Record.Label == "" {
		e.Record.Label = e.Label
	}
	return e, nil
}

func rowOf(e Experiment) Row {
	metrics := make(map[string]float64, 6)
	for _, m := range e.Record.Metrics() {
		metrics[m.Name] = m.Value
	}
	return Row{
		ID:             e.ID,
		Label:          e.Label,
		K:              e.Record.K,
		Metrics:        metrics,
		Timestamp:      e.EvaluatedAt.Format(TimestampLayout),
		EvaluationDate: e.EvaluatedAt.Format(time.RFC3339Nano),
	}
}
