package smoketest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/okian/receval/internal/adapters/csvio"
	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/pkg/logger"
)

const directoryPermission = 0750

type splitRequest struct {
	Rows    []Row        `json:"rows"`
	Options SplitOptions `json:"options"`
}

type splitResponse struct {
	Train []Row `json:"train"`
	Test  []Row `json:"test"`
	Stats struct {
		Threshold int64 `json:"threshold"`
		TestUsers int   `json:"test_users"`
	} `json:"stats"`
}

type evaluateRequest struct {
	Label           string            `json:"label"`
	K               int               `json:"k"`
	Recommendations map[int64][]int64 `json:"recommendations"`
	Relevance       map[int64][]int64 `json:"relevance"`
	Items           []int64           `json:"items"`
	Save            bool              `json:"save"`
}

type batchRequest struct {
	Runs []evaluateRequest `json:"runs"`
}

type batchResponse struct {
	Results []Record `json:"results"`
}

type experimentsResponse struct {
	Experiments []struct {
		ID    string `json:"id"`
		Label string `json:"model_name"`
	} `json:"experiments"`
}

// Run drives a service end to end: split a synthetic log, evaluate an oracle
// and a random model in one batch, and verify the metric properties.
func Run(ctx context.Context, c *Config) (*Report, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	log := c.Logger
	if log == nil {
		log = logger.Get()
	}
	start := time.Now()
	cl := newClient(c.BaseURL, c.Timeout)

	log.Info(ctx, "starting smoke run",
		logger.String("baseURL", c.BaseURL),
		logger.Int("users", c.Users),
		logger.Int("items", c.Items),
		logger.Int("eventsPerUser", c.EventsPerUser))

	// Step 1: Check service health
	if err := cl.get(ctx, "/healthz", nil); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate and optionally save the log
	rows := generateLog(c)
	if c.OutputFile != "" {
		if err := saveLog(c.OutputFile, rows); err != nil {
			log.Warn(ctx, "failed to save generated log", logger.Error(err))
		}
	}

	// Step 3: Split in time
	var sp splitResponse
	if err := cl.post(ctx, "/split", splitRequest{Rows: rows, Options: c.Split}, &sp); err != nil {
		return nil, fmt.Errorf("split failed: %w", err)
	}
	log.Info(ctx, "log split",
		logger.Int64("threshold", sp.Stats.Threshold),
		logger.Int("trainRows", len(sp.Train)),
		logger.Int("testRows", len(sp.Test)))

	// Step 4: Evaluate an oracle and a random model in one batch
	rel := heldOut(sp.Test)
	users := usersOf(rel)
	catalogue := distinctItems(sp.Train)
	k := cutoff(rel)
	run := uuid.NewString()[:8]
	batch := batchRequest{Runs: []evaluateRequest{
		{Label: "oracle-" + run, K: k, Recommendations: rel, Relevance: rel, Items: catalogue, Save: c.Save},
		{Label: "random-" + run, K: k, Recommendations: random(users, catalogue, k, c.Seed), Relevance: rel, Items: catalogue, Save: c.Save},
	}}
	var out batchResponse
	if err := cl.post(ctx, "/evaluate/batch", batch, &out); err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	if len(out.Results) != len(batch.Runs) {
		return nil, fmt.Errorf("%w: %d results for %d runs", ErrVerification, len(out.Results), len(batch.Runs))
	}

	// Step 5: Verify
	report := &Report{
		Rows:      len(rows),
		TrainRows: len(sp.Train),
		TestRows:  len(sp.Test),
		TestUsers: len(users),
		K:         k,
		Oracle:    out.Results[0],
		Random:    out.Results[1],
	}
	if err := verifyOracle(report.Oracle); err != nil {
		return report, err
	}
	if err := verifyBounds(report.Random); err != nil {
		return report, err
	}
	if err := verifyOrdering(report.Oracle, report.Random); err != nil {
		return report, err
	}
	if c.Save {
		if err := verifySaved(ctx, cl, report); err != nil {
			return report, err
		}
	}

	report.Duration = time.Since(start)
	log.Info(ctx, "smoke run passed",
		logger.Int("k", k),
		logger.Int("testUsers", report.TestUsers),
		logger.Any("oracle", report.Oracle.Metrics),
		logger.Any("random", report.Random.Metrics),
		logger.String("duration", report.Duration.String()))
	return report, nil
}

// verifySaved checks both runs are listed as experiments.
func verifySaved(ctx context.Context, cl *client, r *Report) error {
	var list experimentsResponse
	if err := cl.get(ctx, "/experiments", &list); err != nil {
		return fmt.Errorf("list experiments: %w", err)
	}
	ids := make(map[string]string, len(list.Experiments))
	for _, e := range list.Experiments {
		ids[e.ID] = e.Label
	}
	for _, rec := range []Record{r.Oracle, r.Random} {
		if rec.ExperimentID == "" || ids[rec.ExperimentID] != rec.Label {
			return fmt.Errorf("%w: experiment for %s not listed", ErrVerification, rec.Label)
		}
	}
	return nil
}

// saveLog writes rows as CSV to path.
func saveLog(path string, rows []Row) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	t := model.Table{Schema: model.DefaultSchema(), Rows: make([]model.InteractionRecord, len(rows))}
	for i, r := range rows {
		t.Rows[i] = model.InteractionRecord{
			UserID:    model.UserID(r.UserID),
			ItemID:    model.ItemID(r.ItemID),
			Rating:    r.Rating,
			Timestamp: r.Timestamp,
		}
	}
	if err := csvio.Write(f, t); err != nil {
		return err
	}
	return f.Close()
}
