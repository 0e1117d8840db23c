package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/okian/receval/internal/domain/ranking"
	"github.com/okian/receval/pkg/logger"
)

// resultsPattern matches every per-cutoff results table of a directory.
const resultsPattern = "all_experiments_results_k*.csv"

// ResultsFile names the cumulative results table for cutoff k. Each cutoff
// has its own table since the metric columns carry k.
func ResultsFile(k int) string {
	return fmt.Sprintf("all_experiments_results_k%d.csv", k)
}

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// document is the on-disk layout of one experiment.
type document struct {
	ID             string             `json:"id"`
	ModelName      string             `json:"model_name"`
	EvaluationDate string             `json:"evaluation_date"`
	Metrics        map[string]float64 `json:"metrics"`
	Warnings       []ranking.Warning  `json:"warnings,omitempty"`
	Parameters     Parameters         `json:"parameters"`
	DatasetInfo    Dataset            `json:"dataset_info"`
}

// FileStore writes one JSON document per experiment and appends a row to the
// CSV table of its cutoff.
type FileStore struct {
	dir string
	cfg storeConfig

	mu sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty results directory", ErrInvalidExperiment)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{dir: dir, cfg: cfg}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func header(k int) []string {
	h := []string{"model_name", "k"}
	h = append(h, ranking.Columns(k)...)
	return append(h, "timestamp", "evaluation_date", "id")
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, e Experiment) (Saved, error) {
	start := time.Now()
	e, err := prepare(e, s.cfg.now())
	if err != nil {
		return Saved{}, err
	}
	if e.Record.K <= 0 {
		return Saved{}, fmt.Errorf("%w: record cutoff %d", ErrInvalidExperiment, e.Record.K)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	csvPath := filepath.Join(s.dir, ResultsFile(e.Record.K))
	if err := checkHeader(csvPath, header(e.Record.K)); err != nil {
		return Saved{}, err
	}
	jsonPath, err := s.writeDocument(e)
	if err != nil {
		return Saved{}, err
	}
	if err := appendRow(csvPath, header(e.Record.K), rowOf(e)); err != nil {
		// Get must not find what List does not.
		if rmErr := os.Remove(jsonPath); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("remove experiment file: %w", rmErr))
		}
		return Saved{}, err
	}

	total := s.countLocked()
	s.cfg.metrics.RecordExperimentSaved(float64(time.Since(start).Microseconds())/1000, total)
	s.logSummary(ctx, e, jsonPath)
	return Saved{
		ID:        e.ID,
		Timestamp: e.EvaluatedAt.Format(TimestampLayout),
		JSONPath:  jsonPath,
		CSVPath:   csvPath,
	}, nil
}

// writeDocument creates <label>_<timestamp>.json, adding a short suffix
// when that name is already taken.
func (s *FileStore) writeDocument(e Experiment) (string, error) {
	doc := document{
		ID:             e.ID,
		ModelName:      e.Label,
		EvaluationDate: e.EvaluatedAt.Format(time.RFC3339Nano),
		Metrics:        rowOf(e).Metrics,
		Warnings:       e.Record.Warnings,
		Parameters:     e.Parameters,
		DatasetInfo:    e.Dataset,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode experiment: %w", err)
	}

	base := sanitize(e.Label) + "_" + e.EvaluatedAt.Format(TimestampLayout)
	name := base + ".json"
	for {
		path := filepath.Join(s.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if errors.Is(err, fs.ErrExist) {
			name = base + "_" + uuid.NewString()[:8] + ".json"
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create experiment file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("write experiment file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close experiment file: %w", err)
		}
		return path, nil
	}
}

// sanitize keeps a label usable as a file name prefix.
func sanitize(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(label))
}

func checkHeader(path string, want []string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open results table: %w", err)
	}
	defer f.Close()

	got, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read results header: %w", err)
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: have %v, want %v", ErrHeaderMismatch, got, want)
	}
	return nil
}

func appendRow(path string, head []string, r Row) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("open results table: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat results table: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(head); err != nil {
			_ = f.Close()
			return fmt.Errorf("write results header: %w", err)
		}
	}
	line := []string{r.Label, strconv.Itoa(r.K)}
	for _, col := range ranking.Columns(r.K) {
		line = append(line, strconv.FormatFloat(r.Metrics[col], 'g', -1, 64))
	}
	line = append(line, r.Timestamp, r.EvaluationDate, r.ID)
	if err := w.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write results row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush results table: %w", err)
	}
	return f.Close()
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *FileStore) listLocked() ([]Row, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, resultsPattern))
	if err != nil {
		return nil, fmt.Errorf("list results tables: %w", err)
	}
	rows := []Row{}
	for _, p := range paths {
		table, err := readTable(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		rows = append(rows, table...)
	}
	if len(paths) > 1 {
		slices.SortStableFunc(rows, func(a, b Row) int {
			return evaluatedAt(a).Compare(evaluatedAt(b))
		})
	}
	return rows, nil
}

// evaluatedAt parses the row date; unparsable dates sort first.
func evaluatedAt(r Row) time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.EvaluationDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

func readTable(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results table: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read results table: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	head := records[0]
	if len(head) < 5 {
		return nil, fmt.Errorf("%w: %v", ErrHeaderMismatch, head)
	}
	metricCols := head[2 : len(head)-3]

	rows := make([]Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		k, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("results row %d: k: %w", n+1, err)
		}
		r := Row{
			Label:          rec[0],
			K:              k,
			Metrics:        make(map[string]float64, len(metricCols)),
			Timestamp:      rec[len(rec)-3],
			EvaluationDate: rec[len(rec)-2],
			ID:             rec[len(rec)-1],
		}
		for i, col := range metricCols {
			v, err := strconv.ParseFloat(rec[2+i], 64)
			if err != nil {
				return nil, fmt.Errorf("results row %d: %s: %w", n+1, col, err)
			}
			r.Metrics[col] = v
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (s *FileStore) countLocked() int {
	rows, err := s.listLocked()
	if err != nil {
		return 0
	}
	return len(rows)
}

// Count implements Store.
func (s *FileStore) Count(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

// Get implements Store by scanning the experiment documents.
func (s *FileStore) Get(_ context.Context, id string) (Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return Experiment{}, fmt.Errorf("list experiment files: %w", err)
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return Experiment{}, fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return Experiment{}, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		if doc.ID == id {
			return fromDocument(doc)
		}
	}
	return Experiment{}, ErrNotFound
}

func fromDocument(doc document) (Experiment, error) {
	at, err := time.Parse(time.RFC3339Nano, doc.EvaluationDate)
	if err != nil {
		return Experiment{}, fmt.Errorf("decode evaluation date: %w", err)
	}
	k := doc.Parameters.K
	return Experiment{
		ID:          doc.ID,
		Label:       doc.ModelName,
		EvaluatedAt: at,
		Record: ranking.Record{
			Label:     doc.ModelName,
			K:         k,
			HitRate:   doc.Metrics[ranking.ColumnName(ranking.MetricHitRate, k)],
			Precision: doc.Metrics[ranking.ColumnName(ranking.MetricPrecision, k)],
			Recall:    doc.Metrics[ranking.ColumnName(ranking.MetricRecall, k)],
			NDCG:      doc.Metrics[ranking.ColumnName(ranking.MetricNDCG, k)],
			MAP:       doc.Metrics[ranking.ColumnName(ranking.MetricMAP, k)],
			Coverage:  doc.Metrics[ranking.ColumnName(ranking.MetricCoverage, k)],
			Warnings:  doc.Warnings,
		},
		Parameters: doc.Parameters,
		Dataset:    doc.DatasetInfo,
	}, nil
}

func (s *FileStore) logSummary(ctx context.Context, e Experiment, jsonPath string) {
	fields := []logger.Field{
		logger.String("id", e.ID),
		logger.String("label", e.Label),
		logger.String("timestamp", e.EvaluatedAt.Format(TimestampLayout)),
		logger.String("file", filepath.Base(jsonPath)),
		logger.Int("train_size", e.Dataset.TrainSize),
		logger.Int("test_size", e.Dataset.TestSize),
		logger.Int("n_test_users", e.Dataset.NTestUsers),
		logger.Int("n_items", e.Dataset.NItems),
	}
	for _, m := range e.Record.Metrics() {
		fields = append(fields, logger.Float64(m.Name, m.Value))
	}
	s.cfg.logger.Info(ctx, "experiment saved", fields...)
}
