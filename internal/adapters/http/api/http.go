// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/okian/receval/internal/adapters/csvio"
	repository "github.com/okian/receval/internal/adapters/repository"
	service "github.com/okian/receval/internal/app"
	"github.com/okian/receval/internal/domain/matrix"
	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/internal/domain/ranking"
	"github.com/okian/receval/internal/domain/split"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	Evaluate(ctx context.Context, req service.EvaluateRequest) (service.EvaluateResult, error)
	EvaluateBatch(ctx context.Context, reqs []service.EvaluateRequest) ([]service.EvaluateResult, error)
	Split(ctx context.Context, t model.Table, o split.Options) (split.Result, error)
	BuildMatrix(ctx context.Context, t model.Table, threshold *float64) (*matrix.Matrix, error)
	Experiments(ctx context.Context) ([]repository.Row, error)
	Experiment(ctx context.Context, id string) (repository.Experiment, error)

	// SplitDefaults returns the options a split request is decoded onto.
	SplitDefaults() split.Options
}

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 64 << 20

// Server wires HTTP routes for the evaluation API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	evaluateHandler   *EvaluateHandler
	splitHandler      *SplitHandler
	experimentHandler *ExperimentHandler
	maxBodyBytes      int64
}

// NewServer creates a new API server with all handlers. A non-positive
// maxBodyBytes uses DefaultMaxBodyBytes.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxBodyBytes int64) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		evaluateHandler:   NewEvaluateHandler(deps),
		splitHandler:      NewSplitHandler(deps),
		experimentHandler: NewExperimentHandler(deps),
		maxBodyBytes:      maxBodyBytes,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	limit := func(h http.HandlerFunc) http.HandlerFunc { return MaxBytes(h, s.maxBodyBytes) }

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /evaluate", MetricsMiddleware(limit(s.evaluateHandler.HandleEvaluate), "evaluate"))
	mux.HandleFunc("POST /evaluate/batch", MetricsMiddleware(limit(s.evaluateHandler.HandleBatch), "evaluate_batch"))
	mux.HandleFunc("POST /split", MetricsMiddleware(limit(s.splitHandler.HandleSplit), "split"))
	mux.HandleFunc("POST /matrix", MetricsMiddleware(limit(s.splitHandler.HandleMatrix), "matrix"))
	mux.HandleFunc("GET /experiments", MetricsMiddleware(s.experimentHandler.HandleList, "experiments"))
	mux.HandleFunc("GET /experiments/{id}", MetricsMiddleware(s.experimentHandler.HandleGet, "experiment"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps err to its status code and writes it.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

// classify maps domain error kinds to an HTTP status and error code.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidRequest), errors.Is(err, csvio.ErrMalformedRow):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrSchema):
		return http.StatusBadRequest, "schema_error"
	case errors.Is(err, ranking.ErrMismatchedUsers):
		return http.StatusBadRequest, "mismatched_users"
	case errors.Is(err, ranking.ErrInvalidCutoff), errors.Is(err, ranking.ErrEmptyItemUniverse):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, split.ErrInvalidOptions):
		return http.StatusBadRequest, "invalid_options"
	case errors.Is(err, split.ErrTemporalLeakage):
		return http.StatusUnprocessableEntity, "temporal_leakage"
	case errors.Is(err, split.ErrEmptyResult):
		return http.StatusUnprocessableEntity, "empty_result"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrHeaderMismatch):
		return http.StatusConflict, "header_mismatch"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_started"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// decode reads a JSON body into v and validates its tags.
func decode(op string, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return WrapKind(op, ErrUnsupportedMedia, errors.New(ct))
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return WrapKind(op, ErrBadRequest, errors.New("empty body"))
		}
		return WrapKind(op, ErrBadRequest, err)
	}
	if err := getValidator().Struct(v); err != nil {
		return WrapKind(op, ErrBadRequest, describe(err))
	}
	return nil
}

// describe flattens validator errors into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msgs[i] += "=" + fe.Param()
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
