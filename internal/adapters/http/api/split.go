package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/receval/internal/adapters/csvio"
	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/internal/domain/split"
)

// rowRequest is one interaction of a JSON log.
type rowRequest struct {
	UserID    model.UserID `json:"user_id"`
	ItemID    model.ItemID `json:"item_id"`
	Rating    float64      `json:"rating"`
	Timestamp int64        `json:"timestamp"`
}

// logRequest is an interaction log. Rows always use the standard JSON keys;
// the table exposes them under the schema it is built with. Columns restricts
// that schema, e.g. for logs without ratings.
type logRequest struct {
	Rows    []rowRequest `json:"rows" validate:"required"`
	Columns []string     `json:"columns" validate:"omitempty,dive,required"`
}

func (l logRequest) table(schema model.Schema) (model.Table, error) {
	if len(l.Columns) > 0 {
		var err error
		if schema, err = schema.Project(l.Columns); err != nil {
			return model.Table{}, err
		}
	}
	rows := make([]model.InteractionRecord, len(l.Rows))
	for i, r := range l.Rows {
		rows[i] = model.InteractionRecord{UserID: r.UserID, ItemID: r.ItemID, Rating: r.Rating, Timestamp: r.Timestamp}
	}
	return model.Table{Schema: schema, Rows: rows}.Project(schema), nil
}

type splitRequest struct {
	logRequest
	Options split.Options `json:"options"`
}

type splitResponse struct {
	Train []map[string]any `json:"train"`
	Test  []map[string]any `json:"test"`
	Stats split.Stats      `json:"stats"`
}

type matrixRequest struct {
	logRequest
	Threshold *float64 `json:"threshold"`
}

type matrixResponse struct {
	Rows      int                  `json:"rows"`
	Cols      int                  `json:"cols"`
	NNZ       int                  `json:"nnz"`
	IndPtr    []int                `json:"indptr"`
	Indices   []int                `json:"indices"`
	Data      []float64            `json:"data"`
	UserIndex map[model.UserID]int `json:"user_index"`
	ItemIndex map[model.ItemID]int `json:"item_index"`
}

// SplitHandler handles split and matrix requests.
type SplitHandler struct {
	deps Dependencies
}

// NewSplitHandler creates a new split handler.
func NewSplitHandler(deps Dependencies) *SplitHandler {
	return &SplitHandler{deps: deps}
}

// HandleSplit handles POST /split requests. Column names follow the effective
// options. A text/csv body takes its options from the query string.
func (h *SplitHandler) HandleSplit(w http.ResponseWriter, r *http.Request) {
	const op = "api.split"
	var (
		t    model.Table
		opts split.Options
		err  error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		var schema model.Schema
		if opts, err = queryOptions(op, r, h.deps.SplitDefaults()); err == nil {
			if schema, err = opts.InputSchema(); err == nil {
				t, err = csvio.Read(r.Body, csvio.SchemaBindings(schema))
			}
		}
	} else {
		req := splitRequest{Options: h.deps.SplitDefaults()}
		if err = decode(op, r, &req); err == nil {
			opts = req.Options
			var schema model.Schema
			if schema, err = opts.InputSchema(); err == nil {
				t, err = req.table(schema)
			}
		}
	}
	if err != nil {
		writeFailure(w, err)
		return
	}

	res, err := h.deps.Split(r.Context(), t, opts)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, splitResponse{
		Train: rowsOf(res.Train),
		Test:  rowsOf(res.Test),
		Stats: res.Stats,
	})
}

// HandleMatrix handles POST /matrix requests.
func (h *SplitHandler) HandleMatrix(w http.ResponseWriter, r *http.Request) {
	const op = "api.matrix"
	var req matrixRequest
	if err := decode(op, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	t, err := req.table(model.DefaultSchema())
	if err != nil {
		writeFailure(w, err)
		return
	}
	m, err := h.deps.BuildMatrix(r.Context(), t, req.Threshold)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matrixResponse{
		Rows:      m.NRows,
		Cols:      m.NCols,
		NNZ:       m.NNZ(),
		IndPtr:    m.IndPtr,
		Indices:   m.Indices,
		Data:      m.Data,
		UserIndex: m.UserIndex,
		ItemIndex: m.ItemIndex,
	})
}

func rowsOf(t model.Table) []map[string]any {
	out := make([]map[string]any, t.Len())
	for i := range t.Rows {
		out[i] = t.Row(i)
	}
	return out
}

// queryOptions overlays split options from query parameters onto base.
func queryOptions(op string, r *http.Request, base split.Options) (split.Options, error) {
	q := r.URL.Query()
	ints := map[string]*int{
		"min_train_ratings":   &base.MinTrainRatings,
		"min_test_user_train": &base.MinTestUserTrain,
		"min_test_user_test":  &base.MinTestUserTest,
	}
	for name, dst := range ints {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return split.Options{}, WrapKind(op, ErrBadRequest, fmt.Errorf("%s: %w", name, err))
			}
			*dst = n
		}
	}
	if v := q.Get("quantile"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return split.Options{}, WrapKind(op, ErrBadRequest, fmt.Errorf("quantile: %w", err))
		}
		base.Quantile = f
	}
	names := map[string]*string{
		"time_column": &base.TimeColumn,
		"user_column": &base.UserColumn,
		"item_column": &base.ItemColumn,
	}
	for name, dst := range names {
		if v := q.Get(name); v != "" {
			*dst = v
		}
	}
	if v := q.Get("keep"); v != "" {
		base.Keep = strings.Split(v, ",")
	}
	return base, nil
}
