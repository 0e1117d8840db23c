package api

import (
	"net/http"

	repository "github.com/okian/receval/internal/adapters/repository"
	service "github.com/okian/receval/internal/app"
	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/internal/domain/ranking"
)

// evaluateRequest mirrors the OpenAPI schema for POST /evaluate.
type evaluateRequest struct {
	Label           string                           `json:"label" validate:"required"`
	K               int                              `json:"k" validate:"gte=0"`
	Recommendations map[model.UserID][]model.ItemID `json:"recommendations" validate:"required"`
	Relevance       map[model.UserID][]model.ItemID `json:"relevance" validate:"required"`
	Items           []model.ItemID                   `json:"items" validate:"required"`
	Save            bool                             `json:"save"`
	Meta            *metaRequest                     `json:"meta"`
}

type metaRequest struct {
	Parameters repository.Parameters `json:"parameters"`
	Dataset    repository.Dataset    `json:"dataset_info"`
}

func (e evaluateRequest) toService() service.EvaluateRequest {
	rel := make(model.Relevance, len(e.Relevance))
	for u, items := range e.Relevance {
		rel[u] = model.NewItemSet(items...)
	}
	req := service.EvaluateRequest{
		Label:           e.Label,
		K:               e.K,
		Recommendations: model.Recommendations(e.Recommendations),
		Relevance:       rel,
		Items:           model.NewItemSet(e.Items...),
		Save:            e.Save,
	}
	if e.Meta != nil {
		req.Meta = service.Meta{Parameters: e.Meta.Parameters, Dataset: e.Meta.Dataset}
	}
	return req
}

type batchRequest struct {
	Runs []evaluateRequest `json:"runs" validate:"required,min=1,dive"`
}

// recordResponse is the single-row evaluation record.
type recordResponse struct {
	Label        string             `json:"model_name"`
	K            int                `json:"k"`
	Metrics      map[string]float64 `json:"metrics"`
	Warnings     []ranking.Warning  `json:"warnings"`
	ExperimentID string             `json:"experiment_id,omitempty"`
	Timestamp    string             `json:"timestamp,omitempty"`
}

func toResponse(res service.EvaluateResult) recordResponse {
	out := recordResponse{
		Label:    res.Record.Label,
		K:        res.Record.K,
		Metrics:  make(map[string]float64, 6),
		Warnings: res.Record.Warnings,
	}
	if out.Warnings == nil {
		out.Warnings = []ranking.Warning{}
	}
	for _, m := range res.Record.Metrics() {
		out.Metrics[m.Name] = m.Value
	}
	if res.Saved != nil {
		out.ExperimentID = res.Saved.ID
		out.Timestamp = res.Saved.Timestamp
	}
	return out
}

type batchResponse struct {
	Results []recordResponse `json:"results"`
}

// EvaluateHandler handles metric evaluation requests.
type EvaluateHandler struct {
	deps Dependencies
}

// NewEvaluateHandler creates a new evaluate handler.
func NewEvaluateHandler(deps Dependencies) *EvaluateHandler {
	return &EvaluateHandler{deps: deps}
}

// HandleEvaluate handles POST /evaluate requests.
func (h *EvaluateHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate"
	var req evaluateRequest
	if err := decode(op, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := h.deps.Evaluate(r.Context(), req.toService())
	if err != nil {
		writeFailure(w, err)
		return
	}
	status := http.StatusOK
	if res.Saved != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, toResponse(res))
}

// HandleBatch handles POST /evaluate/batch requests.
func (h *EvaluateHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate_batch"
	var req batchRequest
	if err := decode(op, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	reqs := make([]service.EvaluateRequest, len(req.Runs))
	for i, run := range req.Runs {
		reqs[i] = run.toService()
	}
	results, err := h.deps.EvaluateBatch(r.Context(), reqs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	out := batchResponse{Results: make([]recordResponse, len(results))}
	for i, res := range results {
		out.Results[i] = toResponse(res)
	}
	writeJSON(w, http.StatusOK, out)
}
