package api

import (
	"net/http"
	"time"

	repository "github.com/okian/receval/internal/adapters/repository"
	"github.com/okian/receval/internal/domain/ranking"
)

type experimentsResponse struct {
	Experiments []repository.Row `json:"experiments"`
}

type experimentResponse struct {
	ID          string                `json:"id"`
	Label       string                `json:"model_name"`
	EvaluatedAt time.Time             `json:"evaluation_date"`
	K           int                   `json:"k"`
	Metrics     map[string]float64    `json:"metrics"`
	Warnings    []ranking.Warning     `json:"warnings"`
	Parameters  repository.Parameters `json:"parameters"`
	Dataset     repository.Dataset    `json:"dataset_info"`
}

// ExperimentHandler serves stored experiments.
type ExperimentHandler struct {
	deps Dependencies
}

// NewExperimentHandler creates a new experiment handler.
func NewExperimentHandler(deps Dependencies) *ExperimentHandler {
	return &ExperimentHandler{deps: deps}
}

// HandleList handles GET /experiments requests.
func (h *ExperimentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.deps.Experiments(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if rows == nil {
		rows = []repository.Row{}
	}
	writeJSON(w, http.StatusOK, experimentsResponse{Experiments: rows})
}

// HandleGet handles GET /experiments/{id} requests.
func (h *ExperimentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.deps.Experiment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	out := experimentResponse{
		ID:          e.ID,
		Label:       e.Label,
		EvaluatedAt: e.EvaluatedAt,
		K:           e.Record.K,
		Metrics:     make(map[string]float64, 6),
		Warnings:    e.Record.Warnings,
		Parameters:  e.Parameters,
		Dataset:     e.Dataset,
	}
	for _, m := range e.Record.Metrics() {
		out.Metrics[m.Name] = m.Value
	}
	writeJSON(w, http.StatusOK, out)
}
