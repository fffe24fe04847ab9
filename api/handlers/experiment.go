package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/experiment"
)

// ExperimentHandler serves experiment CRUD and lifecycle endpoints.
type ExperimentHandler struct {
	registry *experiment.Registry
	logger   *zap.Logger
}

// NewExperimentHandler creates an experiment handler.
func NewExperimentHandler(registry *experiment.Registry, logger *zap.Logger) *ExperimentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExperimentHandler{
		registry: registry,
		logger:   logger.With(zap.String("handler", "experiment")),
	}
}

// HandleCreate handles POST /v1/experiments.
func (h *ExperimentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var def experiment.Experiment
	if err := DecodeJSONBody(w, r, &def, h.logger); err != nil {
		return
	}

	created, err := h.registry.Create(r.Context(), &def)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, created)
}

// HandleGet handles GET /v1/experiments/{id}.
func (h *ExperimentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	exp, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, exp)
}

// HandleList handles GET /v1/experiments with optional category and state
// query filters.
func (h *ExperimentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := experiment.Filter{
		Category: experiment.Category(r.URL.Query().Get("category")),
		State:    experiment.State(r.URL.Query().Get("state")),
	}

	exps, err := h.registry.List(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, exps)
}

// HandleStart handles POST /v1/experiments/{id}/start.
func (h *ExperimentHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Start)
}

// HandleStop handles POST /v1/experiments/{id}/stop.
func (h *ExperimentHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Stop)
}

// HandlePause handles POST /v1/experiments/{id}/pause.
func (h *ExperimentHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Pause)
}

// HandleResume handles POST /v1/experiments/{id}/resume.
func (h *ExperimentHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Resume)
}

// HandleArchive handles POST /v1/experiments/{id}/archive.
func (h *ExperimentHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Archive)
}

func (h *ExperimentHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := r.PathValue("id")
	if err := fn(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	exp, err := h.registry.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, exp)
}
