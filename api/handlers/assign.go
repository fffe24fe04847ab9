package handlers

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/ledger"
	"github.com/BaSui01/splitflow/types"
)

// AssignHandler serves assignment and conversion endpoints. The assignment
// endpoint sits on the hot path, so it carries a token-bucket rate limit.
type AssignHandler struct {
	engine  *assign.Engine
	ledger  *ledger.Ledger
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAssignHandler creates the handler. A nil limiter disables rate limiting.
func NewAssignHandler(engine *assign.Engine, lg *ledger.Ledger, limiter *rate.Limiter, logger *zap.Logger) *AssignHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignHandler{
		engine:  engine,
		ledger:  lg,
		limiter: limiter,
		logger:  logger.With(zap.String("handler", "assign")),
	}
}

type assignRequest struct {
	SubjectID string            `json:"subject_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type conversionRequest struct {
	SubjectID string            `json:"subject_id"`
	Type      string            `json:"type"`
	Value     float64           `json:"value,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HandleAssign handles POST /v1/experiments/{id}/assignments.
func (h *AssignHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		WriteError(w, types.NewError(types.ErrRateLimited, "assignment rate limit exceeded").
			WithRetryable(true), h.logger)
		return
	}

	var req assignRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	placement, err := h.engine.Assign(r.Context(), r.PathValue("id"), req.SubjectID, req.Metadata)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, placement)
}

// HandleConversion handles POST /v1/experiments/{id}/conversions.
func (h *AssignHandler) HandleConversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	conv, err := h.ledger.Record(r.Context(), r.PathValue("id"), req.SubjectID, req.Type, req.Value, req.Metadata)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, conv)
}
