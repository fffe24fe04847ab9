package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/report"
	"github.com/BaSui01/splitflow/stats"
	"github.com/BaSui01/splitflow/types"
)

// ReportHandler serves aggregation, report, portfolio, and planning
// endpoints.
type ReportHandler struct {
	reporter *report.Reporter
	logger   *zap.Logger
}

// NewReportHandler creates a report handler.
func NewReportHandler(reporter *report.Reporter, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{
		reporter: reporter,
		logger:   logger.With(zap.String("handler", "report")),
	}
}

// HandleSummary handles GET /v1/experiments/{id}/summary.
func (h *ReportHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reporter.Summarize(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, summary)
}

// HandleReport handles GET /v1/experiments/{id}/report.
func (h *ReportHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reporter.Generate(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, rep)
}

// HandlePortfolio handles GET /v1/portfolio with optional category and state
// query filters.
func (h *ReportHandler) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	filter := report.PortfolioFilter{
		Category: experiment.Category(r.URL.Query().Get("category")),
		State:    experiment.State(r.URL.Query().Get("state")),
	}

	p, err := h.reporter.Portfolio(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

type sampleSizeResponse struct {
	Baseline          float64 `json:"baseline"`
	MinRelativeEffect float64 `json:"min_relative_effect"`
	Alpha             float64 `json:"alpha"`
	Power             float64 `json:"power"`
	PerVariant        int     `json:"per_variant"`
}

// HandleSampleSize handles GET /v1/sample-size. Required query parameters:
// baseline and min_effect; alpha and power fall back to defaults.
func (h *ReportHandler) HandleSampleSize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	baseline, err := strconv.ParseFloat(q.Get("baseline"), 64)
	if err != nil || baseline <= 0 || baseline >= 1 {
		WriteError(w, types.NewValidationError("baseline must be a rate in (0, 1)"), h.logger)
		return
	}
	minEffect, err := strconv.ParseFloat(q.Get("min_effect"), 64)
	if err != nil || minEffect <= 0 {
		WriteError(w, types.NewValidationError("min_effect must be a positive relative change"), h.logger)
		return
	}

	alpha := stats.DefaultAlpha
	if raw := q.Get("alpha"); raw != "" {
		if alpha, err = strconv.ParseFloat(raw, 64); err != nil {
			WriteError(w, types.NewValidationError("alpha must be numeric"), h.logger)
			return
		}
	}
	power := stats.DefaultPower
	if raw := q.Get("power"); raw != "" {
		if power, err = strconv.ParseFloat(raw, 64); err != nil {
			WriteError(w, types.NewValidationError("power must be numeric"), h.logger)
			return
		}
	}

	WriteSuccess(w, sampleSizeResponse{
		Baseline:          baseline,
		MinRelativeEffect: minEffect,
		Alpha:             alpha,
		Power:             power,
		PerVariant:        stats.SampleSize(baseline, minEffect, alpha, power),
	})
}
