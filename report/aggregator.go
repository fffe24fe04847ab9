// Package report turns raw assignment and conversion counts into aggregated
// summaries, statistical verdicts, health scores, and actionable insights.
// Everything here is derived state: reports are recomputed from the store on
// every request and never persisted as a source of truth.
package report

import (
	"context"

	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/ledger"
)

// Store is the aggregation surface the report layer needs.
type Store interface {
	AssignmentCounts(ctx context.Context, experimentID string) (map[int]int, error)
	ConversionAggregates(ctx context.Context, experimentID string) ([]ledger.Aggregate, error)
}

// TypeSummary aggregates one conversion type within a variant.
type TypeSummary struct {
	Count      int     `json:"count"`
	TotalValue float64 `json:"total_value"`
	AvgValue   float64 `json:"avg_value"`
	Rate       float64 `json:"rate"`
}

// VariantSummary aggregates one variant.
type VariantSummary struct {
	VariantID   string                 `json:"variant_id"`
	Index       int                    `json:"index"`
	Assignments int                    `json:"assignments"`
	Conversions map[string]TypeSummary `json:"conversions"`
}

// Summary is the aggregated view of one experiment, every variant included
// even when it has no traffic yet.
type Summary struct {
	ExperimentID     string           `json:"experiment_id"`
	TotalAssignments int              `json:"total_assignments"`
	Variants         []VariantSummary `json:"variants"`
}

// Aggregator computes per-variant counts and rates from the store. Pure
// read, no inference.
type Aggregator struct {
	store Store
}

// NewAggregator creates a results aggregator.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize aggregates assignments and conversions for the experiment,
// grouped by variant and conversion type. Rates are count/assignments,
// defined as 0 when a variant has no assignments.
func (a *Aggregator) Summarize(ctx context.Context, exp *experiment.Experiment) (*Summary, error) {
	assignments, err := a.store.AssignmentCounts(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	aggregates, err := a.store.ConversionAggregates(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		ExperimentID: exp.ID,
		Variants:     make([]VariantSummary, len(exp.Variants)),
	}
	for i, v := range exp.Variants {
		summary.Variants[i] = VariantSummary{
			VariantID:   v.ID(),
			Index:       i,
			Assignments: assignments[i],
			Conversions: make(map[string]TypeSummary),
		}
		summary.TotalAssignments += assignments[i]
	}

	for _, agg := range aggregates {
		if agg.VariantIndex < 0 || agg.VariantIndex >= len(summary.Variants) {
			continue
		}
		vs := &summary.Variants[agg.VariantIndex]

		ts := TypeSummary{Count: agg.Count, TotalValue: agg.TotalValue}
		if agg.Count > 0 {
			ts.AvgValue = agg.TotalValue / float64(agg.Count)
		}
		if vs.Assignments > 0 {
			ts.Rate = float64(agg.Count) / float64(vs.Assignments)
		}
		vs.Conversions[agg.Type] = ts
	}

	return summary, nil
}
