package report

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/splitflow/experiment"
)

// Portfolio is the cross-experiment rollup. Experiments whose report failed
// are skipped, counted, and logged rather than failing the whole view.
type Portfolio struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	Experiments        int            `json:"experiments"`
	Skipped            int            `json:"skipped"`
	TotalAssignments   int            `json:"total_assignments"`
	TotalConversions   int            `json:"total_conversions"`
	SignificantShare   float64        `json:"significant_share"`
	AverageHealth      float64        `json:"average_health"`
	InsightsByCategory map[string]int `json:"insights_by_category"`
	Reports            []*Report      `json:"reports"`
}

// PortfolioFilter narrows which experiments enter the rollup. The zero value
// covers every active experiment.
type PortfolioFilter struct {
	Category experiment.Category
	State    experiment.State
}

// Portfolio generates reports for every matching experiment concurrently and
// aggregates them. An unset filter state defaults to active experiments.
func (r *Reporter) Portfolio(ctx context.Context, filter PortfolioFilter) (*Portfolio, error) {
	state := filter.State
	if state == "" {
		state = experiment.StateActive
	}
	experiments, err := r.experiments.List(ctx, experiment.Filter{
		Category: filter.Category,
		State:    state,
	})
	if err != nil {
		return nil, err
	}

	reports := make([]*Report, len(experiments))
	skipped := make([]bool, len(experiments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)
	for i, exp := range experiments {
		g.Go(func() error {
			reportCtx, cancel := context.WithTimeout(gctx, r.reportTimeout)
			defer cancel()

			rep, err := r.Generate(reportCtx, exp.ID)
			if err != nil {
				skipped[i] = true
				r.collector.PortfolioSkip()
				r.logger.Warn("skipping experiment in portfolio",
					zap.String("experiment", exp.ID),
					zap.Error(err))
				return nil
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &Portfolio{
		GeneratedAt:        r.now(),
		InsightsByCategory: make(map[string]int),
	}

	var significant int
	var healthSum float64
	for i, rep := range reports {
		if skipped[i] || rep == nil {
			p.Skipped++
			continue
		}
		p.Experiments++
		p.Reports = append(p.Reports, rep)
		p.TotalAssignments += rep.Summary.TotalAssignments
		for _, pm := range rep.Performance {
			p.TotalConversions += pm.Conversions
		}
		if rep.Statistical.Significant {
			significant++
		}
		healthSum += rep.Health.Score
		for _, in := range rep.Insights {
			p.InsightsByCategory[in.Category]++
		}
	}
	if p.Experiments > 0 {
		p.SignificantShare = float64(significant) / float64(p.Experiments)
		p.AverageHealth = healthSum / float64(p.Experiments)
	}
	return p, nil
}
