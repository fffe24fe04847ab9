package report

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/internal/cache"
	"github.com/BaSui01/splitflow/internal/metrics"
	"github.com/BaSui01/splitflow/stats"
)

// Health score weights and references.
const (
	weightProgress = 0.30
	weightPower    = 0.30
	weightBalance  = 0.20
	weightVelocity = 0.20

	// DefaultVelocityReference is the daily assignment rate that scores a
	// full velocity component.
	DefaultVelocityReference = 100.0

	// DefaultPrimaryConversion is the conversion type the statistical
	// verdict is computed on when the experiment does not name one.
	DefaultPrimaryConversion = "purchase"

	// PrimaryConversionMetadataKey lets an experiment override the primary
	// conversion type through its metadata.
	PrimaryConversionMetadataKey = "primary_conversion"

	// revenueGapThreshold is the absolute revenue-per-participant gap
	// between best and worst variant that triggers the revenue insight.
	revenueGapThreshold = 1.0
)

// Insight categories.
const (
	InsightWinner             = "winner"
	InsightLargeEffect        = "large_effect"
	InsightRevenueImpact      = "revenue_impact"
	InsightInsufficientSample = "insufficient_sample"
	InsightLowConversion      = "low_conversion"
)

// PerformanceMetric is the per-variant slice of a report.
type PerformanceMetric struct {
	VariantID             string                   `json:"variant_id"`
	Assignments           int                      `json:"assignments"`
	Conversions           int                      `json:"conversions"`
	ConversionRate        float64                  `json:"conversion_rate"`
	Revenue               float64                  `json:"revenue"`
	RevenuePerParticipant float64                  `json:"revenue_per_participant"`
	RateInterval          stats.ConfidenceInterval `json:"rate_interval"`
	IsWinner              bool                     `json:"is_winner"`
}

// HealthMetrics scores how trustworthy an experiment currently is.
type HealthMetrics struct {
	Score          float64 `json:"score"`
	SampleProgress float64 `json:"sample_progress"`
	Power          float64 `json:"power"`
	Balance        float64 `json:"balance"`
	Velocity       float64 `json:"velocity"`
}

// Insight is one derived, human-readable observation.
type Insight struct {
	Category       string  `json:"category"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Confidence     float64 `json:"confidence"`
	Actionable     bool    `json:"actionable"`
	Recommendation string  `json:"recommendation"`
	Impact         float64 `json:"impact,omitempty"`
}

// Report is the full analytical view of one experiment.
type Report struct {
	ExperimentID      string                `json:"experiment_id"`
	Name              string                `json:"name"`
	State             experiment.State      `json:"state"`
	PrimaryConversion string                `json:"primary_conversion"`
	GeneratedAt       time.Time             `json:"generated_at"`
	Summary           *Summary              `json:"summary"`
	Performance       []PerformanceMetric   `json:"performance"`
	Statistical       stats.Result          `json:"statistical"`
	Bayesian          []stats.BetaPosterior `json:"bayesian"`
	Health            HealthMetrics         `json:"health"`
	Insights          []Insight             `json:"insights"`
	Recommendation    string                `json:"recommendation"`
}

// ExperimentSource resolves experiment definitions. *experiment.Registry
// satisfies it.
type ExperimentSource interface {
	Get(ctx context.Context, id string) (*experiment.Experiment, error)
	List(ctx context.Context, filter experiment.Filter) ([]*experiment.Experiment, error)
}

// Reporter combines the aggregator with the statistical engine to produce
// reports and portfolio rollups.
type Reporter struct {
	experiments ExperimentSource
	aggregator  *Aggregator
	collector   *metrics.Collector
	cache       *cache.Manager
	cacheTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time

	velocityReference float64
	reportTimeout     time.Duration
	maxConcurrency    int
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithClock overrides the reporter's time source.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

// WithCollector attaches a metrics collector.
func WithCollector(c *metrics.Collector) ReporterOption {
	return func(r *Reporter) { r.collector = c }
}

// WithCache fronts report generation with a TTL'd cache. Cache failures
// degrade to recomputation.
func WithCache(m *cache.Manager, ttl time.Duration) ReporterOption {
	return func(r *Reporter) {
		r.cache = m
		r.cacheTTL = ttl
	}
}

// WithVelocityReference sets the daily assignment rate treated as full
// velocity in the health score.
func WithVelocityReference(perDay float64) ReporterOption {
	return func(r *Reporter) {
		if perDay > 0 {
			r.velocityReference = perDay
		}
	}
}

// WithReportTimeout bounds each per-experiment report inside a portfolio
// rollup so one slow experiment cannot stall the whole thing.
func WithReportTimeout(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.reportTimeout = d
		}
	}
}

// NewReporter creates a reporter. A nil logger falls back to a no-op logger.
func NewReporter(experiments ExperimentSource, store Store, logger *zap.Logger, opts ...ReporterOption) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		experiments:       experiments,
		aggregator:        NewAggregator(store),
		logger:            logger.With(zap.String("component", "report")),
		now:               time.Now,
		velocityReference: DefaultVelocityReference,
		reportTimeout:     10 * time.Second,
		maxConcurrency:    4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summarize exposes the raw aggregation for an experiment id.
func (r *Reporter) Summarize(ctx context.Context, experimentID string) (*Summary, error) {
	exp, err := r.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return r.aggregator.Summarize(ctx, exp)
}

// Generate builds the full report for an experiment.
func (r *Reporter) Generate(ctx context.Context, experimentID string) (*Report, error) {
	if cached := r.fromCache(ctx, experimentID); cached != nil {
		return cached, nil
	}

	started := r.now()
	exp, err := r.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	summary, err := r.aggregator.Summarize(ctx, exp)
	if err != nil {
		return nil, err
	}

	rep := r.build(exp, summary)
	r.collector.ReportGenerated(experimentID, r.now().Sub(started))
	r.toCache(ctx, rep)
	return rep, nil
}

// build assembles the report from an experiment and its summary. Pure
// computation, separated out for tests.
func (r *Reporter) build(exp *experiment.Experiment, summary *Summary) *Report {
	primary := primaryConversion(exp, summary)
	counts := primaryCounts(summary, primary)

	statistical := stats.MultiProportion(counts, exp.Alpha)
	if baseline := counts[0].Rate(); baseline > 0 {
		statistical.RequiredSampleSize = stats.SampleSize(baseline, exp.MinEffect, exp.Alpha, stats.DefaultPower)
	}

	rep := &Report{
		ExperimentID:      exp.ID,
		Name:              exp.Name,
		State:             exp.State,
		PrimaryConversion: primary,
		GeneratedAt:       r.now(),
		Summary:           summary,
		Statistical:       statistical,
		Bayesian:          stats.BayesianSummary(counts, 1, 1),
	}

	rep.Performance = r.performance(summary, counts, statistical)
	rep.Health = r.health(exp, summary, statistical)
	rep.Insights = r.insights(exp, rep)
	rep.Recommendation = r.recommendation(rep)
	return rep
}

// primaryConversion picks the conversion type the verdict is computed on:
// the experiment's metadata override, then the default type if it has any
// events, then the most frequent type observed.
func primaryConversion(exp *experiment.Experiment, summary *Summary) string {
	if t, ok := exp.Metadata[PrimaryConversionMetadataKey]; ok && t != "" {
		return t
	}

	totals := make(map[string]int)
	for _, vs := range summary.Variants {
		for typ, ts := range vs.Conversions {
			totals[typ] += ts.Count
		}
	}
	if totals[DefaultPrimaryConversion] > 0 {
		return DefaultPrimaryConversion
	}

	best := DefaultPrimaryConversion
	bestCount := 0
	for typ, count := range totals {
		if count > bestCount || (count == bestCount && typ < best && count > 0) {
			best = typ
			bestCount = count
		}
	}
	return best
}

func primaryCounts(summary *Summary, primary string) []stats.VariantCount {
	counts := make([]stats.VariantCount, len(summary.Variants))
	for i, vs := range summary.Variants {
		counts[i] = stats.VariantCount{
			VariantID:   vs.VariantID,
			Conversions: vs.Conversions[primary].Count,
			Samples:     vs.Assignments,
		}
	}
	return counts
}

func (r *Reporter) performance(summary *Summary, counts []stats.VariantCount, statistical stats.Result) []PerformanceMetric {
	out := make([]PerformanceMetric, len(summary.Variants))
	for i, vs := range summary.Variants {
		var revenue float64
		for _, ts := range vs.Conversions {
			revenue += ts.TotalValue
		}

		m := PerformanceMetric{
			VariantID:      vs.VariantID,
			Assignments:    vs.Assignments,
			Conversions:    counts[i].Conversions,
			ConversionRate: counts[i].Rate(),
			Revenue:        revenue,
			RateInterval:   stats.ProportionCI(counts[i].Conversions, vs.Assignments, 0.95),
			IsWinner:       statistical.WinnerID == vs.VariantID,
		}
		if vs.Assignments > 0 {
			m.RevenuePerParticipant = revenue / float64(vs.Assignments)
		}
		out[i] = m
	}
	return out
}

func (r *Reporter) health(exp *experiment.Experiment, summary *Summary, statistical stats.Result) HealthMetrics {
	h := HealthMetrics{Power: statistical.Power}

	if exp.TargetSampleSize > 0 {
		h.SampleProgress = clamp01(float64(summary.TotalAssignments) / float64(exp.TargetSampleSize))
	} else if summary.TotalAssignments > 0 {
		h.SampleProgress = 1
	}

	minA, maxA := -1, 0
	for _, vs := range summary.Variants {
		if minA == -1 || vs.Assignments < minA {
			minA = vs.Assignments
		}
		if vs.Assignments > maxA {
			maxA = vs.Assignments
		}
	}
	if maxA > 0 {
		h.Balance = float64(minA) / float64(maxA)
	}

	if exp.StartedAt != nil {
		days := r.now().Sub(*exp.StartedAt).Hours() / 24
		if days > 0 {
			perDay := float64(summary.TotalAssignments) / days
			h.Velocity = clamp01(perDay / r.velocityReference)
		}
	}

	h.Score = weightProgress*h.SampleProgress +
		weightPower*h.Power +
		weightBalance*h.Balance +
		weightVelocity*h.Velocity
	return h
}

func (r *Reporter) insights(exp *experiment.Experiment, rep *Report) []Insight {
	var out []Insight
	st := rep.Statistical

	if st.Significant && st.WinnerID != "" {
		out = append(out, Insight{
			Category:       InsightWinner,
			Title:          "Significant winner found",
			Description:    st.WinnerID + " outperforms the other variants at the configured significance level.",
			Confidence:     st.Confidence,
			Actionable:     true,
			Recommendation: "Implement " + st.WinnerID + " and conclude the experiment.",
			Impact:         st.EffectSize,
		})
	}

	if abs(st.EffectSize) > 0.2 {
		out = append(out, Insight{
			Category:       InsightLargeEffect,
			Title:          "Large effect size",
			Description:    "The measured effect between variants is unusually large.",
			Confidence:     st.Confidence,
			Actionable:     true,
			Recommendation: "Validate the setup, then prioritize rolling out the better variant.",
			Impact:         st.EffectSize,
		})
	}

	if gap, ok := revenueGap(rep.Performance); ok && gap > revenueGapThreshold {
		out = append(out, Insight{
			Category:       InsightRevenueImpact,
			Title:          "Revenue gap between variants",
			Description:    "Revenue per participant differs materially between the best and worst variant.",
			Confidence:     st.Confidence,
			Actionable:     true,
			Recommendation: "Weigh the revenue difference when choosing the variant to keep.",
			Impact:         gap,
		})
	}

	if st.RequiredSampleSize > 0 && rep.Summary.TotalAssignments < st.RequiredSampleSize {
		out = append(out, Insight{
			Category:       InsightInsufficientSample,
			Title:          "Insufficient sample size",
			Description:    "The experiment has not yet reached the sample size required to detect the configured minimum effect.",
			Confidence:     1,
			Actionable:     true,
			Recommendation: "Keep the experiment running until the required sample size is reached.",
			Impact:         float64(st.RequiredSampleSize - rep.Summary.TotalAssignments),
		})
	}

	if rate, ok := overallRate(rep.Summary, rep.PrimaryConversion); ok && rate < 0.01 {
		out = append(out, Insight{
			Category:       InsightLowConversion,
			Title:          "Low overall conversion",
			Description:    "The average conversion rate across all variants is below 1%.",
			Confidence:     1,
			Actionable:     false,
			Recommendation: "Review tracking and funnel setup before trusting variant comparisons.",
		})
	}

	return out
}

func (r *Reporter) recommendation(rep *Report) string {
	st := rep.Statistical
	switch {
	case st.Significant && st.WinnerID != "":
		return "Adopt " + st.WinnerID + "; the difference is statistically significant."
	case st.RequiredSampleSize > 0 && rep.Summary.TotalAssignments < st.RequiredSampleSize:
		return "Continue collecting data; the sample is too small for a reliable verdict."
	default:
		return "No significant difference detected yet; continue the experiment or revisit the hypothesis."
	}
}

func (r *Reporter) fromCache(ctx context.Context, experimentID string) *Report {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, cacheKey(experimentID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("report cache read failed", zap.String("experiment", experimentID), zap.Error(err))
		}
		return nil
	}
	var rep Report
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		r.logger.Warn("report cache entry corrupt", zap.String("experiment", experimentID), zap.Error(err))
		return nil
	}
	return &rep
}

func (r *Reporter) toCache(ctx context.Context, rep *Report) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(rep.ExperimentID), string(raw), r.cacheTTL); err != nil {
		r.logger.Warn("report cache write failed", zap.String("experiment", rep.ExperimentID), zap.Error(err))
	}
}

func cacheKey(experimentID string) string {
	return "splitflow:report:" + experimentID
}

func revenueGap(perf []PerformanceMetric) (float64, bool) {
	if len(perf) == 0 {
		return 0, false
	}
	best, worst := perf[0].RevenuePerParticipant, perf[0].RevenuePerParticipant
	for _, m := range perf[1:] {
		if m.RevenuePerParticipant > best {
			best = m.RevenuePerParticipant
		}
		if m.RevenuePerParticipant < worst {
			worst = m.RevenuePerParticipant
		}
	}
	return best - worst, true
}

func overallRate(summary *Summary, primary string) (float64, bool) {
	if summary.TotalAssignments == 0 {
		return 0, false
	}
	var conversions int
	for _, vs := range summary.Variants {
		conversions += vs.Conversions[primary].Count
	}
	return float64(conversions) / float64(summary.TotalAssignments), true
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
