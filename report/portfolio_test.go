package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/types"
)

// failingSource lists everything but refuses to resolve one experiment, so a
// portfolio rollup has to skip it.
type failingSource struct {
	ExperimentSource
	failID string
}

func (s *failingSource) Get(ctx context.Context, id string) (*experiment.Experiment, error) {
	if id == s.failID {
		return nil, types.NewStorageError(context.DeadlineExceeded)
	}
	return s.ExperimentSource.Get(ctx, id)
}

func TestPortfolioAggregatesActiveExperiments(t *testing.T) {
	f := newFixture(t)

	first := f.createActive(t)
	f.seed(t, first.ID, 500, []int{25, 40}, 10)

	second := f.createActive(t)
	f.seed(t, second.ID, 100, []int{8, 9}, 5)

	// A draft experiment must stay out of the default rollup.
	_, err := f.registry.Create(context.Background(), &experiment.Experiment{
		Name:     "still a draft",
		Category: experiment.CategoryMessageSubject,
		Variants: []experiment.Variant{
			{Weight: 0.5, Payload: experiment.MessagePayload{Subject: "a"}},
			{Weight: 0.5, Payload: experiment.MessagePayload{Subject: "b"}},
		},
	})
	require.NoError(t, err)

	p, err := f.reporter.Portfolio(context.Background(), PortfolioFilter{})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Experiments)
	assert.Zero(t, p.Skipped)
	assert.Equal(t, 1200, p.TotalAssignments)
	assert.Equal(t, 82, p.TotalConversions)
	assert.InDelta(t, 0.5, p.SignificantShare, 1e-9) // only the first is significant
	assert.Greater(t, p.InsightsByCategory[InsightWinner], 0)
	assert.Len(t, p.Reports, 2)
}

func TestPortfolioSkipsFailingExperiment(t *testing.T) {
	f := newFixture(t)

	healthy := f.createActive(t)
	f.seed(t, healthy.ID, 200, []int{10, 20}, 1)
	broken := f.createActive(t)

	f.reporter.experiments = &failingSource{
		ExperimentSource: f.registry,
		failID:           broken.ID,
	}

	p, err := f.reporter.Portfolio(context.Background(), PortfolioFilter{})
	require.NoError(t, err)

	assert.Equal(t, 1, p.Experiments)
	assert.Equal(t, 1, p.Skipped)
	assert.Equal(t, 400, p.TotalAssignments)
}

func TestPortfolioFilterByCategory(t *testing.T) {
	f := newFixture(t)
	subject := f.createActive(t)
	f.seed(t, subject.ID, 50, []int{2, 3}, 1)

	ctx := context.Background()
	cta, err := f.registry.Create(ctx, &experiment.Experiment{
		Name:     "cta test",
		Category: experiment.CategoryCTA,
		Variants: []experiment.Variant{
			{Weight: 0.5, Payload: experiment.CTAPayload{Label: "Buy"}},
			{Weight: 0.5, Payload: experiment.CTAPayload{Label: "Try"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.registry.Start(ctx, cta.ID))

	p, err := f.reporter.Portfolio(ctx, PortfolioFilter{Category: experiment.CategoryCTA})
	require.NoError(t, err)

	assert.Equal(t, 1, p.Experiments)
	require.Len(t, p.Reports, 1)
	assert.Equal(t, cta.ID, p.Reports[0].ExperimentID)
}

func TestPortfolioEmpty(t *testing.T) {
	f := newFixture(t)

	p, err := f.reporter.Portfolio(context.Background(), PortfolioFilter{})
	require.NoError(t, err)
	assert.Zero(t, p.Experiments)
	assert.Zero(t, p.AverageHealth)
	assert.NotNil(t, p.InsightsByCategory)
}
