package assign_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/store"
	"github.com/BaSui01/splitflow/types"
)

func newHarness(t *testing.T, weights []float64) (*assign.Engine, *experiment.Registry, *store.Memory, string) {
	t.Helper()
	mem := store.NewMemory()
	registry := experiment.NewRegistry(mem, zap.NewNop())
	engine := assign.NewEngine(registry, mem, zap.NewNop())

	variants := make([]experiment.Variant, len(weights))
	for i, w := range weights {
		variants[i] = experiment.Variant{
			Weight:  w,
			Payload: experiment.MessagePayload{Subject: fmt.Sprintf("subject %d", i)},
		}
	}

	ctx := context.Background()
	exp, err := registry.Create(ctx, &experiment.Experiment{
		Name:     "bucketing test",
		Category: experiment.CategoryMessageSubject,
		Variants: variants,
	})
	require.NoError(t, err)
	require.NoError(t, registry.Start(ctx, exp.ID))
	return engine, registry, mem, exp.ID
}

func TestAssignIsDeterministic(t *testing.T) {
	engine, _, _, expID := newHarness(t, []float64{0.5, 0.5})
	ctx := context.Background()

	first, err := engine.Assign(ctx, expID, "user-1", nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := engine.Assign(ctx, expID, "user-1", nil)
		require.NoError(t, err)
		assert.Equal(t, first.Assignment.VariantIndex, again.Assignment.VariantIndex)
		assert.Equal(t, first.Assignment.AssignedAt, again.Assignment.AssignedAt)
	}
}

func TestAssignReturnsVariantConfiguration(t *testing.T) {
	engine, _, _, expID := newHarness(t, []float64{1.0, 0.0})
	ctx := context.Background()

	p, err := engine.Assign(ctx, expID, "user-1", map[string]string{"channel": "email"})
	require.NoError(t, err)

	assert.Equal(t, 0, p.Assignment.VariantIndex)
	assert.Equal(t, "variant_0", p.Assignment.VariantID())
	assert.Equal(t, "email", p.Assignment.Metadata["channel"])
	payload, ok := p.Variant.Payload.(experiment.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "subject 0", payload.Subject)
}

func TestAssignDistributionMatchesWeights(t *testing.T) {
	engine, _, _, expID := newHarness(t, []float64{0.6, 0.4})
	ctx := context.Background()

	const n = 10000
	counts := make([]int, 2)
	for i := 0; i < n; i++ {
		p, err := engine.Assign(ctx, expID, fmt.Sprintf("user-%d", i), nil)
		require.NoError(t, err)
		counts[p.Assignment.VariantIndex]++
	}

	assert.InDelta(t, 0.6, float64(counts[0])/n, 0.02)
	assert.InDelta(t, 0.4, float64(counts[1])/n, 0.02)
}

func TestAssignRefusedWhenNotActive(t *testing.T) {
	engine, registry, _, expID := newHarness(t, []float64{0.5, 0.5})
	ctx := context.Background()

	// Existing assignment before the pause.
	before, err := engine.Assign(ctx, expID, "veteran", nil)
	require.NoError(t, err)

	require.NoError(t, registry.Pause(ctx, expID))

	// New subjects are refused while paused.
	_, err = engine.Assign(ctx, expID, "newcomer", nil)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))

	// Existing subjects keep their variant.
	after, err := engine.Assign(ctx, expID, "veteran", nil)
	require.NoError(t, err)
	assert.Equal(t, before.Assignment.VariantIndex, after.Assignment.VariantIndex)

	require.NoError(t, registry.Resume(ctx, expID))
	require.NoError(t, registry.Stop(ctx, expID))

	after, err = engine.Assign(ctx, expID, "veteran", nil)
	require.NoError(t, err)
	assert.Equal(t, before.Assignment.VariantIndex, after.Assignment.VariantIndex)
}

func TestAssignValidation(t *testing.T) {
	engine, _, _, expID := newHarness(t, []float64{0.5, 0.5})
	ctx := context.Background()

	_, err := engine.Assign(ctx, expID, "", nil)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = engine.Assign(ctx, "missing", "user-1", nil)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

// racingStore makes every CreateAssignment lose the first-time race to a
// concurrent writer that picked a fixed variant.
type racingStore struct {
	*store.Memory
	winner int
}

func (s *racingStore) CreateAssignment(ctx context.Context, a *assign.Assignment) error {
	stolen := *a
	stolen.VariantIndex = s.winner
	if err := s.Memory.CreateAssignment(ctx, &stolen); err != nil {
		return err
	}
	return assign.ErrAssignmentExists
}

func TestAssignLostRaceReturnsWinningRow(t *testing.T) {
	mem := store.NewMemory()
	registry := experiment.NewRegistry(mem, zap.NewNop())
	racing := &racingStore{Memory: mem, winner: 1}
	engine := assign.NewEngine(registry, racing, zap.NewNop())
	ctx := context.Background()

	exp, err := registry.Create(ctx, &experiment.Experiment{
		Name:     "race test",
		Category: experiment.CategoryMessageSubject,
		Variants: []experiment.Variant{
			// Weight 1.0 on variant 0, so the local computation can never
			// pick the winner's variant on its own.
			{Weight: 1.0, Payload: experiment.MessagePayload{Subject: "a"}},
			{Weight: 0.0, Payload: experiment.MessagePayload{Subject: "b"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, registry.Start(ctx, exp.ID))

	p, err := engine.Assign(ctx, exp.ID, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Assignment.VariantIndex, "the persisted row wins the race")
}

func TestAssignClockInjection(t *testing.T) {
	mem := store.NewMemory()
	registry := experiment.NewRegistry(mem, zap.NewNop())
	fixed := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	engine := assign.NewEngine(registry, mem, zap.NewNop(),
		assign.WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	exp, err := registry.Create(ctx, &experiment.Experiment{
		Name:     "clock test",
		Category: experiment.CategoryContent,
		Variants: []experiment.Variant{
			{Weight: 0.5, Payload: experiment.ContentPayload{Body: "a"}},
			{Weight: 0.5, Payload: experiment.ContentPayload{Body: "b"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, registry.Start(ctx, exp.ID))

	p, err := engine.Assign(ctx, exp.ID, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, fixed, p.Assignment.AssignedAt)
}

func TestBucketProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(rt, "variants")
		variants := make([]experiment.Variant, n)
		for i := range variants {
			variants[i] = experiment.Variant{Index: i, Weight: rapid.Float64Range(0, 1).Draw(rt, "w")}
		}
		expID := rapid.StringMatching(`[a-z0-9-]{1,32}`).Draw(rt, "exp")
		subject := rapid.StringMatching(`[a-zA-Z0-9_-]{1,64}`).Draw(rt, "subject")

		idx := assign.Bucket(expID, subject, variants)
		if idx < 0 || idx >= n {
			rt.Fatalf("bucket index %d out of range [0, %d)", idx, n)
		}
		if again := assign.Bucket(expID, subject, variants); again != idx {
			rt.Fatalf("bucket not deterministic: %d then %d", idx, again)
		}
	})
}

func TestBucketZeroWeightVariantNeverChosen(t *testing.T) {
	variants := []experiment.Variant{
		{Index: 0, Weight: 0.0},
		{Index: 1, Weight: 1.0},
	}
	for i := 0; i < 1000; i++ {
		idx := assign.Bucket("exp", fmt.Sprintf("user-%d", i), variants)
		assert.Equal(t, 1, idx)
	}
}
