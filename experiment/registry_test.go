package experiment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/types"
)

// fakeStore is a minimal in-memory Store for registry tests.
type fakeStore struct {
	mu          sync.Mutex
	experiments map[string]*Experiment
}

func newFakeStore() *fakeStore {
	return &fakeStore{experiments: make(map[string]*Experiment)}
}

func (s *fakeStore) SaveExperiment(_ context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; ok {
		return ErrExperimentExists
	}
	s.experiments[exp.ID] = exp.Clone()
	return nil
}

func (s *fakeStore) UpdateExperiment(_ context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; !ok {
		return ErrExperimentNotFound
	}
	s.experiments[exp.ID] = exp.Clone()
	return nil
}

func (s *fakeStore) GetExperiment(_ context.Context, id string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	return exp.Clone(), nil
}

func (s *fakeStore) ListExperiments(_ context.Context, filter Filter) ([]*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Experiment
	for _, exp := range s.experiments {
		if filter.Matches(exp) {
			out = append(out, exp.Clone())
		}
	}
	return out, nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	return NewRegistry(st, zap.NewNop()), st
}

func TestCreateAssignsIdentityAndDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)

	def := validDefinition()
	def.ID = "caller-chosen"
	def.State = StateActive
	def.Alpha = 0
	def.MinEffect = 0

	created, err := reg.Create(context.Background(), def)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.NotEqual(t, "caller-chosen", created.ID)
	assert.Equal(t, StateDraft, created.State)
	assert.Equal(t, DefaultAlpha, created.Alpha)
	assert.Equal(t, DefaultMinEffect, created.MinEffect)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Nil(t, created.StartedAt)

	// The caller's definition is untouched.
	assert.Equal(t, "caller-chosen", def.ID)
}

func TestCreateReindexesVariants(t *testing.T) {
	reg, _ := newTestRegistry(t)

	def := validDefinition()
	def.Variants[0].Index = 7
	def.Variants[1].Index = 7

	created, err := reg.Create(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, 0, created.Variants[0].Index)
	assert.Equal(t, 1, created.Variants[1].Index)
}

func TestCreateRejectsInvalidDefinition(t *testing.T) {
	reg, _ := newTestRegistry(t)

	def := validDefinition()
	def.Variants = def.Variants[:1]

	_, err := reg.Create(context.Background(), def)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = reg.Create(context.Background(), nil)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestLifecycleHappyPath(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, validDefinition())
	require.NoError(t, err)
	id := created.ID

	require.NoError(t, reg.Start(ctx, id))
	exp, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateActive, exp.State)
	require.NotNil(t, exp.StartedAt)

	require.NoError(t, reg.Pause(ctx, id))
	require.NoError(t, reg.Resume(ctx, id))
	require.NoError(t, reg.Stop(ctx, id))

	exp, err = reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, exp.State)
	require.NotNil(t, exp.EndedAt)
	assert.False(t, exp.EndedAt.Before(*exp.StartedAt))

	require.NoError(t, reg.Archive(ctx, id))
	exp, err = reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateArchived, exp.State)
}

func TestIllegalTransitions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, validDefinition())
	require.NoError(t, err)
	id := created.ID

	// Draft can only start.
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Stop(ctx, id)))
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Pause(ctx, id)))
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Archive(ctx, id)))

	require.NoError(t, reg.Start(ctx, id))
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Start(ctx, id)))
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Resume(ctx, id)))

	require.NoError(t, reg.Stop(ctx, id))
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Start(ctx, id)))
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Resume(ctx, id)))

	require.NoError(t, reg.Archive(ctx, id))
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(reg.Archive(ctx, id)))
}

func TestGetUnknownIsNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Get(context.Background(), "nope")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(reg.Start(context.Background(), "nope")))
}

func TestListFilters(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	subject, err := reg.Create(ctx, validDefinition())
	require.NoError(t, err)
	require.NoError(t, reg.Start(ctx, subject.ID))

	cta := validDefinition()
	cta.Category = CategoryCTA
	cta.Variants = []Variant{
		{Weight: 0.5, Payload: CTAPayload{Label: "Buy"}},
		{Weight: 0.5, Payload: CTAPayload{Label: "Try"}},
	}
	_, err = reg.Create(ctx, cta)
	require.NoError(t, err)

	all, err := reg.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := reg.List(ctx, Filter{State: StateActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, subject.ID, active[0].ID)

	ctas, err := reg.List(ctx, Filter{Category: CategoryCTA})
	require.NoError(t, err)
	require.Len(t, ctas, 1)
	assert.Equal(t, StateDraft, ctas[0].State)
}

func TestClockInjection(t *testing.T) {
	st := newFakeStore()
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(st, zap.NewNop(), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	created, err := reg.Create(ctx, validDefinition())
	require.NoError(t, err)
	assert.Equal(t, fixed, created.CreatedAt)

	require.NoError(t, reg.Start(ctx, created.ID))
	exp, err := reg.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed, *exp.StartedAt)
}
