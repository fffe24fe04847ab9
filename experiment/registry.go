package experiment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/types"
)

// Store persists experiment definitions. Implementations must treat the
// (SaveExperiment, UpdateExperiment) split as insert vs. full replace and
// return ErrExperimentNotFound / ErrExperimentExists for lookup failures.
type Store interface {
	SaveExperiment(ctx context.Context, exp *Experiment) error
	UpdateExperiment(ctx context.Context, exp *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context, filter Filter) ([]*Experiment, error)
}

// Filter narrows ListExperiments. Zero values match everything.
type Filter struct {
	Category Category
	State    State
}

// Matches reports whether exp satisfies the filter.
func (f Filter) Matches(exp *Experiment) bool {
	if f.Category != "" && exp.Category != f.Category {
		return false
	}
	if f.State != "" && exp.State != f.State {
		return false
	}
	return true
}

// Registry owns experiment definitions and their lifecycle state machine.
// Only the registry mutates lifecycle state; variants are read-only once an
// experiment leaves draft.
type Registry struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an experiment registry. A nil logger falls back to a
// no-op logger.
func NewRegistry(store Store, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:  store,
		logger: logger.With(zap.String("component", "registry")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates the definition and persists a new draft experiment.
// Caller-supplied id, state, and timestamps are overridden.
func (r *Registry) Create(ctx context.Context, exp *Experiment) (*Experiment, error) {
	if exp == nil {
		return nil, types.NewValidationError("experiment definition is required")
	}

	def := exp.Clone()
	if def.Alpha == 0 {
		def.Alpha = DefaultAlpha
	}
	if def.MinEffect == 0 {
		def.MinEffect = DefaultMinEffect
	}
	for i := range def.Variants {
		def.Variants[i].Index = i
	}

	if err := def.validate(); err != nil {
		return nil, types.NewValidationError("%v", err)
	}

	def.ID = uuid.NewString()
	def.State = StateDraft
	def.CreatedAt = r.now()
	def.StartedAt = nil
	def.EndedAt = nil

	if err := r.store.SaveExperiment(ctx, def); err != nil {
		return nil, types.NewStorageError(err)
	}

	r.logger.Info("experiment created",
		zap.String("id", def.ID),
		zap.String("name", def.Name),
		zap.String("category", string(def.Category)),
		zap.Int("variants", len(def.Variants)))

	return def.Clone(), nil
}

// Start transitions a draft experiment to active and stamps the real start
// time, overriding any caller-supplied value.
func (r *Registry) Start(ctx context.Context, id string) error {
	return r.transition(ctx, id, StateDraft, StateActive, func(exp *Experiment) {
		t := r.now()
		exp.StartedAt = &t
	})
}

// Stop transitions an active experiment to completed and stamps the end time.
func (r *Registry) Stop(ctx context.Context, id string) error {
	return r.transition(ctx, id, StateActive, StateCompleted, func(exp *Experiment) {
		t := r.now()
		exp.EndedAt = &t
	})
}

// Pause suspends an active experiment. Assignment is refused while paused.
func (r *Registry) Pause(ctx context.Context, id string) error {
	return r.transition(ctx, id, StateActive, StatePaused, nil)
}

// Resume reactivates a paused experiment.
func (r *Registry) Resume(ctx context.Context, id string) error {
	return r.transition(ctx, id, StatePaused, StateActive, nil)
}

// Archive moves a completed experiment to the terminal archived state.
// Archived experiments remain readable for historical reporting.
func (r *Registry) Archive(ctx context.Context, id string) error {
	return r.transition(ctx, id, StateCompleted, StateArchived, nil)
}

func (r *Registry) transition(ctx context.Context, id string, from, to State, stamp func(*Experiment)) error {
	exp, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if exp.State != from {
		return types.NewStateError("cannot move experiment %s from %s to %s (requires %s)",
			id, exp.State, to, from)
	}

	exp.State = to
	if stamp != nil {
		stamp(exp)
	}

	if err := r.store.UpdateExperiment(ctx, exp); err != nil {
		return types.NewStorageError(err)
	}

	r.logger.Info("experiment state changed",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// Get returns a copy of the experiment with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Experiment, error) {
	exp, err := r.store.GetExperiment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrExperimentNotFound) {
			return nil, types.NewNotFoundError(id)
		}
		return nil, types.NewStorageError(err)
	}
	return exp, nil
}

// List returns all experiments matching the filter.
func (r *Registry) List(ctx context.Context, filter Filter) ([]*Experiment, error) {
	exps, err := r.store.ListExperiments(ctx, filter)
	if err != nil {
		return nil, types.NewStorageError(err)
	}
	return exps, nil
}
