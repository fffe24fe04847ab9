// Package assign implements deterministic subject-to-variant bucketing.
//
// The same subject must see the same variant across sessions, retries, and
// channels, so assignment is a pure function of (experiment id, subject id)
// over the configured variant weights. The persisted assignment row is the
// source of truth; the hash only decides the first write.
package assign

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/internal/metrics"
	"github.com/BaSui01/splitflow/types"
)

// Store lookup errors shared by all store implementations.
var (
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrAssignmentExists   = errors.New("assignment already exists")
)

// Assignment is the durable, idempotent mapping of one subject to one
// variant. Unique per (experiment, subject); never reassigned.
type Assignment struct {
	ExperimentID string            `json:"experiment_id"`
	SubjectID    string            `json:"subject_id"`
	VariantIndex int               `json:"variant_index"`
	AssignedAt   time.Time         `json:"assigned_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// VariantID returns the stable variant identifier for the assignment.
func (a *Assignment) VariantID() string {
	return experiment.Variant{Index: a.VariantIndex}.ID()
}

// Store persists assignments. CreateAssignment must enforce the
// (experiment_id, subject_id) uniqueness constraint and return
// ErrAssignmentExists when a concurrent writer got there first.
type Store interface {
	GetAssignment(ctx context.Context, experimentID, subjectID string) (*Assignment, error)
	CreateAssignment(ctx context.Context, a *Assignment) error
}

// ExperimentGetter resolves experiment definitions. *experiment.Registry
// satisfies it.
type ExperimentGetter interface {
	Get(ctx context.Context, id string) (*experiment.Experiment, error)
}

// Placement is the result of an assignment: the durable row plus the variant
// configuration the caller should act on.
type Placement struct {
	Assignment *Assignment        `json:"assignment"`
	Variant    experiment.Variant `json:"variant"`
}

// Engine maps subjects to variants. Safe for concurrent use; the store's
// uniqueness constraint arbitrates races.
type Engine struct {
	experiments ExperimentGetter
	store       Store
	collector   *metrics.Collector
	logger      *zap.Logger
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithCollector attaches a metrics collector.
func WithCollector(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.collector = c }
}

// NewEngine creates an assignment engine. A nil logger falls back to a no-op
// logger.
func NewEngine(experiments ExperimentGetter, store Store, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		experiments: experiments,
		store:       store,
		logger:      logger.With(zap.String("component", "assign")),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assign returns the variant for the subject, creating the assignment on
// first contact. Repeated calls for the same pair always return the original
// variant. Fails with a state error if the experiment is not active.
func (e *Engine) Assign(ctx context.Context, experimentID, subjectID string, metadata map[string]string) (*Placement, error) {
	if subjectID == "" {
		return nil, types.NewValidationError("subject_id is required")
	}

	exp, err := e.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	// Existing assignments are honored regardless of lifecycle state, so a
	// subject keeps its variant through pauses and after completion.
	existing, err := e.store.GetAssignment(ctx, experimentID, subjectID)
	if err == nil {
		return e.placement(exp, existing)
	}
	if !errors.Is(err, ErrAssignmentNotFound) {
		return nil, types.NewStorageError(err)
	}

	if exp.State != experiment.StateActive {
		return nil, types.NewStateError("experiment %s is %s, assignment requires active",
			experimentID, exp.State)
	}

	a := &Assignment{
		ExperimentID: experimentID,
		SubjectID:    subjectID,
		VariantIndex: Bucket(experimentID, subjectID, exp.Variants),
		AssignedAt:   e.now(),
		Metadata:     metadata,
	}

	if err := e.store.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, ErrAssignmentExists) {
			// Lost a first-time race: the winning row is authoritative.
			winner, rerr := e.store.GetAssignment(ctx, experimentID, subjectID)
			if rerr != nil {
				return nil, types.NewStorageError(rerr)
			}
			return e.placement(exp, winner)
		}
		return nil, types.NewStorageError(err)
	}

	e.collector.AssignmentRecorded(experimentID, a.VariantID())
	e.logger.Debug("variant assigned",
		zap.String("experiment", experimentID),
		zap.String("subject", subjectID),
		zap.String("variant", a.VariantID()))

	return e.placement(exp, a)
}

func (e *Engine) placement(exp *experiment.Experiment, a *Assignment) (*Placement, error) {
	v, ok := exp.Variant(a.VariantIndex)
	if !ok {
		return nil, types.NewError(types.ErrInternal, "assignment references missing variant").
			WithCause(errors.New(a.VariantID()))
	}
	return &Placement{Assignment: a, Variant: v}, nil
}

// Bucket deterministically maps (experiment, subject) to a variant index by
// hashing the pair and walking cumulative weights. Uniform distribution is
// all that matters here; collisions are harmless.
func Bucket(experimentID, subjectID string, variants []experiment.Variant) int {
	sum := sha256.Sum256([]byte(experimentID + ":" + subjectID))
	u := float64(binary.BigEndian.Uint64(sum[:8])) / float64(^uint64(0))

	var total float64
	for _, v := range variants {
		total += v.Weight
	}

	threshold := u * total
	var cumulative float64
	for i := range variants {
		cumulative += variants[i].Weight
		if threshold < cumulative {
			return i
		}
	}
	// Floating-point drift can leave the threshold above the final
	// cumulative weight; the last variant absorbs it.
	return len(variants) - 1
}
