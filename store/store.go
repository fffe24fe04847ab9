// Package store provides the persistence backends of the experimentation
// core: a process-local in-memory store for tests and embedding, and a GORM
// store for shared databases (sqlite, postgres, mysql).
//
// Every backend implements the narrow per-component interfaces declared by
// the consumers (experiment.Store, assign.Store, ledger.Store,
// report.Store), so components stay swappable and testable in isolation.
// The store is the source of truth: no in-process cache of assignments is
// authoritative.
package store

import (
	"context"

	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/ledger"
)

// Store is the full persistence surface required by the core. It exists for
// wiring convenience; components depend only on their own slice of it.
type Store interface {
	// Experiments
	SaveExperiment(ctx context.Context, exp *experiment.Experiment) error
	UpdateExperiment(ctx context.Context, exp *experiment.Experiment) error
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)
	ListExperiments(ctx context.Context, filter experiment.Filter) ([]*experiment.Experiment, error)

	// Assignments
	GetAssignment(ctx context.Context, experimentID, subjectID string) (*assign.Assignment, error)
	CreateAssignment(ctx context.Context, a *assign.Assignment) error

	// Conversions
	AppendConversion(ctx context.Context, c *ledger.Conversion) error

	// Aggregation
	AssignmentCounts(ctx context.Context, experimentID string) (map[int]int, error)
	ConversionAggregates(ctx context.Context, experimentID string) ([]ledger.Aggregate, error)
}
