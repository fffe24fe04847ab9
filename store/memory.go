package store

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/ledger"
)

// Memory is an in-memory store for tests and single-process embedding.
// First-writer-wins semantics for assignments are provided by the mutex.
type Memory struct {
	mu          sync.RWMutex
	experiments map[string]*experiment.Experiment
	assignments map[string]map[string]*assign.Assignment
	conversions map[string][]*ledger.Conversion
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		experiments: make(map[string]*experiment.Experiment),
		assignments: make(map[string]map[string]*assign.Assignment),
		conversions: make(map[string][]*ledger.Conversion),
	}
}

// SaveExperiment inserts a new experiment.
func (m *Memory) SaveExperiment(ctx context.Context, exp *experiment.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.experiments[exp.ID]; ok {
		return experiment.ErrExperimentExists
	}
	m.experiments[exp.ID] = exp.Clone()
	return nil
}

// UpdateExperiment replaces an existing experiment.
func (m *Memory) UpdateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.experiments[exp.ID]; !ok {
		return experiment.ErrExperimentNotFound
	}
	m.experiments[exp.ID] = exp.Clone()
	return nil
}

// GetExperiment returns a copy of the experiment with the given id.
func (m *Memory) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[id]
	if !ok {
		return nil, experiment.ErrExperimentNotFound
	}
	return exp.Clone(), nil
}

// ListExperiments returns copies of all experiments matching the filter,
// ordered by creation time.
func (m *Memory) ListExperiments(ctx context.Context, filter experiment.Filter) ([]*experiment.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*experiment.Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		if filter.Matches(exp) {
			out = append(out, exp.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetAssignment returns the assignment for the (experiment, subject) pair.
func (m *Memory) GetAssignment(ctx context.Context, experimentID, subjectID string) (*assign.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if byExp, ok := m.assignments[experimentID]; ok {
		if a, ok := byExp[subjectID]; ok {
			cp := *a
			return &cp, nil
		}
	}
	return nil, assign.ErrAssignmentNotFound
}

// CreateAssignment inserts the assignment, enforcing the per-pair
// uniqueness constraint.
func (m *Memory) CreateAssignment(ctx context.Context, a *assign.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byExp := m.assignments[a.ExperimentID]
	if byExp == nil {
		byExp = make(map[string]*assign.Assignment)
		m.assignments[a.ExperimentID] = byExp
	}
	if _, ok := byExp[a.SubjectID]; ok {
		return assign.ErrAssignmentExists
	}
	cp := *a
	byExp[a.SubjectID] = &cp
	return nil
}

// AppendConversion appends a conversion event.
func (m *Memory) AppendConversion(ctx context.Context, c *ledger.Conversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.conversions[c.ExperimentID] = append(m.conversions[c.ExperimentID], &cp)
	return nil
}

// AssignmentCounts returns the number of assignments per variant index.
func (m *Memory) AssignmentCounts(ctx context.Context, experimentID string) (map[int]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[int]int)
	for _, a := range m.assignments[experimentID] {
		counts[a.VariantIndex]++
	}
	return counts, nil
}

// ConversionAggregates groups the experiment's conversions by variant and
// type.
func (m *Memory) ConversionAggregates(ctx context.Context, experimentID string) ([]ledger.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct {
		variant int
		typ     string
	}
	buckets := make(map[key]*ledger.Aggregate)
	for _, c := range m.conversions[experimentID] {
		k := key{c.VariantIndex, c.Type}
		agg, ok := buckets[k]
		if !ok {
			agg = &ledger.Aggregate{VariantIndex: c.VariantIndex, Type: c.Type}
			buckets[k] = agg
		}
		agg.Count++
		agg.TotalValue += c.Value
	}

	out := make([]ledger.Aggregate, 0, len(buckets))
	for _, agg := range buckets {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VariantIndex != out[j].VariantIndex {
			return out[i].VariantIndex < out[j].VariantIndex
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}
