package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/ledger"
)

// experimentRow is the experiments table. The full definition (variants with
// their tagged payloads, metadata) is serialized as JSON; filterable fields
// are duplicated as columns.
type experimentRow struct {
	ID         string `gorm:"primaryKey;size:36"`
	Name       string `gorm:"size:255;not null"`
	Category   string `gorm:"size:32;index"`
	State      string `gorm:"size:16;index"`
	CreatedAt  time.Time
	Definition string `gorm:"type:text;not null"`
}

func (experimentRow) TableName() string { return "experiments" }

// assignmentRow is the assignments table. The composite unique index is what
// arbitrates concurrent first-time assignment races.
type assignmentRow struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	ExperimentID string `gorm:"size:36;not null;uniqueIndex:idx_experiment_subject,priority:1"`
	SubjectID    string `gorm:"size:128;not null;uniqueIndex:idx_experiment_subject,priority:2"`
	VariantIndex int    `gorm:"not null"`
	AssignedAt   time.Time
	Metadata     string `gorm:"type:text"`
}

func (assignmentRow) TableName() string { return "assignments" }

// conversionRow is the conversions table. Append-only, no uniqueness.
type conversionRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	ExperimentID string `gorm:"size:36;not null;index:idx_conversion_experiment"`
	SubjectID    string `gorm:"size:128;not null"`
	VariantIndex int    `gorm:"not null"`
	Type         string `gorm:"size:64;not null;index:idx_conversion_type"`
	Value        float64
	OccurredAt   time.Time
	Metadata     string `gorm:"type:text"`
}

func (conversionRow) TableName() string { return "conversions" }

// Gorm persists the core's records through GORM. Works against sqlite,
// postgres, and mysql; the composite unique index on assignments must be
// supported by the dialect.
type Gorm struct {
	db     *gorm.DB
	logger *zap.Logger
	run    TxRunner
}

var _ Store = (*Gorm)(nil)

// TxRunner executes fn against the database. The default runner issues the
// statement directly; production wiring passes the pool manager's retrying
// transaction helper so transient write failures are retried.
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// GormOption configures a Gorm store.
type GormOption func(*Gorm)

// WithTxRunner routes all writes through run.
func WithTxRunner(run TxRunner) GormOption {
	return func(g *Gorm) { g.run = run }
}

// NewGorm creates a GORM-backed store and migrates its tables. A nil logger
// falls back to a no-op logger.
func NewGorm(db *gorm.DB, logger *zap.Logger, opts ...GormOption) (*Gorm, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(&experimentRow{}, &assignmentRow{}, &conversionRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	g := &Gorm{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.run == nil {
		g.run = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return fn(g.db.WithContext(ctx))
		}
	}
	return g, nil
}

func encodeExperiment(exp *experiment.Experiment) (experimentRow, error) {
	definition, err := json.Marshal(exp)
	if err != nil {
		return experimentRow{}, fmt.Errorf("failed to encode experiment: %w", err)
	}
	return experimentRow{
		ID:         exp.ID,
		Name:       exp.Name,
		Category:   string(exp.Category),
		State:      string(exp.State),
		CreatedAt:  exp.CreatedAt,
		Definition: string(definition),
	}, nil
}

func decodeExperiment(row experimentRow) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	if err := json.Unmarshal([]byte(row.Definition), &exp); err != nil {
		return nil, fmt.Errorf("failed to decode experiment %s: %w", row.ID, err)
	}
	return &exp, nil
}

// SaveExperiment inserts a new experiment.
func (g *Gorm) SaveExperiment(ctx context.Context, exp *experiment.Experiment) error {
	row, err := encodeExperiment(exp)
	if err != nil {
		return err
	}
	err = g.run(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return experiment.ErrExperimentExists
		}
		return err
	}
	return nil
}

// UpdateExperiment replaces the stored definition of an experiment.
func (g *Gorm) UpdateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	row, err := encodeExperiment(exp)
	if err != nil {
		return err
	}
	return g.run(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&experimentRow{}).
			Where("id = ?", exp.ID).
			Updates(map[string]any{
				"name":       row.Name,
				"category":   row.Category,
				"state":      row.State,
				"definition": row.Definition,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return experiment.ErrExperimentNotFound
		}
		return nil
	})
}

// GetExperiment returns the experiment with the given id.
func (g *Gorm) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	var row experimentRow
	err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, experiment.ErrExperimentNotFound
		}
		return nil, err
	}
	return decodeExperiment(row)
}

// ListExperiments returns all experiments matching the filter, ordered by
// creation time.
func (g *Gorm) ListExperiments(ctx context.Context, filter experiment.Filter) ([]*experiment.Experiment, error) {
	q := g.db.WithContext(ctx).Model(&experimentRow{}).Order("created_at, id")
	if filter.Category != "" {
		q = q.Where("category = ?", string(filter.Category))
	}
	if filter.State != "" {
		q = q.Where("state = ?", string(filter.State))
	}

	var rows []experimentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*experiment.Experiment, 0, len(rows))
	for _, row := range rows {
		exp, err := decodeExperiment(row)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// GetAssignment returns the assignment for the (experiment, subject) pair.
func (g *Gorm) GetAssignment(ctx context.Context, experimentID, subjectID string) (*assign.Assignment, error) {
	var row assignmentRow
	err := g.db.WithContext(ctx).
		First(&row, "experiment_id = ? AND subject_id = ?", experimentID, subjectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, assign.ErrAssignmentNotFound
		}
		return nil, err
	}
	return decodeAssignment(row)
}

// CreateAssignment inserts the assignment. A violation of the composite
// unique index surfaces as assign.ErrAssignmentExists so the engine can
// re-read the winning row.
func (g *Gorm) CreateAssignment(ctx context.Context, a *assign.Assignment) error {
	metadata, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	row := assignmentRow{
		ExperimentID: a.ExperimentID,
		SubjectID:    a.SubjectID,
		VariantIndex: a.VariantIndex,
		AssignedAt:   a.AssignedAt,
		Metadata:     metadata,
	}
	err = g.run(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return assign.ErrAssignmentExists
		}
		return err
	}
	return nil
}

// AppendConversion appends a conversion event.
func (g *Gorm) AppendConversion(ctx context.Context, c *ledger.Conversion) error {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	row := conversionRow{
		ID:           c.ID,
		ExperimentID: c.ExperimentID,
		SubjectID:    c.SubjectID,
		VariantIndex: c.VariantIndex,
		Type:         c.Type,
		Value:        c.Value,
		OccurredAt:   c.OccurredAt,
		Metadata:     metadata,
	}
	return g.run(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
}

// AssignmentCounts returns the number of assignments per variant index.
func (g *Gorm) AssignmentCounts(ctx context.Context, experimentID string) (map[int]int, error) {
	var rows []struct {
		VariantIndex int
		N            int
	}
	err := g.db.WithContext(ctx).Model(&assignmentRow{}).
		Select("variant_index, count(*) as n").
		Where("experiment_id = ?", experimentID).
		Group("variant_index").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int, len(rows))
	for _, r := range rows {
		counts[r.VariantIndex] = r.N
	}
	return counts, nil
}

// ConversionAggregates groups the experiment's conversions by variant and
// type.
func (g *Gorm) ConversionAggregates(ctx context.Context, experimentID string) ([]ledger.Aggregate, error) {
	var rows []struct {
		VariantIndex int
		Type         string
		Count        int
		TotalValue   float64
	}
	err := g.db.WithContext(ctx).Model(&conversionRow{}).
		Select("variant_index, type, count(*) as count, coalesce(sum(value), 0) as total_value").
		Where("experiment_id = ?", experimentID).
		Group("variant_index, type").
		Order("variant_index, type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Aggregate, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledger.Aggregate{
			VariantIndex: r.VariantIndex,
			Type:         r.Type,
			Count:        r.Count,
			TotalValue:   r.TotalValue,
		})
	}
	return out, nil
}

func decodeAssignment(row assignmentRow) (*assign.Assignment, error) {
	metadata, err := decodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}
	return &assign.Assignment{
		ExperimentID: row.ExperimentID,
		SubjectID:    row.SubjectID,
		VariantIndex: row.VariantIndex,
		AssignedAt:   row.AssignedAt,
		Metadata:     metadata,
	}, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

// isDuplicateKey detects unique-constraint violations across the supported
// dialects. GORM's error translation covers the common drivers; the string
// checks catch drivers that don't translate.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
