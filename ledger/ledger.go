// Package ledger is the append-only store of conversion events. Every event
// is attributed to a prior assignment; the variant is always copied from the
// assignment row and never trusted from the caller.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/internal/metrics"
	"github.com/BaSui01/splitflow/types"
)

// Well-known conversion types. The set is open: callers may record any label.
const (
	TypeOpen     = "open"
	TypeClick    = "click"
	TypePurchase = "purchase"
	TypeAbandon  = "abandon"
)

// Conversion is a recorded outcome event. Immutable once written.
type Conversion struct {
	ID           string            `json:"id"`
	ExperimentID string            `json:"experiment_id"`
	SubjectID    string            `json:"subject_id"`
	VariantIndex int               `json:"variant_index"`
	Type         string            `json:"type"`
	Value        float64           `json:"value,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Store persists conversion events and resolves the assignment they attach
// to.
type Store interface {
	GetAssignment(ctx context.Context, experimentID, subjectID string) (*assign.Assignment, error)
	AppendConversion(ctx context.Context, c *Conversion) error
}

// Ledger records conversion events. Safe for concurrent use.
type Ledger struct {
	store     Store
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithCollector attaches a metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(l *Ledger) { l.collector = c }
}

// New creates a conversion ledger. A nil logger falls back to a no-op logger.
func New(store Store, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:  store,
		logger: logger.With(zap.String("component", "ledger")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a conversion event attributed to the subject's assigned
// variant. Fails if the subject was never assigned to the experiment. There
// is no uniqueness constraint: a subject may convert many times (open, then
// click, then purchase), each as a distinct event.
func (l *Ledger) Record(ctx context.Context, experimentID, subjectID, conversionType string, value float64, metadata map[string]string) (*Conversion, error) {
	if conversionType == "" {
		return nil, types.NewValidationError("conversion type is required")
	}

	a, err := l.store.GetAssignment(ctx, experimentID, subjectID)
	if err != nil {
		if errors.Is(err, assign.ErrAssignmentNotFound) {
			return nil, types.NewNotAssignedError(subjectID, experimentID)
		}
		return nil, types.NewStorageError(err)
	}

	c := &Conversion{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		SubjectID:    subjectID,
		VariantIndex: a.VariantIndex,
		Type:         conversionType,
		Value:        value,
		OccurredAt:   l.now(),
		Metadata:     metadata,
	}

	if err := l.store.AppendConversion(ctx, c); err != nil {
		return nil, types.NewStorageError(err)
	}

	l.collector.ConversionRecorded(experimentID, a.VariantID(), conversionType)
	l.logger.Debug("conversion recorded",
		zap.String("experiment", experimentID),
		zap.String("subject", subjectID),
		zap.String("variant", a.VariantID()),
		zap.String("type", conversionType))

	return c, nil
}
