package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Store lookup errors shared by all store implementations.
var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrExperimentExists   = errors.New("experiment already exists")
)

// State is the lifecycle state of an experiment.
type State string

const (
	StateDraft     State = "draft"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateArchived  State = "archived"
)

// Category identifies what kind of funnel decision an experiment tests.
// The set is closed: each category carries its own payload type and
// validation rules.
type Category string

const (
	CategoryMessageSubject Category = "message-subject"
	CategoryPricePoint     Category = "price-point"
	CategoryContent        Category = "content"
	CategoryCTA            Category = "cta"
)

// Categories lists all valid categories in a stable order.
func Categories() []Category {
	return []Category{CategoryMessageSubject, CategoryPricePoint, CategoryContent, CategoryCTA}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryMessageSubject, CategoryPricePoint, CategoryContent, CategoryCTA:
		return true
	}
	return false
}

// WeightTolerance is the accepted deviation of the variant weight sum from 1.0.
const WeightTolerance = 0.01

// Defaults applied by the registry when the caller leaves them zero.
const (
	DefaultAlpha     = 0.05
	DefaultMinEffect = 0.1
)

// Payload is the category-specific content of a variant. Implementations are
// a closed set, one per Category.
type Payload interface {
	Category() Category
	Validate() error
}

// MessagePayload is the payload for message-subject experiments.
type MessagePayload struct {
	Subject     string `json:"subject"`
	PreviewText string `json:"preview_text,omitempty"`
}

func (p MessagePayload) Category() Category { return CategoryMessageSubject }

func (p MessagePayload) Validate() error {
	if p.Subject == "" {
		return fmt.Errorf("message-subject variant requires subject text")
	}
	return nil
}

// PricePayload is the payload for price-point experiments. Prices are in
// minor currency units (cents).
type PricePayload struct {
	PriceCents      int     `json:"price_cents"`
	Currency        string  `json:"currency,omitempty"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
}

func (p PricePayload) Category() Category { return CategoryPricePoint }

func (p PricePayload) Validate() error {
	if p.PriceCents <= 0 {
		return fmt.Errorf("price-point variant requires a positive price in cents")
	}
	if p.DiscountPercent < 0 || p.DiscountPercent >= 100 {
		return fmt.Errorf("discount_percent must be in [0, 100)")
	}
	return nil
}

// ContentPayload is the payload for content experiments.
type ContentPayload struct {
	Body   string `json:"body"`
	Format string `json:"format,omitempty"`
}

func (p ContentPayload) Category() Category { return CategoryContent }

func (p ContentPayload) Validate() error {
	if p.Body == "" {
		return fmt.Errorf("content variant requires a body")
	}
	return nil
}

// CTAPayload is the payload for call-to-action experiments.
type CTAPayload struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

func (p CTAPayload) Category() Category { return CategoryCTA }

func (p CTAPayload) Validate() error {
	if p.Label == "" {
		return fmt.Errorf("cta variant requires a label")
	}
	return nil
}

// Variant is one candidate treatment within an experiment, identified by its
// ordinal position. Variants are immutable once the parent experiment leaves
// draft.
type Variant struct {
	Index    int               `json:"index"`
	Weight   float64           `json:"weight"`
	Payload  Payload           `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ID returns the stable variant identifier, "variant_<n>".
func (v Variant) ID() string {
	return fmt.Sprintf("variant_%d", v.Index)
}

// payloadEnvelope carries the category discriminator next to the payload
// fields so the union survives JSON round-trips.
type payloadEnvelope struct {
	Category Category        `json:"category"`
	Fields   json.RawMessage `json:"fields"`
}

type variantJSON struct {
	Index    int               `json:"index"`
	Weight   float64           `json:"weight"`
	Payload  *payloadEnvelope  `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Variant) MarshalJSON() ([]byte, error) {
	out := variantJSON{Index: v.Index, Weight: v.Weight, Metadata: v.Metadata}
	if v.Payload != nil {
		fields, err := json.Marshal(v.Payload)
		if err != nil {
			return nil, err
		}
		out.Payload = &payloadEnvelope{Category: v.Payload.Category(), Fields: fields}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler, decoding the payload into the
// concrete type named by the category discriminator.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var in variantJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	v.Index = in.Index
	v.Weight = in.Weight
	v.Metadata = in.Metadata
	v.Payload = nil

	if in.Payload == nil {
		return nil
	}
	payload, err := decodePayload(in.Payload.Category, in.Payload.Fields)
	if err != nil {
		return err
	}
	v.Payload = payload
	return nil
}

func decodePayload(category Category, fields json.RawMessage) (Payload, error) {
	switch category {
	case CategoryMessageSubject:
		var p MessagePayload
		if err := json.Unmarshal(fields, &p); err != nil {
			return nil, err
		}
		return p, nil
	case CategoryPricePoint:
		var p PricePayload
		if err := json.Unmarshal(fields, &p); err != nil {
			return nil, err
		}
		return p, nil
	case CategoryContent:
		var p ContentPayload
		if err := json.Unmarshal(fields, &p); err != nil {
			return nil, err
		}
		return p, nil
	case CategoryCTA:
		var p CTAPayload
		if err := json.Unmarshal(fields, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payload category %q", category)
	}
}

// Experiment is a named, time-bounded comparison between variants.
type Experiment struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    Category `json:"category"`
	State       State    `json:"state"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// TargetSampleSize is the planned number of assignments. Zero means
	// untargeted: reports then count any traffic as full sample progress.
	TargetSampleSize int     `json:"target_sample_size"`
	Alpha            float64 `json:"alpha"`
	MinEffect        float64 `json:"min_effect"`

	Variants []Variant         `json:"variants"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Variant returns the variant at the given index.
func (e *Experiment) Variant(index int) (Variant, bool) {
	if index < 0 || index >= len(e.Variants) {
		return Variant{}, false
	}
	return e.Variants[index], true
}

// Clone returns a deep copy so callers can hand out experiments without
// exposing shared slices or maps.
func (e *Experiment) Clone() *Experiment {
	cp := *e
	cp.Variants = make([]Variant, len(e.Variants))
	copy(cp.Variants, e.Variants)
	for i := range cp.Variants {
		cp.Variants[i].Metadata = cloneMap(e.Variants[i].Metadata)
	}
	cp.Metadata = cloneMap(e.Metadata)
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// validate checks the data-model invariants for a new experiment definition.
func (e *Experiment) validate() error {
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !e.Category.Valid() {
		return fmt.Errorf("unknown category %q", e.Category)
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("at least 2 variants required, got %d", len(e.Variants))
	}
	if e.TargetSampleSize < 0 {
		return fmt.Errorf("target_sample_size must not be negative")
	}
	if e.Alpha < 0 || e.Alpha >= 1 {
		return fmt.Errorf("alpha must be in [0, 1)")
	}

	var total float64
	for i, v := range e.Variants {
		if v.Weight < 0 {
			return fmt.Errorf("variant %d has negative weight %v", i, v.Weight)
		}
		total += v.Weight

		if v.Payload == nil {
			return fmt.Errorf("variant %d is missing its %s payload", i, e.Category)
		}
		if v.Payload.Category() != e.Category {
			return fmt.Errorf("variant %d payload is %s, experiment is %s",
				i, v.Payload.Category(), e.Category)
		}
		if err := v.Payload.Validate(); err != nil {
			return fmt.Errorf("variant %d: %w", i, err)
		}
	}
	if math.Abs(total-1.0) > WeightTolerance {
		return fmt.Errorf("variant weights sum to %.4f, want 1.0 ± %.2f", total, WeightTolerance)
	}
	return nil
}
