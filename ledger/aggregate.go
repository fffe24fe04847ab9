package ledger

// Aggregate is one (variant, conversion type) bucket of the ledger, as
// produced by store-side grouping.
type Aggregate struct {
	VariantIndex int     `json:"variant_index"`
	Type         string  `json:"type"`
	Count        int     `json:"count"`
	TotalValue   float64 `json:"total_value"`
}
