package stats

import "math"

// ConfidenceInterval is a two-sided interval on a proportion.
type ConfidenceInterval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// ProportionCI returns the normal-approximation confidence interval on
// conversions/samples at the given confidence level (e.g. 0.95), clamped to
// [0, 1]. Zero samples yield the degenerate [0, 0] interval.
func ProportionCI(conversions, samples int, confidence float64) ConfidenceInterval {
	if samples == 0 {
		return ConfidenceInterval{}
	}
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.95
	}

	p := float64(conversions) / float64(samples)
	n := float64(samples)
	z := NormalQuantile(1 - (1-confidence)/2)
	margin := z * math.Sqrt(p*(1-p)/n)

	return ConfidenceInterval{
		Low:  clamp01(p - margin),
		High: clamp01(p + margin),
	}
}
