package stats

import "math"

// BetaPosterior summarizes the Beta-Binomial posterior for one variant.
type BetaPosterior struct {
	VariantID string  `json:"variant_id"`
	Alpha     float64 `json:"alpha"`
	Beta      float64 `json:"beta"`
	Mean      float64 `json:"mean"`
	Variance  float64 `json:"variance"`

	// Approximate 95% credible interval (normal approximation on the Beta,
	// clamped to [0, 1]).
	CredibleLow  float64 `json:"credible_low"`
	CredibleHigh float64 `json:"credible_high"`
}

// BayesianSummary computes the Beta-Binomial posterior per variant. A prior
// parameter outside (0, inf) falls back to the uniform prior Beta(1, 1).
// This is a secondary lens next to the frequentist verdict, not a
// replacement for it.
func BayesianSummary(counts []VariantCount, priorAlpha, priorBeta float64) []BetaPosterior {
	if priorAlpha <= 0 {
		priorAlpha = 1
	}
	if priorBeta <= 0 {
		priorBeta = 1
	}

	out := make([]BetaPosterior, 0, len(counts))
	for _, c := range counts {
		a := priorAlpha + float64(c.Conversions)
		b := priorBeta + float64(c.Samples-c.Conversions)

		mean := a / (a + b)
		variance := a * b / ((a + b) * (a + b) * (a + b + 1))
		sd := math.Sqrt(variance)

		out = append(out, BetaPosterior{
			VariantID:    c.VariantID,
			Alpha:        a,
			Beta:         b,
			Mean:         mean,
			Variance:     variance,
			CredibleLow:  clamp01(mean - 1.959964*sd),
			CredibleHigh: clamp01(mean + 1.959964*sd),
		})
	}
	return out
}
