package stats

import "math"

// DefaultPower is the target power used when the caller passes a value
// outside (0, 1).
const DefaultPower = 0.8

// SampleSize returns the required per-variant sample size for detecting a
// minimum relative effect over the baseline conversion rate at the given
// significance level and power, using the classic two-proportion formula.
// Returns 0 for degenerate inputs (baseline outside (0,1), zero effect).
// Deterministic: the same inputs always produce the same output.
func SampleSize(baseline, minRelativeEffect, alpha, power float64) int {
	alpha = normalizeAlpha(alpha)
	if power <= 0 || power >= 1 {
		power = DefaultPower
	}
	if baseline <= 0 || baseline >= 1 || minRelativeEffect == 0 {
		return 0
	}

	p1 := baseline
	p2 := baseline * (1 + minRelativeEffect)
	if p2 <= 0 {
		return 0
	}
	if p2 >= 1 {
		p2 = 1 - 1e-9
	}

	zAlpha := NormalQuantile(1 - alpha/2)
	zBeta := NormalQuantile(power)

	delta := p2 - p1
	variance := p1*(1-p1) + p2*(1-p2)

	n := (zAlpha + zBeta) * (zAlpha + zBeta) * variance / (delta * delta)
	return int(math.Ceil(n))
}
