// Package stats is the pure statistical engine of the experimentation core:
// hypothesis tests over conversion counts, sample-size planning, and a
// Bayesian posterior lens. No state, no I/O.
//
// Numeric semantics: every returned p-value, effect size, and power estimate
// is finite. Degenerate inputs (zero samples, zero variance, identical
// rates) collapse to the neutral result p=1, effect=0, power=0 rather than
// NaN or an error.
package stats

import "math"

// Test method identifiers recorded on results.
const (
	MethodTwoProportionZ = "two_proportion_z"
	MethodChiSquare      = "chi_square"
)

// DefaultAlpha is the significance threshold used when the caller passes a
// value outside (0, 1).
const DefaultAlpha = 0.05

// VariantCount is the per-variant input tuple for all tests.
type VariantCount struct {
	VariantID   string `json:"variant_id"`
	Conversions int    `json:"conversions"`
	Samples     int    `json:"samples"`
}

// Rate returns conversions/samples, or 0 when there are no samples.
func (v VariantCount) Rate() float64 {
	if v.Samples == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Samples)
}

// Result is the verdict of a hypothesis test.
type Result struct {
	Method      string  `json:"method"`
	Alpha       float64 `json:"alpha"`
	PValue      float64 `json:"p_value"`
	Confidence  float64 `json:"confidence"`
	Significant bool    `json:"significant"`

	// EffectSize is the relative lift of the leader over the baseline for
	// two-variant tests, Cramér's V for multi-variant tests.
	EffectSize float64 `json:"effect_size"`
	Power      float64 `json:"power"`

	// RequiredSampleSize is filled by callers that know the experiment's
	// minimum detectable effect; zero means not computed.
	RequiredSampleSize int `json:"required_sample_size,omitempty"`

	// WinnerID is the leading variant, reported only when significant.
	WinnerID string `json:"winner_id,omitempty"`

	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
}

// neutral is the safe result for degenerate inputs.
func neutral(method string, alpha float64) Result {
	return Result{
		Method:      method,
		Alpha:       alpha,
		PValue:      1.0,
		Confidence:  0.0,
		Significant: false,
		EffectSize:  0.0,
		Power:       0.0,
	}
}

func normalizeAlpha(alpha float64) float64 {
	if alpha <= 0 || alpha >= 1 {
		return DefaultAlpha
	}
	return alpha
}

// TwoProportion runs a two-proportion z-test of treatment against control.
//
// The p-value is the one-sided probability that the observed leader does not
// actually beat the other variant, matching how conversion tools report
// confidence; identical rates are treated as degenerate and yield p=1.
func TwoProportion(control, treatment VariantCount, alpha float64) Result {
	alpha = normalizeAlpha(alpha)

	if control.Samples == 0 || treatment.Samples == 0 {
		return neutral(MethodTwoProportionZ, alpha)
	}

	p1 := control.Rate()
	p2 := treatment.Rate()
	n1 := float64(control.Samples)
	n2 := float64(treatment.Samples)

	pooled := float64(control.Conversions+treatment.Conversions) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	if se == 0 || p1 == p2 {
		res := neutral(MethodTwoProportionZ, alpha)
		res.Diagnostics = map[string]float64{"pooled_p": pooled, "z": 0, "se": se}
		return res
	}

	z := (p2 - p1) / se
	confidence := NormalCDF(math.Abs(z))
	pValue := 1 - confidence

	var effect float64
	if p1 > 0 {
		effect = (p2 - p1) / p1
	}

	res := Result{
		Method:      MethodTwoProportionZ,
		Alpha:       alpha,
		PValue:      pValue,
		Confidence:  confidence,
		Significant: pValue < alpha,
		EffectSize:  effect,
		Power:       estimatePower(math.Abs(z), alpha),
		Diagnostics: map[string]float64{"pooled_p": pooled, "z": z, "se": se},
	}

	if res.Significant {
		if p2 > p1 {
			res.WinnerID = treatment.VariantID
		} else {
			res.WinnerID = control.VariantID
		}
	}
	return res
}

// estimatePower approximates achieved power from the observed z statistic
// using the non-central normal approximation. The critical value is
// one-sided, matching the p-value convention of the tests above.
func estimatePower(absZ, alpha float64) float64 {
	power := NormalCDF(absZ - NormalQuantile(1-alpha))
	return clamp01(power)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
