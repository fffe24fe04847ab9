package stats

import "math"

// MultiProportion runs a chi-square test of homogeneity across three or more
// variants against the pooled overall conversion rate. Two variants are
// delegated to the z-test. Effect size is reported as Cramér's V.
func MultiProportion(counts []VariantCount, alpha float64) Result {
	alpha = normalizeAlpha(alpha)

	if len(counts) < 2 {
		return neutral(MethodChiSquare, alpha)
	}
	if len(counts) == 2 {
		return TwoProportion(counts[0], counts[1], alpha)
	}

	var totalConversions, totalSamples int
	for _, c := range counts {
		totalConversions += c.Conversions
		totalSamples += c.Samples
	}
	if totalSamples == 0 {
		return neutral(MethodChiSquare, alpha)
	}

	pooled := float64(totalConversions) / float64(totalSamples)
	if pooled == 0 || pooled == 1 {
		// Zero variance: every variant converted never or always.
		return neutral(MethodChiSquare, alpha)
	}

	// 2xk contingency: converted / not-converted cells per variant.
	var chi2 float64
	for _, c := range counts {
		if c.Samples == 0 {
			continue
		}
		n := float64(c.Samples)
		expConv := n * pooled
		expMiss := n * (1 - pooled)
		dConv := float64(c.Conversions) - expConv
		dMiss := float64(c.Samples-c.Conversions) - expMiss
		chi2 += dConv * dConv / expConv
		chi2 += dMiss * dMiss / expMiss
	}

	df := len(counts) - 1
	pValue := 1 - ChiSquareCDF(chi2, df)
	if pValue < 0 {
		pValue = 0
	}

	// Cramér's V for a 2xk table: min(rows-1, cols-1) = 1.
	v := math.Sqrt(chi2 / float64(totalSamples))

	res := Result{
		Method:      MethodChiSquare,
		Alpha:       alpha,
		PValue:      pValue,
		Confidence:  1 - pValue,
		Significant: pValue < alpha,
		EffectSize:  v,
		Power:       estimatePower(math.Sqrt(chi2), alpha),
		Diagnostics: map[string]float64{
			"chi2":     chi2,
			"df":       float64(df),
			"pooled_p": pooled,
		},
	}

	if res.Significant {
		best := counts[0]
		for _, c := range counts[1:] {
			if c.Rate() > best.Rate() {
				best = c
			}
		}
		res.WinnerID = best.VariantID
	}
	return res
}
