package calibration

import (
	"fmt"
	"math"
	"sort"

	"github.com/chromaworks/chromaquant/pkg/models"
)

const (
	grubbsAlpha   = 0.05
	iqrMultiplier = 1.5
)

// applyOutlierFilter screens regression residuals under the configured
// policy and marks offending levels excluded in place. It never excludes
// below the model's minimum level count; points it could not remove are
// reported as warnings instead. The caller refits on the survivors.
func applyOutlierFilter(policy models.OutlierPolicy, modelType models.ModelType, weighting models.Weighting, levels []models.Level, responses []float64) ([]string, error) {
	switch policy {
	case models.OutlierNone, "":
		return nil, nil
	case models.OutlierGrubbs:
		return grubbsFilter(modelType, weighting, levels, responses)
	case models.OutlierIQR:
		return iqrFilter(modelType, levels, responses)
	default:
		return nil, inputErr("outlier_policy", -1, "unknown outlier policy %q", policy)
	}
}

// grubbsFilter iteratively applies the two-sided Grubbs test to the
// residuals of the configured fit, removing at most one point per pass.
func grubbsFilter(modelType models.ModelType, weighting models.Weighting, levels []models.Level, responses []float64) ([]string, error) {
	var warnings []string
	minPts := MinLevels(modelType)

	for {
		idx := activeIndices(levels)
		n := len(idx)
		if n < minPts {
			return warnings, &TooFewLevelsError{ModelType: modelType, Required: minPts, Got: n}
		}

		xs, ys := gatherXY(levels, responses, idx)
		fit, err := Regress(modelType, weighting, xs, ys)
		if err != nil {
			return warnings, err
		}

		mean := meanOf(fit.Residuals)
		sd := sampleSD(fit.Residuals, mean)
		if sd == 0 {
			return warnings, nil
		}

		worst := 0
		maxDev := math.Abs(fit.Residuals[0] - mean)
		for i, r := range fit.Residuals {
			if dev := math.Abs(r - mean); dev > maxDev {
				maxDev = dev
				worst = i
			}
		}

		g := maxDev / sd
		crit := grubbsCritical(n)
		if g <= crit {
			return warnings, nil
		}
		if n-1 < minPts {
			warnings = append(warnings, fmt.Sprintf(
				"grubbs: level %d exceeds the critical value (G=%.4f > %.4f, n=%d) but exclusion would drop below the minimum of %d levels",
				idx[worst], g, crit, n, minPts))
			return warnings, nil
		}

		levels[idx[worst]].Excluded = true
	}
}

// iqrFilter fences residuals of a single unweighted fit at
// [Q1-1.5*IQR, Q3+1.5*IQR] in one non-iterative pass.
func iqrFilter(modelType models.ModelType, levels []models.Level, responses []float64) ([]string, error) {
	var warnings []string
	minPts := MinLevels(modelType)

	idx := activeIndices(levels)
	n := len(idx)
	if n < minPts {
		return warnings, &TooFewLevelsError{ModelType: modelType, Required: minPts, Got: n}
	}

	// Screening fit is always plain OLS; the weighted model type still
	// uses an unweighted fit here.
	screenType := modelType
	if screenType == models.ModelWeightedLinear {
		screenType = models.ModelLinear
	}
	xs, ys := gatherXY(levels, responses, idx)
	fit, err := Regress(screenType, models.WeightNone, xs, ys)
	if err != nil {
		return warnings, err
	}

	sorted := append([]float64(nil), fit.Residuals...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - iqrMultiplier*iqr
	hi := q3 + iqrMultiplier*iqr

	type offender struct {
		level    int
		distance float64
	}
	var offenders []offender
	for i, r := range fit.Residuals {
		switch {
		case r < lo:
			offenders = append(offenders, offender{level: idx[i], distance: lo - r})
		case r > hi:
			offenders = append(offenders, offender{level: idx[i], distance: r - hi})
		}
	}
	sort.Slice(offenders, func(a, b int) bool { return offenders[a].distance > offenders[b].distance })

	allowed := n - minPts
	for i, off := range offenders {
		if i < allowed {
			levels[off.level].Excluded = true
			continue
		}
		warnings = append(warnings, fmt.Sprintf(
			"iqr: level %d falls outside [%.4g, %.4g] but exclusion would drop below the minimum of %d levels",
			off.level, lo, hi, minPts))
	}
	return warnings, nil
}

// activeIndices returns the indices of non-excluded levels.
func activeIndices(levels []models.Level) []int {
	idx := make([]int, 0, len(levels))
	for i := range levels {
		if !levels[i].Excluded {
			idx = append(idx, i)
		}
	}
	return idx
}

func gatherXY(levels []models.Level, responses []float64, idx []int) (xs, ys []float64) {
	xs = make([]float64, len(idx))
	ys = make([]float64, len(idx))
	for i, j := range idx {
		xs[i] = levels[j].Amount
		ys[i] = responses[j]
	}
	return xs, ys
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// sampleSD is the n-1 standard deviation used by the Grubbs statistic.
func sampleSD(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

// quantile interpolates linearly between order statistics (the same
// convention as numpy's default), over an already sorted slice.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	h := q * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// grubbsCriticalTable holds two-sided critical values at alpha = 0.05
// for n = 3..30 (Grubbs & Beck 1972, as tabulated in ASTM E178).
var grubbsCriticalTable = []float64{
	1.1543, 1.4812, 1.7150, 1.8871, 2.0200, 2.1266, 2.2150, 2.2900,
	2.3547, 2.4116, 2.4620, 2.5073, 2.5483, 2.5857, 2.6200, 2.6516,
	2.6809, 2.7082, 2.7336, 2.7573, 2.7795, 2.8004, 2.8201, 2.8385,
	2.8560, 2.8726, 2.8882, 2.9031,
}

// grubbsCritical returns the two-sided critical value at alpha = 0.05.
// Beyond the tabulated range it is derived from the Student-t quantile:
// G = ((n-1)/sqrt(n)) * sqrt(t² / (n-2+t²)) with t at p = alpha/(2n),
// df = n-2.
func grubbsCritical(n int) float64 {
	if n < 3 {
		return math.Inf(1)
	}
	if n-3 < len(grubbsCriticalTable) {
		return grubbsCriticalTable[n-3]
	}
	df := float64(n - 2)
	t := tUpperQuantile(grubbsAlpha/(2*float64(n)), df)
	return (float64(n-1) / math.Sqrt(float64(n))) * math.Sqrt(t*t/(df+t*t))
}

// tUpperQuantile approximates the upper-tail Student-t quantile via the
// normal quantile plus a Cornish-Fisher correction. Only used for
// df >= 29, where the expansion error is negligible against the table.
func tUpperQuantile(p, df float64) float64 {
	z := normUpperQuantile(p)
	z3 := z * z * z
	z5 := z3 * z * z
	g1 := (z3 + z) / 4
	g2 := (5*z5 + 16*z3 + 3*z) / 96
	return z + g1/df + g2/(df*df)
}

// normUpperQuantile computes the upper-tail standard normal quantile
// using Acklam's rational approximation.
func normUpperQuantile(p float64) float64 {
	// Acklam works on the lower-tail probability.
	return -acklamInverseNormal(p)
}

func acklamInverseNormal(p float64) float64 {
	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const pLow = 0.02425
	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p <= 1-pLow:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	default:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}
}
