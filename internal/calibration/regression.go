package calibration

import (
	"math"

	"github.com/chromaworks/chromaquant/pkg/models"
)

// degenerateSpreadEps bounds the relative weighted variance of x below
// which the regression is considered undefined.
const degenerateSpreadEps = 1e-12

// MinLevels returns the minimum non-excluded level count for a model type.
func MinLevels(modelType models.ModelType) int {
	if modelType == models.ModelQuadratic {
		return 4
	}
	return 3
}

// Regress fits the configured response model to (x, y) and returns the
// coefficients, the weighted coefficient of determination, and one raw
// residual per point in input order.
//
// The model-type switch is exhaustive over the closed enum; an unknown
// type is a programming error and reported as such.
func Regress(modelType models.ModelType, weighting models.Weighting, xs, ys []float64) (*models.FitResult, error) {
	if len(xs) != len(ys) {
		return nil, inputErr("levels", -1, "mismatched input lengths: %d x vs %d y", len(xs), len(ys))
	}
	if min := MinLevels(modelType); len(xs) < min {
		return nil, &TooFewLevelsError{ModelType: modelType, Required: min, Got: len(xs)}
	}
	if modelType == models.ModelWeightedLinear && weighting == models.WeightNone {
		return nil, inputErr("weighting", -1, "model %s requires inverse_x or inverse_x2 weighting", modelType)
	}

	w, err := pointWeights(weighting, xs)
	if err != nil {
		return nil, err
	}

	var slope, intercept, curvature float64
	switch modelType {
	case models.ModelLinear, models.ModelWeightedLinear:
		slope, intercept, err = fitLinearWeighted(xs, ys, w)
	case models.ModelLinearThroughZero:
		slope, err = fitThroughZero(xs, ys, w)
	case models.ModelQuadratic:
		intercept, slope, curvature, err = fitQuadratic(xs, ys, w)
	default:
		return nil, inputErr("model_type", -1, "unknown model type %q", modelType)
	}
	if err != nil {
		return nil, err
	}

	residuals := make([]float64, len(xs))
	for i := range xs {
		residuals[i] = ys[i] - predict(slope, intercept, curvature, xs[i])
	}

	return &models.FitResult{
		Slope:     slope,
		Intercept: intercept,
		Curvature: curvature,
		R2:        weightedR2(ys, residuals, w),
		ModelType: modelType,
		Weighting: weighting,
		Residuals: residuals,
	}, nil
}

func predict(slope, intercept, curvature, x float64) float64 {
	return intercept + slope*x + curvature*x*x
}

// pointWeights computes per-point weights. Amounts are validated > 0
// before fitting, so the inverse weights are always finite.
func pointWeights(weighting models.Weighting, xs []float64) ([]float64, error) {
	w := make([]float64, len(xs))
	for i, x := range xs {
		switch weighting {
		case models.WeightNone, "":
			w[i] = 1
		case models.WeightInverseX:
			if x <= 0 {
				return nil, inputErr("amount", i, "weighting %s requires amount > 0, got %g", weighting, x)
			}
			w[i] = 1 / x
		case models.WeightInverseX2:
			if x <= 0 {
				return nil, inputErr("amount", i, "weighting %s requires amount > 0, got %g", weighting, x)
			}
			w[i] = 1 / (x * x)
		default:
			return nil, inputErr("weighting", -1, "unknown weighting %q", weighting)
		}
	}
	return w, nil
}

// fitLinearWeighted solves the weighted least-squares line y = a + b*x.
func fitLinearWeighted(xs, ys, w []float64) (slope, intercept float64, err error) {
	var sw, swx, swy, swxx, swxy float64
	for i := range xs {
		sw += w[i]
		swx += w[i] * xs[i]
		swy += w[i] * ys[i]
		swxx += w[i] * xs[i] * xs[i]
		swxy += w[i] * xs[i] * ys[i]
	}

	// Centered spread of x; zero means all concentrations coincide.
	sxx := swxx - swx*swx/sw
	if sxx <= degenerateSpreadEps*math.Max(1, swxx) {
		return 0, 0, &DegenerateDataError{Reason: "zero concentration spread, all amounts identical"}
	}

	slope = (swxy - swx*swy/sw) / sxx
	intercept = (swy - slope*swx) / sw
	return slope, intercept, nil
}

// fitThroughZero solves least squares for y = b*x with the intercept
// constrained to exactly zero: b = Σw·x·y / Σw·x².
func fitThroughZero(xs, ys, w []float64) (float64, error) {
	var swxx, swxy float64
	for i := range xs {
		swxx += w[i] * xs[i] * xs[i]
		swxy += w[i] * xs[i] * ys[i]
	}
	if swxx <= degenerateSpreadEps {
		return 0, &DegenerateDataError{Reason: "zero concentration spread"}
	}
	return swxy / swxx, nil
}

// fitQuadratic solves the weighted normal equations for y = a + b*x + c*x²
// by Gaussian elimination with partial pivoting.
func fitQuadratic(xs, ys, w []float64) (a, b, c float64, err error) {
	var sw, swx, swx2, swx3, swx4, swy, swxy, swx2y float64
	for i := range xs {
		x := xs[i]
		x2 := x * x
		sw += w[i]
		swx += w[i] * x
		swx2 += w[i] * x2
		swx3 += w[i] * x2 * x
		swx4 += w[i] * x2 * x2
		swy += w[i] * ys[i]
		swxy += w[i] * x * ys[i]
		swx2y += w[i] * x2 * ys[i]
	}

	sxx := swx2 - swx*swx/sw
	if sxx <= degenerateSpreadEps*math.Max(1, swx2) {
		return 0, 0, 0, &DegenerateDataError{Reason: "zero concentration spread, all amounts identical"}
	}

	m := [3][4]float64{
		{sw, swx, swx2, swy},
		{swx, swx2, swx3, swxy},
		{swx2, swx3, swx4, swx2y},
	}
	sol, ok := solve3(m)
	if !ok {
		return 0, 0, 0, &DegenerateDataError{Reason: "singular normal matrix for quadratic fit"}
	}
	return sol[0], sol[1], sol[2], nil
}

// solve3 solves a 3x3 augmented linear system with partial pivoting.
func solve3(aug [3][4]float64) ([3]float64, bool) {
	var x [3]float64
	for col := 0; col < 3; col++ {
		pivot := col
		maxAbs := math.Abs(aug[col][col])
		for r := col + 1; r < 3; r++ {
			if math.Abs(aug[r][col]) > maxAbs {
				maxAbs = math.Abs(aug[r][col])
				pivot = r
			}
		}
		if maxAbs == 0 {
			return x, false
		}
		if pivot != col {
			aug[col], aug[pivot] = aug[pivot], aug[col]
		}
		for r := col + 1; r < 3; r++ {
			factor := aug[r][col] / aug[col][col]
			for c := col; c < 4; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}
	for i := 2; i >= 0; i-- {
		if aug[i][i] == 0 {
			return x, false
		}
		sum := aug[i][3]
		for j := i + 1; j < 3; j++ {
			sum -= aug[i][j] * x[j]
		}
		x[i] = sum / aug[i][i]
	}
	return x, true
}

// weightedR2 computes 1 - SS_res/SS_tot over the weighted residuals,
// clamped to [0, 1]. A through-zero fit on poorly centered data can push
// the raw value below zero.
func weightedR2(ys, residuals, w []float64) float64 {
	var sw, swy float64
	for i := range ys {
		sw += w[i]
		swy += w[i] * ys[i]
	}
	meanY := swy / sw

	var ssTot, ssRes float64
	for i := range ys {
		d := ys[i] - meanY
		ssTot += w[i] * d * d
		ssRes += w[i] * residuals[i] * residuals[i]
	}
	if ssTot == 0 {
		return 0
	}
	r2 := 1 - ssRes/ssTot
	if r2 < 0 {
		return 0
	}
	if r2 > 1 {
		return 1
	}
	return r2
}
