package calibration

import (
	"testing"

	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateLimitsBlankReplicates(t *testing.T) {
	fit := &models.FitResult{Slope: 150.0, Intercept: 0}
	in := LimitInputs{BlankResponses: []float64{1.0, 1.2, 0.9}}

	limits, err := EstimateLimits(models.LimitBlankReplicates, in, fit, 0, 0)
	require.NoError(t, err)

	// mean 1.0333, sample SD 0.15275
	assert.InDelta(t, 0.009944, limits.LOD, 1e-5)
	assert.InDelta(t, 0.017072, limits.LOQ, 1e-5)
	assert.Equal(t, models.LimitBlankReplicates, limits.Method)
	assert.Equal(t, 3.0, limits.KLOD)
	assert.Equal(t, 10.0, limits.KLOQ)
}

func TestEstimateLimitsBlankSubtractsIntercept(t *testing.T) {
	fit := &models.FitResult{Slope: 100.0, Intercept: 1.0}
	in := LimitInputs{BlankResponses: []float64{1.0, 1.0, 1.0}}

	limits, err := EstimateLimits(models.LimitBlankReplicates, in, fit, 0, 0)
	require.NoError(t, err)

	// All blanks equal the intercept and the SD is zero, so both limits
	// collapse to zero concentration.
	assert.InDelta(t, 0.0, limits.LOD, 1e-12)
	assert.InDelta(t, 0.0, limits.LOQ, 1e-12)
}

func TestEstimateLimitsBaselineNoise(t *testing.T) {
	fit := &models.FitResult{Slope: 100.0, Intercept: 5.0}
	sd := 2.0
	in := LimitInputs{NoiseSD: &sd}

	limits, err := EstimateLimits(models.LimitBaselineNoise, in, fit, 0, 0)
	require.NoError(t, err)

	// Baseline noise ignores the intercept: 3σ/slope and 10σ/slope.
	assert.InDelta(t, 0.06, limits.LOD, 1e-12)
	assert.InDelta(t, 0.2, limits.LOQ, 1e-12)
}

func TestEstimateLimitsCustomMultipliers(t *testing.T) {
	fit := &models.FitResult{Slope: 10.0}
	sd := 1.0
	in := LimitInputs{NoiseSD: &sd}

	limits, err := EstimateLimits(models.LimitBaselineNoise, in, fit, 3.3, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.33, limits.LOD, 1e-12)
	assert.Equal(t, 3.3, limits.KLOD)
}

func TestEstimateLimitsErrors(t *testing.T) {
	sd := 2.0
	negSD := -1.0
	tests := []struct {
		name   string
		method models.LimitMethod
		in     LimitInputs
		fit    *models.FitResult
	}{
		{"too few blanks", models.LimitBlankReplicates, LimitInputs{BlankResponses: []float64{1.0}}, &models.FitResult{Slope: 100}},
		{"missing noise sd", models.LimitBaselineNoise, LimitInputs{}, &models.FitResult{Slope: 100}},
		{"negative noise sd", models.LimitBaselineNoise, LimitInputs{NoiseSD: &negSD}, &models.FitResult{Slope: 100}},
		{"zero slope", models.LimitBaselineNoise, LimitInputs{NoiseSD: &sd}, &models.FitResult{Slope: 0}},
		{"unknown method", models.LimitMethod("guesswork"), LimitInputs{NoiseSD: &sd}, &models.FitResult{Slope: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EstimateLimits(tt.method, tt.in, tt.fit, 0, 0)
			var limitErr *LimitInputError
			require.ErrorAs(t, err, &limitErr)
		})
	}
}
