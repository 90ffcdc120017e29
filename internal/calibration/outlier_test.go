package calibration

import (
	"strings"
	"testing"

	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levelsFrom(amounts, areas []float64) ([]models.Level, []float64) {
	levels := make([]models.Level, len(amounts))
	responses := make([]float64, len(amounts))
	for i := range amounts {
		levels[i] = models.Level{Amount: amounts[i], Unit: "ppm", PeakName: "caffeine", Area: areas[i]}
		responses[i] = areas[i]
	}
	return levels, responses
}

func TestGrubbsExcludesSingleOutlier(t *testing.T) {
	levels, responses := levelsFrom(
		[]float64{1, 5, 10, 20, 50},
		[]float64{150.5, 750.2, 1500.8, 2950.0, 7450.0})

	warnings, err := applyOutlierFilter(models.OutlierGrubbs, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.True(t, levels[3].Excluded, "the 20 ppm level should be excluded")
	for _, i := range []int{0, 1, 2, 4} {
		assert.False(t, levels[i].Excluded, "level %d should survive", i)
	}

	idx := activeIndices(levels)
	xs, ys := gatherXY(levels, responses, idx)
	fit, err := Regress(models.ModelLinear, models.WeightNone, xs, ys)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fit.R2, 0.99)
	assert.InDelta(t, 150.0, fit.Slope, 5.0)
}

func TestGrubbsKeepsCleanData(t *testing.T) {
	levels, responses := levelsFrom(
		[]float64{1, 2, 5, 10, 20},
		[]float64{10.1, 19.8, 50.2, 99.9, 200.3})

	warnings, err := applyOutlierFilter(models.OutlierGrubbs, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	for i := range levels {
		assert.False(t, levels[i].Excluded, "level %d", i)
	}
}

func TestGrubbsRefusesToDropBelowMinimum(t *testing.T) {
	// Three levels is the linear floor; the wild point stays in, with a
	// warning naming it.
	levels, responses := levelsFrom(
		[]float64{1, 2, 3},
		[]float64{10, 20, 500})

	warnings, err := applyOutlierFilter(models.OutlierGrubbs, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)

	for i := range levels {
		assert.False(t, levels[i].Excluded, "level %d", i)
	}
	require.NotEmpty(t, warnings)
	assert.True(t, strings.HasPrefix(warnings[0], "grubbs:"))
	assert.Contains(t, warnings[0], "minimum")
}

func TestGrubbsCriticalValues(t *testing.T) {
	// Two-sided critical values at alpha = 0.05.
	assert.InDelta(t, 1.1543, grubbsCritical(3), 1e-4)
	assert.InDelta(t, 1.7150, grubbsCritical(5), 1e-4)
	assert.InDelta(t, 2.2900, grubbsCritical(10), 1e-4)
	assert.InDelta(t, 2.9031, grubbsCritical(30), 1e-4)

	// Beyond the table the t-based approximation continues the curve.
	assert.InDelta(t, 2.924, grubbsCritical(31), 0.01)
	for n := 31; n < 50; n++ {
		assert.Greater(t, grubbsCritical(n+1), grubbsCritical(n))
	}
}

func TestIQRExcludesOnlyFenceViolations(t *testing.T) {
	// Seven points on y = 2x plus one gross outlier at x = 4.
	levels, responses := levelsFrom(
		[]float64{1, 2, 3, 4, 5, 6, 7, 8},
		[]float64{2, 4, 6, 108, 10, 12, 14, 16})

	warnings, err := applyOutlierFilter(models.OutlierIQR, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.True(t, levels[3].Excluded)
	for _, i := range []int{0, 1, 2, 4, 5, 6, 7} {
		assert.False(t, levels[i].Excluded, "level %d", i)
	}
}

func TestIQRSinglePassIsNotIterative(t *testing.T) {
	levels, responses := levelsFrom(
		[]float64{1, 2, 3, 4, 5, 6, 7, 8},
		[]float64{2, 4, 6, 108, 10, 12, 14, 16})

	_, err := applyOutlierFilter(models.OutlierIQR, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)
	first := countExcluded(levels)

	// Re-running on the filtered set must not drop additional points for
	// this data: after removing the outlier the rest lie on the line.
	_, err = applyOutlierFilter(models.OutlierIQR, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)
	assert.Equal(t, first, countExcluded(levels))
}

func TestOutlierPolicyNonePassthrough(t *testing.T) {
	levels, responses := levelsFrom(
		[]float64{1, 2, 3},
		[]float64{10, 20, 500})

	warnings, err := applyOutlierFilter(models.OutlierNone, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Zero(t, countExcluded(levels))
}

func TestQuantileLinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, quantile(sorted, 0.25), 1e-12)
	assert.InDelta(t, 2.5, quantile(sorted, 0.5), 1e-12)
	assert.InDelta(t, 3.25, quantile(sorted, 0.75), 1e-12)
}

func countExcluded(levels []models.Level) int {
	n := 0
	for i := range levels {
		if levels[i].Excluded {
			n++
		}
	}
	return n
}

func TestGrubbsCollinearResidualsStopCleanly(t *testing.T) {
	// A perfect line has zero residual spread; the test has nothing to
	// reject and must not divide by a zero standard deviation.
	levels, responses := levelsFrom(
		[]float64{1, 2, 3, 4},
		[]float64{10, 20, 30, 40})

	warnings, err := applyOutlierFilter(models.OutlierGrubbs, models.ModelLinear, models.WeightNone, levels, responses)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Zero(t, countExcluded(levels))
}
