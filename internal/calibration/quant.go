package calibration

import (
	"context"
	"math"

	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Quantitate applies the given calibration version to one run's peak
// list. The calibration is referenced read-only; the result is owned by
// the caller's run record.
func (e *Engine) Quantitate(ctx context.Context, id uuid.UUID, peaks []models.RunPeak) ([]models.QuantResult, error) {
	model, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result := QuantitatePeaks(model, peaks, e.symmetricRange)
	log.Info().
		Str("calibrationID", id.String()).
		Str("target", model.TargetName).
		Int("flags", len(result.Flags)).
		Msg("Run quantitated")
	return []models.QuantResult{result}, nil
}

// QuantitatePeaks computes the per-target quantitation result for one
// calibration. Flags are additive; NoPeak and NoISPeak suppress the
// numeric concentration.
func QuantitatePeaks(model *models.CalibrationModel, peaks []models.RunPeak, symmetricRange bool) models.QuantResult {
	result := models.QuantResult{
		TargetName: model.TargetName,
		Mode:       model.Mode,
		Unit:       levelUnit(model),
		Flags:      []models.QuantFlag{},
	}

	peak := findPeak(peaks, model.TargetName)
	if peak == nil {
		result.Flags = append(result.Flags, models.FlagNoPeak)
		return result
	}
	result.RT = peak.RT
	area := peak.Area
	result.Area = &area

	var response float64
	if model.Mode == models.ModeInternalStandard {
		isPeak := findPeak(peaks, model.ISConfig.PeakName)
		if isPeak == nil || isPeak.Area == 0 {
			// Response factor is undefined without an IS peak.
			result.Flags = append(result.Flags, models.FlagNoISPeak)
			return result
		}
		isArea := isPeak.Area
		result.ISArea = &isArea
		response = area / isArea
	} else {
		response = area
	}
	result.Response = &response

	loAmt, hiAmt := calibratedRange(model)
	conc, ok := invertCurve(&model.Fit, response, loAmt, hiAmt)
	if !ok {
		// No usable inverse solution; the response is outside what the
		// fitted curve can represent.
		result.Flags = append(result.Flags, models.FlagOOR)
		return result
	}
	result.Concentration = &conc

	if conc < model.Limits.LOD {
		result.Flags = append(result.Flags, models.FlagBelowLOD)
	} else if conc < model.Limits.LOQ {
		result.Flags = append(result.Flags, models.FlagBelowLOQ)
	}
	if conc > hiAmt {
		result.Flags = append(result.Flags, models.FlagOOR)
	} else if symmetricRange && conc < loAmt {
		result.Flags = append(result.Flags, models.FlagOOR)
	}
	return result
}

// findPeak locates a peak by exact name match.
func findPeak(peaks []models.RunPeak, name string) *models.RunPeak {
	for i := range peaks {
		if peaks[i].Name == name {
			return &peaks[i]
		}
	}
	return nil
}

func levelUnit(model *models.CalibrationModel) string {
	if len(model.Levels) > 0 {
		return model.Levels[0].Unit
	}
	return ""
}

// calibratedRange returns the amount span of the non-excluded levels.
func calibratedRange(model *models.CalibrationModel) (lo, hi float64) {
	first := true
	for _, lv := range model.Levels {
		if lv.Excluded {
			continue
		}
		if first {
			lo, hi = lv.Amount, lv.Amount
			first = false
			continue
		}
		if lv.Amount < lo {
			lo = lv.Amount
		}
		if lv.Amount > hi {
			hi = lv.Amount
		}
	}
	return lo, hi
}

// invertCurve solves the fitted curve for concentration given a
// response. For quadratic fits it takes the positive real root nearest
// the calibrated range.
func invertCurve(fit *models.FitResult, response, loAmt, hiAmt float64) (float64, bool) {
	if math.Abs(fit.Curvature) < slopeEps {
		if math.Abs(fit.Slope) < slopeEps {
			return 0, false
		}
		return (response - fit.Intercept) / fit.Slope, true
	}

	// c*x² + b*x + (a - y) = 0
	a := fit.Curvature
	b := fit.Slope
	c := fit.Intercept - response
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}
	sqrtDisc := math.Sqrt(disc)
	roots := []float64{(-b + sqrtDisc) / (2 * a), (-b - sqrtDisc) / (2 * a)}

	best := math.NaN()
	bestDist := math.Inf(1)
	for _, r := range roots {
		if r <= 0 {
			continue
		}
		d := rangeDistance(r, loAmt, hiAmt)
		if d < bestDist {
			best = r
			bestDist = d
		}
	}
	if math.IsNaN(best) {
		return 0, false
	}
	return best, true
}

// rangeDistance is zero inside [lo, hi] and the gap to the nearer edge
// outside it.
func rangeDistance(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return lo - x
	case x > hi:
		return x - hi
	default:
		return 0
	}
}
