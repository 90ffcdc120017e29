package calibration

import (
	"math"

	"github.com/chromaworks/chromaquant/pkg/models"
)

const (
	defaultKLOD = 3
	defaultKLOQ = 10

	// slopeEps bounds the slope magnitude below which converting a
	// response to a concentration is undefined.
	slopeEps = 1e-12
)

// LimitInputs carries the raw statistics the limit estimator needs.
// BlankResponses is required for blank_replicates, NoiseSD for
// baseline_noise.
type LimitInputs struct {
	BlankResponses []float64
	NoiseSD        *float64
}

// EstimateLimits computes LOD and LOQ in concentration units. The
// estimation is independent of curve shape; only the fitted slope and
// intercept are used to convert responses to concentrations.
func EstimateLimits(method models.LimitMethod, in LimitInputs, fit *models.FitResult, kLOD, kLOQ float64) (*models.LimitResult, error) {
	if kLOD == 0 {
		kLOD = defaultKLOD
	}
	if kLOQ == 0 {
		kLOQ = defaultKLOQ
	}
	if math.Abs(fit.Slope) < slopeEps {
		return nil, &LimitInputError{Method: method, Reason: "fitted slope is zero, cannot convert response to concentration"}
	}

	var lod, loq float64
	switch method {
	case models.LimitBlankReplicates:
		if len(in.BlankResponses) < 2 {
			return nil, &LimitInputError{Method: method, Reason: "at least 2 blank replicate responses are required"}
		}
		mean := meanOf(in.BlankResponses)
		sd := sampleSD(in.BlankResponses, mean)
		lod = (mean + kLOD*sd - fit.Intercept) / fit.Slope
		loq = (mean + kLOQ*sd - fit.Intercept) / fit.Slope
	case models.LimitBaselineNoise:
		if in.NoiseSD == nil {
			return nil, &LimitInputError{Method: method, Reason: "baseline noise standard deviation is required"}
		}
		if *in.NoiseSD < 0 {
			return nil, &LimitInputError{Method: method, Reason: "baseline noise standard deviation must be non-negative"}
		}
		lod = kLOD * *in.NoiseSD / fit.Slope
		loq = kLOQ * *in.NoiseSD / fit.Slope
	default:
		return nil, &LimitInputError{Method: method, Reason: "unknown limit method"}
	}

	return &models.LimitResult{
		LOD:    lod,
		LOQ:    loq,
		Method: method,
		KLOD:   kLOD,
		KLOQ:   kLOQ,
	}, nil
}
