package models

import (
	"time"

	"github.com/google/uuid"
)

// CalibrationMode selects how instrument response is derived from a peak.
type CalibrationMode string

const (
	ModeExternal         CalibrationMode = "external"
	ModeInternalStandard CalibrationMode = "internal_standard"
)

// ModelType identifies the response curve fitted to a level set.
type ModelType string

const (
	ModelLinear            ModelType = "linear"
	ModelLinearThroughZero ModelType = "linear_through_zero"
	ModelQuadratic         ModelType = "quadratic"
	ModelWeightedLinear    ModelType = "weighted_linear"
)

// Weighting selects the per-point weight applied before minimization.
type Weighting string

const (
	WeightNone      Weighting = "none"
	WeightInverseX  Weighting = "inverse_x"
	WeightInverseX2 Weighting = "inverse_x2"
)

// OutlierPolicy selects the residual screening method applied before the final fit.
type OutlierPolicy string

const (
	OutlierNone   OutlierPolicy = "none"
	OutlierGrubbs OutlierPolicy = "grubbs"
	OutlierIQR    OutlierPolicy = "iqr"
)

// LimitMethod selects how LOD/LOQ are estimated.
type LimitMethod string

const (
	LimitBlankReplicates LimitMethod = "blank_replicates"
	LimitBaselineNoise   LimitMethod = "baseline_noise"
)

// QuantFlag is a quality annotation attached to a quantitation result.
type QuantFlag string

const (
	FlagBelowLOD QuantFlag = "<LOD"
	FlagBelowLOQ QuantFlag = "<LOQ"
	FlagOOR      QuantFlag = "OOR"
	FlagNoPeak   QuantFlag = "NoPeak"
	FlagNoISPeak QuantFlag = "NoISPeak"
)

// Level is one calibration standard measurement.
type Level struct {
	Amount   float64  `json:"amount"`
	Unit     string   `json:"unit"`
	PeakName string   `json:"peak_name"`
	Area     float64  `json:"area"`
	RT       *float64 `json:"rt,omitempty"`
	ISArea   *float64 `json:"is_area,omitempty"`
	Excluded bool     `json:"excluded"`
	Residual *float64 `json:"residual,omitempty"`
}

// InternalStandardConfig describes the internal standard spiked at a
// constant amount into every level of a calibration.
type InternalStandardConfig struct {
	PeakName string  `json:"peak_name"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit"`
}

// FitResult holds the fitted curve coefficients and quality metrics.
// Curvature is the x² coefficient and is zero for non-quadratic models.
type FitResult struct {
	Slope         float64   `json:"slope"`
	Intercept     float64   `json:"intercept"`
	Curvature     float64   `json:"curvature,omitempty"`
	R2            float64   `json:"r2"`
	ModelType     ModelType `json:"model_type"`
	Weighting     Weighting `json:"weighting"`
	ExcludedCount int       `json:"excluded_count"`
	Residuals     []float64 `json:"residuals"`
	Warnings      []string  `json:"warnings,omitempty"`
}

// LimitResult holds the detection and quantitation limits in
// concentration units.
type LimitResult struct {
	LOD    float64     `json:"lod"`
	LOQ    float64     `json:"loq"`
	Method LimitMethod `json:"method"`
	KLOD   float64     `json:"k_lod"`
	KLOQ   float64     `json:"k_loq"`
}

// CalibrationModel is the unit of versioning: one fitted curve for one
// target under one (method, instrument) context. Immutable once fit;
// only the active flag transitions afterwards.
type CalibrationModel struct {
	ID            uuid.UUID               `json:"id"`
	MethodID      string                  `json:"method_id"`
	InstrumentID  *string                 `json:"instrument_id,omitempty"`
	TargetName    string                  `json:"target_name"`
	Mode          CalibrationMode         `json:"mode"`
	ISConfig      *InternalStandardConfig `json:"is_config,omitempty"`
	OutlierPolicy OutlierPolicy           `json:"outlier_policy"`
	Levels        []Level                 `json:"levels"`
	Fit           FitResult               `json:"fit"`
	Limits        LimitResult             `json:"limits"`
	Active        bool                    `json:"active"`
	CreatedAt     time.Time               `json:"created_at"`
}

// Key returns the analytical context this model calibrates.
func (m *CalibrationModel) Key() CalibrationKey {
	k := CalibrationKey{MethodID: m.MethodID, TargetName: m.TargetName}
	if m.InstrumentID != nil {
		k.InstrumentID = *m.InstrumentID
	}
	return k
}

// CalibrationKey identifies the analytical context that holds at most
// one active calibration at a time.
type CalibrationKey struct {
	MethodID     string
	InstrumentID string
	TargetName   string
}

// RunPeak is one detected peak from a sample run, as supplied by the
// peak-detection collaborator.
type RunPeak struct {
	Name string   `json:"name"`
	RT   *float64 `json:"rt,omitempty"`
	Area float64  `json:"area"`
}

// QuantResult is the per-target outcome of quantitating one run.
type QuantResult struct {
	TargetName    string          `json:"target_name"`
	Mode          CalibrationMode `json:"mode"`
	RT            *float64        `json:"rt,omitempty"`
	Area          *float64        `json:"area,omitempty"`
	ISArea        *float64        `json:"is_area,omitempty"`
	Response      *float64        `json:"response,omitempty"`
	Concentration *float64        `json:"concentration,omitempty"`
	Unit          string          `json:"unit"`
	SNR           *float64        `json:"snr,omitempty"`
	Flags         []QuantFlag     `json:"flags"`
}

// HasFlag reports whether the result carries the given flag.
func (q *QuantResult) HasFlag(f QuantFlag) bool {
	for _, have := range q.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// RunResult is the stored outcome of quantitating one run against one
// calibration version.
type RunResult struct {
	ID            uuid.UUID     `json:"id"`
	RunID         string        `json:"run_id"`
	CalibrationID uuid.UUID     `json:"calibration_id"`
	Results       []QuantResult `json:"results"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ResidualEntry reports one level's residual for inspection.
type ResidualEntry struct {
	LevelIndex int      `json:"level_index"`
	Residual   *float64 `json:"residual,omitempty"`
	Excluded   bool     `json:"excluded"`
}

// ValidationStatus is the overall outcome of a calibration validation.
type ValidationStatus string

const (
	ValidationPass    ValidationStatus = "pass"
	ValidationWarning ValidationStatus = "warning"
	ValidationFail    ValidationStatus = "fail"
)

// ValidationCheck is one named validation criterion and its outcome.
type ValidationCheck struct {
	Name   string           `json:"name"`
	Status ValidationStatus `json:"status"`
	Detail string           `json:"detail"`
}

// ValidationReport aggregates all validation checks for one calibration.
type ValidationReport struct {
	Status ValidationStatus  `json:"status"`
	Checks []ValidationCheck `json:"checks"`
}
