package models

import "time"

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"API version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// LevelInput is one calibration standard measurement as submitted by the caller.
type LevelInput struct {
	Amount   float64  `json:"amount" doc:"Known analyte concentration, must be > 0"`
	Unit     string   `json:"unit" example:"ppm" doc:"Concentration unit"`
	PeakName string   `json:"peak_name" doc:"Target peak name in the standard run"`
	Area     float64  `json:"area" minimum:"0" doc:"Integrated peak area"`
	RT       *float64 `json:"rt,omitempty" doc:"Retention time in minutes"`
	ISArea   *float64 `json:"is_area,omitempty" doc:"Internal standard peak area, required in internal_standard mode"`
}

// FitCalibrationRequest represents a request to fit a new calibration version
type FitCalibrationRequest struct {
	Body struct {
		MethodID       string                  `json:"method_id" minLength:"1" required:"true" doc:"Analytical method identifier"`
		InstrumentID   *string                 `json:"instrument_id,omitempty" doc:"Instrument identifier, omitted for method-wide calibrations"`
		TargetName     string                  `json:"target_name" minLength:"1" required:"true" doc:"Target analyte peak name"`
		Mode           CalibrationMode         `json:"mode" enum:"external,internal_standard" required:"true" doc:"Response mode"`
		ModelType      ModelType               `json:"model_type" enum:"linear,linear_through_zero,quadratic,weighted_linear" required:"true" doc:"Curve model"`
		Weighting      Weighting               `json:"weighting,omitempty" enum:"none,inverse_x,inverse_x2" doc:"Residual weighting, defaults to none"`
		OutlierPolicy  OutlierPolicy           `json:"outlier_policy" enum:"none,grubbs,iqr" required:"true" doc:"Residual outlier screening policy"`
		Levels         []LevelInput            `json:"levels" minItems:"2" required:"true" doc:"Calibration standard measurements, low to high"`
		ISConfig       *InternalStandardConfig `json:"is_config,omitempty" doc:"Internal standard configuration, required in internal_standard mode"`
		LimitMethod    LimitMethod             `json:"limit_method" enum:"blank_replicates,baseline_noise" required:"true" doc:"LOD/LOQ estimation method"`
		BlankResponses []float64               `json:"blank_responses,omitempty" doc:"Zero-concentration replicate responses for blank_replicates"`
		NoiseSD        *float64                `json:"noise_sd,omitempty" doc:"Baseline noise standard deviation for baseline_noise"`
		KLOD           float64                 `json:"k_lod,omitempty" minimum:"0" doc:"LOD multiplier, defaults to 3"`
		KLOQ           float64                 `json:"k_loq,omitempty" minimum:"0" doc:"LOQ multiplier, defaults to 10"`
	}
}

// CalibrationResponse returns one calibration version
type CalibrationResponse struct {
	Body *CalibrationModel
}

// ListCalibrationsRequest represents a version history query
type ListCalibrationsRequest struct {
	MethodID     string `query:"method_id" required:"true" doc:"Analytical method identifier"`
	TargetName   string `query:"target_name" required:"true" doc:"Target analyte peak name"`
	InstrumentID string `query:"instrument_id" doc:"Instrument identifier, omit for method-wide calibrations"`
}

// ListCalibrationsResponse returns all versions newest-first
type ListCalibrationsResponse struct {
	Body struct {
		Calibrations []*CalibrationModel `json:"calibrations" doc:"All versions for the key, newest first"`
	}
}

// CalibrationIDRequest addresses one calibration version by id
type CalibrationIDRequest struct {
	ID string `path:"id" doc:"Calibration ID"`
}

// ActivateCalibrationResponse confirms an activation
type ActivateCalibrationResponse struct {
	Body struct {
		ID      string `json:"id" doc:"Activated calibration ID"`
		Message string `json:"message" doc:"Confirmation message"`
	}
}

// ResidualsResponse returns per-level residuals for one calibration
type ResidualsResponse struct {
	Body struct {
		ID        string          `json:"id" doc:"Calibration ID"`
		Residuals []ResidualEntry `json:"residuals" doc:"Per-level residuals in level order"`
	}
}

// ValidateCalibrationResponse returns the validation report
type ValidateCalibrationResponse struct {
	Body *ValidationReport
}

// QuantitateRequest submits one run's peak list against a calibration version
type QuantitateRequest struct {
	ID   string `path:"id" doc:"Calibration ID"`
	Body struct {
		RunID string    `json:"run_id" minLength:"1" required:"true" doc:"Sample run identifier"`
		Peaks []RunPeak `json:"peaks" required:"true" doc:"Detected peaks from the run"`
	}
}

// QuantitateResponse returns the per-target quantitation results
type QuantitateResponse struct {
	Body struct {
		RunID   string        `json:"run_id" doc:"Sample run identifier"`
		Results []QuantResult `json:"results" doc:"Per-target quantitation results"`
	}
}

// ExportCalibrationResponse returns a presigned URL for a report snapshot
type ExportCalibrationResponse struct {
	Body struct {
		Key         string `json:"key" doc:"Object storage key of the exported report"`
		DownloadURL string `json:"download_url" doc:"Presigned download URL"`
		ExpiresIn   int    `json:"expires_in" doc:"URL expiration time in seconds"`
	}
}
