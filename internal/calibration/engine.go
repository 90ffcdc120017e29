package calibration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chromaworks/chromaquant/internal/repository"
	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// duplicateSpreadTolerance is the relative response spread above which
// duplicate amounts are flagged as degrading fit quality.
const duplicateSpreadTolerance = 0.10

// defaultR2 thresholds for validation.
const (
	defaultR2Pass = 0.99
	defaultR2Warn = 0.95

	// maxExcludedRatio is the excluded-point share above which
	// validation warns.
	maxExcludedRatio = 0.25
)

// Options tunes engine policy knobs.
type Options struct {
	// R2Pass and R2Warn are the validation thresholds; zero selects the
	// defaults (0.99 / 0.95).
	R2Pass float64
	R2Warn float64
	// SymmetricRange also flags quantitation results below the lowest
	// calibration level as out of range.
	SymmetricRange bool
}

// Engine fits, validates, and applies calibration models. Fitting and
// quantitation are pure computations; the only shared state is the
// repository's active-flag bookkeeping.
type Engine struct {
	repo           repository.CalibrationRepository
	r2Pass         float64
	r2Warn         float64
	symmetricRange bool
}

// NewEngine creates a calibration engine backed by the given store.
func NewEngine(repo repository.CalibrationRepository, opts Options) *Engine {
	if opts.R2Pass == 0 {
		opts.R2Pass = defaultR2Pass
	}
	if opts.R2Warn == 0 {
		opts.R2Warn = defaultR2Warn
	}
	return &Engine{
		repo:           repo,
		r2Pass:         opts.R2Pass,
		r2Warn:         opts.R2Warn,
		symmetricRange: opts.SymmetricRange,
	}
}

// FitParams is the full input to one calibration fit.
type FitParams struct {
	MethodID      string
	InstrumentID  *string
	TargetName    string
	Mode          models.CalibrationMode
	ModelType     models.ModelType
	Weighting     models.Weighting
	OutlierPolicy models.OutlierPolicy
	Levels        []models.Level
	ISConfig      *models.InternalStandardConfig
	LimitMethod   models.LimitMethod
	LimitInputs   LimitInputs
	KLOD          float64
	KLOQ          float64
}

// Fit validates the level set, screens outliers, performs the final
// regression, estimates limits, and persists the resulting model as a
// new inactive version. The model is immutable from here on.
func (e *Engine) Fit(ctx context.Context, p FitParams) (*models.CalibrationModel, error) {
	levels := append([]models.Level(nil), p.Levels...)

	warnings, err := e.validateLevels(p, levels)
	if err != nil {
		return nil, err
	}

	responses, err := levelResponses(p.Mode, levels)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, duplicateAmountWarnings(levels, responses)...)

	outlierWarnings, err := applyOutlierFilter(p.OutlierPolicy, p.ModelType, p.Weighting, levels, responses)
	warnings = append(warnings, outlierWarnings...)
	if err != nil {
		return nil, err
	}

	idx := activeIndices(levels)
	xs, ys := gatherXY(levels, responses, idx)
	fit, err := Regress(p.ModelType, p.Weighting, xs, ys)
	if err != nil {
		return nil, err
	}
	fit.ExcludedCount = len(levels) - len(idx)
	fit.Warnings = warnings
	for i, j := range idx {
		r := fit.Residuals[i]
		levels[j].Residual = &r
	}

	limits, err := EstimateLimits(p.LimitMethod, p.LimitInputs, fit, p.KLOD, p.KLOQ)
	if err != nil {
		return nil, err
	}

	model := &models.CalibrationModel{
		ID:            uuid.New(),
		MethodID:      p.MethodID,
		InstrumentID:  p.InstrumentID,
		TargetName:    p.TargetName,
		Mode:          p.Mode,
		ISConfig:      p.ISConfig,
		OutlierPolicy: p.OutlierPolicy,
		Levels:        levels,
		Fit:           *fit,
		Limits:        *limits,
		Active:        false,
		CreatedAt:     time.Now().UTC(),
	}

	if err := e.repo.Create(ctx, model); err != nil {
		return nil, fmt.Errorf("failed to store calibration: %w", err)
	}

	log.Info().
		Str("calibrationID", model.ID.String()).
		Str("methodID", model.MethodID).
		Str("target", model.TargetName).
		Str("modelType", string(model.Fit.ModelType)).
		Float64("slope", model.Fit.Slope).
		Float64("r2", model.Fit.R2).
		Int("excluded", model.Fit.ExcludedCount).
		Msg("Calibration fitted")

	return model, nil
}

// validateLevels enforces the input-error taxonomy up front and
// pre-excludes internal-standard levels whose IS area is zero. The
// returned warnings describe pre-exclusions.
func (e *Engine) validateLevels(p FitParams, levels []models.Level) ([]string, error) {
	var warnings []string

	switch p.Mode {
	case models.ModeExternal, models.ModeInternalStandard:
	default:
		return nil, inputErr("mode", -1, "unknown calibration mode %q", p.Mode)
	}
	if p.Mode == models.ModeInternalStandard {
		if p.ISConfig == nil {
			return nil, inputErr("is_config", -1, "internal standard configuration is required in internal_standard mode")
		}
		if p.ISConfig.Amount <= 0 {
			return nil, inputErr("is_config.amount", -1, "internal standard amount must be > 0, got %g", p.ISConfig.Amount)
		}
	}

	for i := range levels {
		lv := &levels[i]
		if lv.Amount <= 0 {
			return nil, inputErr("amount", i, "amount must be > 0, got %g", lv.Amount)
		}
		if lv.Area < 0 {
			return nil, inputErr("area", i, "area must be >= 0, got %g", lv.Area)
		}
		if p.Mode == models.ModeInternalStandard {
			if lv.ISArea == nil {
				return nil, inputErr("is_area", i, "internal standard area is required in internal_standard mode")
			}
			if *lv.ISArea < 0 {
				return nil, inputErr("is_area", i, "internal standard area must be >= 0, got %g", *lv.ISArea)
			}
			if *lv.ISArea == 0 {
				// Response factor is undefined; the level cannot
				// participate in the fit.
				lv.Excluded = true
				warnings = append(warnings, fmt.Sprintf("level %d has zero internal standard area and was excluded before fitting", i))
			}
		}
	}

	active := len(activeIndices(levels))
	if min := MinLevels(p.ModelType); active < min {
		return nil, &TooFewLevelsError{ModelType: p.ModelType, Required: min, Got: active}
	}
	return warnings, nil
}

// levelResponses computes the dependent variable per level: raw area in
// external mode, response factor area/isArea in internal-standard mode.
// Pre-excluded levels get a zero response that the fit never sees.
func levelResponses(mode models.CalibrationMode, levels []models.Level) ([]float64, error) {
	responses := make([]float64, len(levels))
	for i := range levels {
		if levels[i].Excluded {
			continue
		}
		if mode == models.ModeInternalStandard {
			responses[i] = levels[i].Area / *levels[i].ISArea
		} else {
			responses[i] = levels[i].Area
		}
	}
	return responses, nil
}

// duplicateAmountWarnings flags duplicate amounts whose responses
// diverge grossly. Duplicates are allowed; divergence is reported, not
// rejected.
func duplicateAmountWarnings(levels []models.Level, responses []float64) []string {
	groups := make(map[float64][]int)
	for _, i := range activeIndices(levels) {
		groups[levels[i].Amount] = append(groups[levels[i].Amount], i)
	}

	var warnings []string
	for amount, idx := range groups {
		if len(idx) < 2 {
			continue
		}
		lo, hi := responses[idx[0]], responses[idx[0]]
		sum := 0.0
		for _, i := range idx {
			r := responses[i]
			sum += r
			if r < lo {
				lo = r
			}
			if r > hi {
				hi = r
			}
		}
		mean := sum / float64(len(idx))
		if mean != 0 && (hi-lo)/math.Abs(mean) > duplicateSpreadTolerance {
			warnings = append(warnings, fmt.Sprintf(
				"duplicate amount %g has divergent responses (spread %.1f%% of mean), fit quality may degrade",
				amount, 100*(hi-lo)/math.Abs(mean)))
		}
	}
	return warnings
}

// ListVersions returns all historical models for the key, newest first,
// each annotated with its active flag.
func (e *Engine) ListVersions(ctx context.Context, methodID, targetName string, instrumentID *string) ([]*models.CalibrationModel, error) {
	return e.repo.List(ctx, methodID, targetName, instrumentID)
}

// Get returns one calibration version by id.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, error) {
	return e.repo.GetByID(ctx, id)
}

// ListActive returns the active calibrations for a method, one per
// target.
func (e *Engine) ListActive(ctx context.Context, methodID string, instrumentID *string) ([]*models.CalibrationModel, error) {
	return e.repo.ListActive(ctx, methodID, instrumentID)
}

// Activate atomically makes the given version the single active model
// under its key.
func (e *Engine) Activate(ctx context.Context, id uuid.UUID) error {
	if err := e.repo.Activate(ctx, id); err != nil {
		return err
	}
	log.Info().Str("calibrationID", id.String()).Msg("Calibration activated")
	return nil
}

// Residuals returns the per-level residual table for one calibration.
func (e *Engine) Residuals(ctx context.Context, id uuid.UUID) ([]models.ResidualEntry, error) {
	model, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	entries := make([]models.ResidualEntry, len(model.Levels))
	for i, lv := range model.Levels {
		entries[i] = models.ResidualEntry{
			LevelIndex: i,
			Residual:   lv.Residual,
			Excluded:   lv.Excluded,
		}
	}
	return entries, nil
}

// Validate evaluates the r² threshold, the minimum point count, and the
// excluded-point ratio for one calibration.
func (e *Engine) Validate(ctx context.Context, id uuid.UUID) (*models.ValidationReport, error) {
	model, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var checks []models.ValidationCheck

	r2Status := models.ValidationFail
	switch {
	case model.Fit.R2 >= e.r2Pass:
		r2Status = models.ValidationPass
	case model.Fit.R2 >= e.r2Warn:
		r2Status = models.ValidationWarning
	}
	checks = append(checks, models.ValidationCheck{
		Name:   "r_squared",
		Status: r2Status,
		Detail: fmt.Sprintf("r²=%.5f (pass ≥ %.2f, warning ≥ %.2f)", model.Fit.R2, e.r2Pass, e.r2Warn),
	})

	used := len(model.Levels) - model.Fit.ExcludedCount
	min := MinLevels(model.Fit.ModelType)
	pointStatus := models.ValidationPass
	if used < min {
		pointStatus = models.ValidationFail
	}
	checks = append(checks, models.ValidationCheck{
		Name:   "point_count",
		Status: pointStatus,
		Detail: fmt.Sprintf("%d non-excluded levels, minimum %d for %s", used, min, model.Fit.ModelType),
	})

	ratio := 0.0
	if len(model.Levels) > 0 {
		ratio = float64(model.Fit.ExcludedCount) / float64(len(model.Levels))
	}
	ratioStatus := models.ValidationPass
	if ratio > maxExcludedRatio {
		ratioStatus = models.ValidationWarning
	}
	checks = append(checks, models.ValidationCheck{
		Name:   "excluded_ratio",
		Status: ratioStatus,
		Detail: fmt.Sprintf("%.0f%% of levels excluded (warning above %.0f%%)", 100*ratio, 100*maxExcludedRatio),
	})

	overall := models.ValidationPass
	for _, c := range checks {
		if c.Status == models.ValidationFail {
			overall = models.ValidationFail
			break
		}
		if c.Status == models.ValidationWarning {
			overall = models.ValidationWarning
		}
	}
	return &models.ValidationReport{Status: overall, Checks: checks}, nil
}
