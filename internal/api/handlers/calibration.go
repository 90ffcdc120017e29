package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromaworks/chromaquant/internal/calibration"
	"github.com/chromaworks/chromaquant/internal/quant"
	"github.com/chromaworks/chromaquant/internal/repository"
	"github.com/chromaworks/chromaquant/internal/storage"
	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CalibrationHandler handles calibration-related HTTP requests
type CalibrationHandler struct {
	engine   *calibration.Engine
	quantSvc quant.Service
	reports  storage.ReportStorage
}

// NewCalibrationHandler creates a new calibration handler
func NewCalibrationHandler(engine *calibration.Engine, quantSvc quant.Service, reports storage.ReportStorage) *CalibrationHandler {
	return &CalibrationHandler{
		engine:   engine,
		quantSvc: quantSvc,
		reports:  reports,
	}
}

// FitCalibration fits a new calibration version from a level set
func (h *CalibrationHandler) FitCalibration(ctx context.Context, req *models.FitCalibrationRequest) (*models.CalibrationResponse, error) {
	log.Info().
		Str("methodID", req.Body.MethodID).
		Str("target", req.Body.TargetName).
		Str("modelType", string(req.Body.ModelType)).
		Int("levels", len(req.Body.Levels)).
		Msg("Fit request received")

	levels := make([]models.Level, len(req.Body.Levels))
	for i, in := range req.Body.Levels {
		levels[i] = models.Level{
			Amount:   in.Amount,
			Unit:     in.Unit,
			PeakName: in.PeakName,
			Area:     in.Area,
			RT:       in.RT,
			ISArea:   in.ISArea,
		}
	}

	weighting := req.Body.Weighting
	if weighting == "" {
		weighting = models.WeightNone
	}

	model, err := h.engine.Fit(ctx, calibration.FitParams{
		MethodID:      req.Body.MethodID,
		InstrumentID:  req.Body.InstrumentID,
		TargetName:    req.Body.TargetName,
		Mode:          req.Body.Mode,
		ModelType:     req.Body.ModelType,
		Weighting:     weighting,
		OutlierPolicy: req.Body.OutlierPolicy,
		Levels:        levels,
		ISConfig:      req.Body.ISConfig,
		LimitMethod:   req.Body.LimitMethod,
		LimitInputs: calibration.LimitInputs{
			BlankResponses: req.Body.BlankResponses,
			NoiseSD:        req.Body.NoiseSD,
		},
		KLOD: req.Body.KLOD,
		KLOQ: req.Body.KLOQ,
	})
	if err != nil {
		return nil, mapEngineError(err)
	}

	return &models.CalibrationResponse{Body: model}, nil
}

// ListCalibrations returns all versions for a key, newest first
func (h *CalibrationHandler) ListCalibrations(ctx context.Context, req *models.ListCalibrationsRequest) (*models.ListCalibrationsResponse, error) {
	var instrumentID *string
	if req.InstrumentID != "" {
		instrumentID = &req.InstrumentID
	}

	versions, err := h.engine.ListVersions(ctx, req.MethodID, req.TargetName, instrumentID)
	if err != nil {
		return nil, mapEngineError(err)
	}

	resp := &models.ListCalibrationsResponse{}
	resp.Body.Calibrations = versions
	return resp, nil
}

// ActivateCalibration makes one version the single active model for its key
func (h *CalibrationHandler) ActivateCalibration(ctx context.Context, req *models.CalibrationIDRequest) (*models.ActivateCalibrationResponse, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid calibration ID", err)
	}

	if err := h.engine.Activate(ctx, id); err != nil {
		return nil, mapEngineError(err)
	}

	resp := &models.ActivateCalibrationResponse{}
	resp.Body.ID = req.ID
	resp.Body.Message = "Calibration activated"
	return resp, nil
}

// GetResiduals returns the per-level residual table for one calibration
func (h *CalibrationHandler) GetResiduals(ctx context.Context, req *models.CalibrationIDRequest) (*models.ResidualsResponse, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid calibration ID", err)
	}

	residuals, err := h.engine.Residuals(ctx, id)
	if err != nil {
		return nil, mapEngineError(err)
	}

	resp := &models.ResidualsResponse{}
	resp.Body.ID = req.ID
	resp.Body.Residuals = residuals
	return resp, nil
}

// ValidateCalibration evaluates quality checks for one calibration
func (h *CalibrationHandler) ValidateCalibration(ctx context.Context, req *models.CalibrationIDRequest) (*models.ValidateCalibrationResponse, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid calibration ID", err)
	}

	report, err := h.engine.Validate(ctx, id)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return &models.ValidateCalibrationResponse{Body: report}, nil
}

// Quantitate applies one calibration version to a run's peak list
func (h *CalibrationHandler) Quantitate(ctx context.Context, req *models.QuantitateRequest) (*models.QuantitateResponse, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid calibration ID", err)
	}

	runResult, err := h.quantSvc.QuantitateRun(ctx, req.Body.RunID, id, req.Body.Peaks)
	if err != nil {
		return nil, mapEngineError(err)
	}

	resp := &models.QuantitateResponse{}
	resp.Body.RunID = req.Body.RunID
	resp.Body.Results = runResult.Results
	return resp, nil
}

// ExportCalibration uploads a report snapshot and returns a download URL
func (h *CalibrationHandler) ExportCalibration(ctx context.Context, req *models.CalibrationIDRequest) (*models.ExportCalibrationResponse, error) {
	if h.reports == nil {
		return nil, huma.Error503ServiceUnavailable("Report storage is not configured", nil)
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid calibration ID", err)
	}

	model, err := h.engine.Get(ctx, id)
	if err != nil {
		return nil, mapEngineError(err)
	}
	residuals, err := h.engine.Residuals(ctx, id)
	if err != nil {
		return nil, mapEngineError(err)
	}

	snapshot := struct {
		Calibration *models.CalibrationModel `json:"calibration"`
		Residuals   []models.ResidualEntry   `json:"residuals"`
		ExportedAt  time.Time                `json:"exported_at"`
	}{
		Calibration: model,
		Residuals:   residuals,
		ExportedAt:  time.Now().UTC(),
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to serialize report", err)
	}

	key := fmt.Sprintf("reports/calibrations/%s/%d.json", model.ID, time.Now().UTC().Unix())
	if err := h.reports.UploadReport(ctx, key, body); err != nil {
		return nil, huma.Error500InternalServerError("Failed to upload report", err)
	}
	url, err := h.reports.GenerateDownloadURL(ctx, key)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to generate download URL", err)
	}

	log.Info().Str("calibrationID", req.ID).Str("key", key).Msg("Calibration report exported")

	resp := &models.ExportCalibrationResponse{}
	resp.Body.Key = key
	resp.Body.DownloadURL = url
	resp.Body.ExpiresIn = int((24 * time.Hour).Seconds())
	return resp, nil
}

// mapEngineError translates engine and store errors to HTTP errors
func mapEngineError(err error) error {
	var inputError *calibration.InputError
	var tooFew *calibration.TooFewLevelsError
	var degenerate *calibration.DegenerateDataError
	var limitInput *calibration.LimitInputError

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return huma.Error404NotFound("Calibration not found", err)
	case errors.Is(err, repository.ErrMultipleActive):
		log.Error().Err(err).Msg("Calibration store consistency violation")
		return huma.Error500InternalServerError("Calibration store consistency violation", err)
	case errors.As(err, &inputError),
		errors.As(err, &tooFew),
		errors.As(err, &degenerate),
		errors.As(err, &limitInput):
		return huma.Error422UnprocessableEntity(err.Error(), err)
	default:
		return huma.Error500InternalServerError("Calibration operation failed", err)
	}
}
