package api

import (
	"net/http"

	"github.com/chromaworks/chromaquant/internal/api/handlers"
	"github.com/chromaworks/chromaquant/internal/calibration"
	"github.com/chromaworks/chromaquant/internal/quant"
	"github.com/chromaworks/chromaquant/internal/storage"
	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes sets up all API routes
func RegisterRoutes(api huma.API, engine *calibration.Engine, quantSvc quant.Service, reports storage.ReportStorage) {
	// Initialize handlers
	calibrationHandler := handlers.NewCalibrationHandler(engine, quantSvc, reports)

	huma.Register(api, huma.Operation{
		OperationID: "fitCalibration",
		Method:      http.MethodPost,
		Path:        "/api/calibrations",
		Summary:     "Fit a calibration",
		Description: "Fits a new calibration version from a level set and returns the stored model",
		Tags:        []string{"Calibration"},
	}, calibrationHandler.FitCalibration)

	huma.Register(api, huma.Operation{
		OperationID: "listCalibrations",
		Method:      http.MethodGet,
		Path:        "/api/calibrations",
		Summary:     "List calibration versions",
		Description: "Returns all versions for a (method, instrument, target) key, newest first",
		Tags:        []string{"Calibration"},
	}, calibrationHandler.ListCalibrations)

	huma.Register(api, huma.Operation{
		OperationID: "activateCalibration",
		Method:      http.MethodPost,
		Path:        "/api/calibrations/{id}/activate",
		Summary:     "Activate a calibration version",
		Description: "Atomically makes this version the single active model for its key",
		Tags:        []string{"Calibration"},
	}, calibrationHandler.ActivateCalibration)

	huma.Register(api, huma.Operation{
		OperationID: "getCalibrationResiduals",
		Method:      http.MethodGet,
		Path:        "/api/calibrations/{id}/residuals",
		Summary:     "Get calibration residuals",
		Description: "Returns the per-level residual table including exclusion flags",
		Tags:        []string{"Calibration"},
	}, calibrationHandler.GetResiduals)

	huma.Register(api, huma.Operation{
		OperationID: "validateCalibration",
		Method:      http.MethodGet,
		Path:        "/api/calibrations/{id}/validation",
		Summary:     "Validate a calibration",
		Description: "Evaluates r², point count, and excluded-point ratio checks",
		Tags:        []string{"Calibration"},
	}, calibrationHandler.ValidateCalibration)

	huma.Register(api, huma.Operation{
		OperationID: "quantitateRun",
		Method:      http.MethodPost,
		Path:        "/api/calibrations/{id}/quantitate",
		Summary:     "Quantitate a run",
		Description: "Applies the calibration to a run's peak list and stores the per-target results",
		Tags:        []string{"Quantitation"},
	}, calibrationHandler.Quantitate)

	huma.Register(api, huma.Operation{
		OperationID: "exportCalibration",
		Method:      http.MethodPost,
		Path:        "/api/calibrations/{id}/export",
		Summary:     "Export a calibration report",
		Description: "Uploads a JSON report snapshot to object storage and returns a presigned download URL",
		Tags:        []string{"Calibration"},
	}, calibrationHandler.ExportCalibration)
}
