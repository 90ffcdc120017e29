package quant

import (
	"context"
	"fmt"
	"time"

	"github.com/chromaworks/chromaquant/internal/calibration"
	"github.com/chromaworks/chromaquant/internal/repository"
	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service quantitates sample runs against calibration versions and
// persists the per-run outcomes for later report generation.
type Service interface {
	// QuantitateRun applies one explicitly chosen calibration version.
	QuantitateRun(ctx context.Context, runID string, calibrationID uuid.UUID, peaks []models.RunPeak) (*models.RunResult, error)
	// QuantitateRunActive applies every active calibration for the
	// method, producing one result per calibrated target.
	QuantitateRunActive(ctx context.Context, runID, methodID string, instrumentID *string, peaks []models.RunPeak) ([]models.QuantResult, error)
}

type service struct {
	engine *calibration.Engine
	runs   repository.RunResultRepository
}

// NewService creates a quantitation service.
func NewService(engine *calibration.Engine, runs repository.RunResultRepository) Service {
	return &service{engine: engine, runs: runs}
}

func (s *service) QuantitateRun(ctx context.Context, runID string, calibrationID uuid.UUID, peaks []models.RunPeak) (*models.RunResult, error) {
	results, err := s.engine.Quantitate(ctx, calibrationID, peaks)
	if err != nil {
		return nil, err
	}

	runResult := &models.RunResult{
		ID:            uuid.New(),
		RunID:         runID,
		CalibrationID: calibrationID,
		Results:       results,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.runs.Store(ctx, runResult); err != nil {
		return nil, fmt.Errorf("failed to store run results: %w", err)
	}

	log.Info().
		Str("runID", runID).
		Str("calibrationID", calibrationID.String()).
		Int("targets", len(results)).
		Msg("Run quantitation stored")

	return runResult, nil
}

func (s *service) QuantitateRunActive(ctx context.Context, runID, methodID string, instrumentID *string, peaks []models.RunPeak) ([]models.QuantResult, error) {
	active, err := s.engine.ListActive(ctx, methodID, instrumentID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("no active calibrations for method %s: %w", methodID, repository.ErrNotFound)
	}

	var all []models.QuantResult
	for _, model := range active {
		runResult, err := s.QuantitateRun(ctx, runID, model.ID, peaks)
		if err != nil {
			return nil, err
		}
		all = append(all, runResult.Results...)
	}
	return all, nil
}
