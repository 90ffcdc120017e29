package repository

import (
	"context"
	"errors"

	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no calibration exists for the given id.
var ErrNotFound = errors.New("calibration not found")

// ErrMultipleActive reports a store consistency violation: more than one
// active calibration under the same (method, instrument, target) key.
// The activation protocol makes this unreachable; if it is ever observed
// the store is corrupt and the call must fail loudly.
var ErrMultipleActive = errors.New("multiple active calibrations for the same key")

// CalibrationRepository holds every calibration version ever fitted.
// Versions are immutable and never deleted; only the active flag moves.
// Activate is a single atomic operation that deactivates whatever is
// currently active under the model's key before activating the target.
type CalibrationRepository interface {
	Create(ctx context.Context, model *models.CalibrationModel) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, error)
	List(ctx context.Context, methodID, targetName string, instrumentID *string) ([]*models.CalibrationModel, error)
	ListActive(ctx context.Context, methodID string, instrumentID *string) ([]*models.CalibrationModel, error)
	Activate(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// RunResultRepository stores quantitation outcomes per sample run.
type RunResultRepository interface {
	Store(ctx context.Context, result *models.RunResult) error
	GetByRunID(ctx context.Context, runID string) ([]*models.RunResult, error)
}
