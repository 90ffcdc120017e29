// Package memory provides mutex-guarded in-memory implementations of
// the repository interfaces. They honor the same atomic-activation
// contract as the Postgres store and back unit tests and DB-less
// deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chromaworks/chromaquant/internal/repository"
	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/google/uuid"
)

// CalibrationStore is an in-memory CalibrationRepository. Stored models
// are deep-copied on the way in and out so callers can never mutate a
// fitted version.
type CalibrationStore struct {
	mu     sync.Mutex
	models map[uuid.UUID]*models.CalibrationModel
}

// NewCalibrationStore creates an empty in-memory calibration store.
func NewCalibrationStore() *CalibrationStore {
	return &CalibrationStore{models: make(map[uuid.UUID]*models.CalibrationModel)}
}

// Create stores a new calibration version.
func (s *CalibrationStore) Create(ctx context.Context, model *models.CalibrationModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[model.ID] = cloneModel(model)
	return nil
}

// GetByID retrieves one version by id.
func (s *CalibrationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneModel(m), nil
}

// List returns all versions for the key, newest first.
func (s *CalibrationStore) List(ctx context.Context, methodID, targetName string, instrumentID *string) ([]*models.CalibrationModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.CalibrationModel
	for _, m := range s.models {
		if m.MethodID == methodID && m.TargetName == targetName && sameInstrument(m.InstrumentID, instrumentID) {
			out = append(out, cloneModel(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListActive returns the active model per target for the method.
func (s *CalibrationStore) ListActive(ctx context.Context, methodID string, instrumentID *string) ([]*models.CalibrationModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]int)
	var out []*models.CalibrationModel
	for _, m := range s.models {
		if !m.Active || m.MethodID != methodID || !sameInstrument(m.InstrumentID, instrumentID) {
			continue
		}
		seen[m.TargetName]++
		if seen[m.TargetName] > 1 {
			return nil, repository.ErrMultipleActive
		}
		out = append(out, cloneModel(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetName < out[j].TargetName })
	return out, nil
}

// Activate deactivates whatever is active under the model's key and
// activates the requested version, all under one lock.
func (s *CalibrationStore) Activate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.models[id]
	if !ok {
		return repository.ErrNotFound
	}
	key := target.Key()
	for _, m := range s.models {
		if m.Active && m.Key() == key {
			m.Active = false
		}
	}
	target.Active = true
	return nil
}

// Deactivate clears the active flag on one version.
func (s *CalibrationStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Active = false
	return nil
}

// RunResultStore is an in-memory RunResultRepository.
type RunResultStore struct {
	mu      sync.Mutex
	results map[string][]*models.RunResult
}

// NewRunResultStore creates an empty in-memory run result store.
func NewRunResultStore() *RunResultStore {
	return &RunResultStore{results: make(map[string][]*models.RunResult)}
}

// Store appends one quantitation outcome for a run.
func (s *RunResultStore) Store(ctx context.Context, result *models.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RunID] = append(s.results[result.RunID], cloneRunResult(result))
	return nil
}

// GetByRunID returns all stored outcomes for a run.
func (s *RunResultStore) GetByRunID(ctx context.Context, runID string) ([]*models.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.results[runID]
	out := make([]*models.RunResult, len(stored))
	for i, r := range stored {
		out[i] = cloneRunResult(r)
	}
	return out, nil
}

func sameInstrument(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneModel(m *models.CalibrationModel) *models.CalibrationModel {
	out := *m
	out.Levels = make([]models.Level, len(m.Levels))
	for i, lv := range m.Levels {
		out.Levels[i] = lv
		if lv.RT != nil {
			rt := *lv.RT
			out.Levels[i].RT = &rt
		}
		if lv.ISArea != nil {
			isArea := *lv.ISArea
			out.Levels[i].ISArea = &isArea
		}
		if lv.Residual != nil {
			res := *lv.Residual
			out.Levels[i].Residual = &res
		}
	}
	if m.InstrumentID != nil {
		id := *m.InstrumentID
		out.InstrumentID = &id
	}
	if m.ISConfig != nil {
		cfg := *m.ISConfig
		out.ISConfig = &cfg
	}
	out.Fit.Residuals = append([]float64(nil), m.Fit.Residuals...)
	out.Fit.Warnings = append([]string(nil), m.Fit.Warnings...)
	return &out
}

func cloneRunResult(r *models.RunResult) *models.RunResult {
	out := *r
	out.Results = append([]models.QuantResult(nil), r.Results...)
	for i := range out.Results {
		out.Results[i].Flags = append([]models.QuantFlag(nil), r.Results[i].Flags...)
	}
	return &out
}
