package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromaworks/chromaquant/internal/repository"
	"github.com/chromaworks/chromaquant/pkg/models"
	"github.com/google/uuid"
)

// PostgresCalibrationRepository implements CalibrationRepository for PostgreSQL
type PostgresCalibrationRepository struct {
	db *sql.DB
}

// NewPostgresCalibrationRepository creates a new PostgreSQL calibration repository
func NewPostgresCalibrationRepository(db *sql.DB) repository.CalibrationRepository {
	return &PostgresCalibrationRepository{db: db}
}

// Create inserts a new calibration version
func (r *PostgresCalibrationRepository) Create(ctx context.Context, model *models.CalibrationModel) error {
	levels, err := json.Marshal(model.Levels)
	if err != nil {
		return fmt.Errorf("failed to marshal levels: %w", err)
	}
	fit, err := json.Marshal(model.Fit)
	if err != nil {
		return fmt.Errorf("failed to marshal fit: %w", err)
	}
	limits, err := json.Marshal(model.Limits)
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}

	var isConfig []byte
	if model.ISConfig != nil {
		isConfig, err = json.Marshal(model.ISConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal is_config: %w", err)
		}
	}

	query := `
		INSERT INTO calibrations (id, method_id, instrument_id, target_name, mode, is_config, outlier_policy, levels, fit, limits, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		model.ID,
		model.MethodID,
		nullableString(model.InstrumentID),
		model.TargetName,
		string(model.Mode),
		nullableJSON(isConfig),
		string(model.OutlierPolicy),
		string(levels),
		string(fit),
		string(limits),
		model.Active,
		model.CreatedAt)

	return err
}

// GetByID retrieves a calibration version by ID
func (r *PostgresCalibrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, error) {
	query := `
		SELECT id, method_id, instrument_id, target_name, mode, is_config, outlier_policy, levels, fit, limits, active, created_at
		FROM calibrations
		WHERE id = $1`

	model, err := scanCalibration(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return model, err
}

// List retrieves all versions for the (method, instrument, target) key, newest first
func (r *PostgresCalibrationRepository) List(ctx context.Context, methodID, targetName string, instrumentID *string) ([]*models.CalibrationModel, error) {
	query := `
		SELECT id, method_id, instrument_id, target_name, mode, is_config, outlier_policy, levels, fit, limits, active, created_at
		FROM calibrations
		WHERE method_id = $1 AND target_name = $2 AND instrument_id IS NOT DISTINCT FROM $3
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, methodID, targetName, nullableString(instrumentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CalibrationModel
	for rows.Next() {
		model, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, model)
	}
	return out, rows.Err()
}

// ListActive retrieves the active calibrations for a method, one per target.
// More than one active model under the same key is a consistency
// violation and fails the call.
func (r *PostgresCalibrationRepository) ListActive(ctx context.Context, methodID string, instrumentID *string) ([]*models.CalibrationModel, error) {
	query := `
		SELECT id, method_id, instrument_id, target_name, mode, is_config, outlier_policy, levels, fit, limits, active, created_at
		FROM calibrations
		WHERE method_id = $1 AND instrument_id IS NOT DISTINCT FROM $2 AND active
		ORDER BY target_name`

	rows, err := r.db.QueryContext(ctx, query, methodID, nullableString(instrumentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []*models.CalibrationModel
	for rows.Next() {
		model, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		if seen[model.TargetName] {
			return nil, repository.ErrMultipleActive
		}
		seen[model.TargetName] = true
		out = append(out, model)
	}
	return out, rows.Err()
}

// Activate atomically deactivates the current active model under the
// target's key and activates the requested version in one transaction.
// Locking only the target row is not enough: two activations of
// different versions under the same key would not serialize, and both
// could commit active. Every version under the key is locked first, so
// concurrent activations queue up; the unique partial index on active
// rows backstops the invariant at the schema level.
func (r *PostgresCalibrationRepository) Activate(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var methodID, targetName string
	var instrumentID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT method_id, instrument_id, target_name FROM calibrations WHERE id = $1`,
		id).Scan(&methodID, &instrumentID, &targetName)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}

	// ORDER BY id keeps the lock acquisition order deterministic across
	// competing transactions.
	_, err = tx.ExecContext(ctx,
		`SELECT id FROM calibrations
		 WHERE method_id = $1 AND instrument_id IS NOT DISTINCT FROM $2 AND target_name = $3
		 ORDER BY id FOR UPDATE`,
		methodID, instrumentID, targetName)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE calibrations SET active = false
		 WHERE method_id = $1 AND instrument_id IS NOT DISTINCT FROM $2 AND target_name = $3 AND active`,
		methodID, instrumentID, targetName)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE calibrations SET active = true WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Deactivate clears the active flag on one version
func (r *PostgresCalibrationRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE calibrations SET active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// PostgresRunResultRepository implements RunResultRepository for PostgreSQL
type PostgresRunResultRepository struct {
	db *sql.DB
}

// NewPostgresRunResultRepository creates a new PostgreSQL run result repository
func NewPostgresRunResultRepository(db *sql.DB) repository.RunResultRepository {
	return &PostgresRunResultRepository{db: db}
}

// Store inserts one quantitation outcome for a run
func (r *PostgresRunResultRepository) Store(ctx context.Context, result *models.RunResult) error {
	results, err := json.Marshal(result.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal quant results: %w", err)
	}

	query := `
		INSERT INTO run_results (id, run_id, calibration_id, results, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.ExecContext(ctx, query,
		result.ID,
		result.RunID,
		result.CalibrationID,
		string(results),
		result.CreatedAt)

	return err
}

// GetByRunID retrieves all stored outcomes for a run
func (r *PostgresRunResultRepository) GetByRunID(ctx context.Context, runID string) ([]*models.RunResult, error) {
	query := `
		SELECT id, run_id, calibration_id, results, created_at
		FROM run_results
		WHERE run_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RunResult
	for rows.Next() {
		var result models.RunResult
		var resultsStr string

		if err := rows.Scan(&result.ID, &result.RunID, &result.CalibrationID, &resultsStr, &result.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resultsStr), &result.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quant results: %w", err)
		}
		out = append(out, &result)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCalibration(row rowScanner) (*models.CalibrationModel, error) {
	var model models.CalibrationModel
	var instrumentID sql.NullString
	var isConfigStr sql.NullString
	var mode, outlierPolicy, levelsStr, fitStr, limitsStr string

	err := row.Scan(
		&model.ID,
		&model.MethodID,
		&instrumentID,
		&model.TargetName,
		&mode,
		&isConfigStr,
		&outlierPolicy,
		&levelsStr,
		&fitStr,
		&limitsStr,
		&model.Active,
		&model.CreatedAt)
	if err != nil {
		return nil, err
	}

	model.Mode = models.CalibrationMode(mode)
	model.OutlierPolicy = models.OutlierPolicy(outlierPolicy)
	if instrumentID.Valid {
		model.InstrumentID = &instrumentID.String
	}
	if isConfigStr.Valid {
		var cfg models.InternalStandardConfig
		if err := json.Unmarshal([]byte(isConfigStr.String), &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal is_config: %w", err)
		}
		model.ISConfig = &cfg
	}
	if err := json.Unmarshal([]byte(levelsStr), &model.Levels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal levels: %w", err)
	}
	if err := json.Unmarshal([]byte(fitStr), &model.Fit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fit: %w", err)
	}
	if err := json.Unmarshal([]byte(limitsStr), &model.Limits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
	}
	return &model, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableJSON(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
