package calibration

import (
	"fmt"

	"github.com/chromaworks/chromaquant/pkg/models"
)

// InputError reports a caller mistake in the fit or quantitation input.
// LevelIndex is -1 when the error is not tied to a specific level.
type InputError struct {
	Field      string
	LevelIndex int
	Reason     string
}

func (e *InputError) Error() string {
	if e.LevelIndex >= 0 {
		return fmt.Sprintf("invalid input %s at level %d: %s", e.Field, e.LevelIndex, e.Reason)
	}
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

func inputErr(field string, levelIndex int, format string, args ...interface{}) *InputError {
	return &InputError{Field: field, LevelIndex: levelIndex, Reason: fmt.Sprintf(format, args...)}
}

// TooFewLevelsError reports that the surviving level count cannot
// support the chosen model.
type TooFewLevelsError struct {
	ModelType models.ModelType
	Required  int
	Got       int
}

func (e *TooFewLevelsError) Error() string {
	return fmt.Sprintf("model %s requires at least %d levels, got %d", e.ModelType, e.Required, e.Got)
}

// DegenerateDataError reports input on which the regression is
// mathematically undefined, such as zero concentration spread.
type DegenerateDataError struct {
	Reason string
}

func (e *DegenerateDataError) Error() string {
	return "degenerate calibration data: " + e.Reason
}

// LimitInputError reports missing or unusable inputs for the chosen
// limit estimation method.
type LimitInputError struct {
	Method models.LimitMethod
	Reason string
}

func (e *LimitInputError) Error() string {
	return fmt.Sprintf("limit method %s: %s", e.Method, e.Reason)
}
