package utils

import (
	"errors"
	"fmt"
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
//
// Parameters:
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Stage identifies the pipeline step that failed.
type Stage string

const (
	StageLoad  Stage = "load"
	StageFit   Stage = "fit"
	StageWrite Stage = "write"
)

// Sentinels matched by errors.Is against a PipelineError of the same stage.
var (
	ErrLoad  = errors.New("load error")
	ErrFit   = errors.New("fit error")
	ErrWrite = errors.New("write error")
)

// PipelineError is a fatal failure of one batch stage. All of them abort the run.
type PipelineError struct {
	Stage Stage
	Err   error
}

// Error returns the stage-prefixed message.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

// Unwrap exposes the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches the stage sentinel so callers can use errors.Is(err, ErrFit).
func (e *PipelineError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *PipelineError) sentinel() error {
	switch e.Stage {
	case StageLoad:
		return ErrLoad
	case StageFit:
		return ErrFit
	case StageWrite:
		return ErrWrite
	default:
		return errors.New(string(e.Stage))
	}
}

// NewLoadError wraps a failure reading or parsing the demand dataset.
func NewLoadError(format string, args ...interface{}) error {
	return &PipelineError{Stage: StageLoad, Err: fmt.Errorf(format, args...)}
}

// NewFitError wraps a failure fitting the seasonal model.
func NewFitError(format string, args ...interface{}) error {
	return &PipelineError{Stage: StageFit, Err: fmt.Errorf(format, args...)}
}

// NewWriteError wraps a failure persisting a forecast.
func NewWriteError(format string, args ...interface{}) error {
	return &PipelineError{Stage: StageWrite, Err: fmt.Errorf(format, args...)}
}

// StageOf returns the stage of the first PipelineError in err's chain.
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}
