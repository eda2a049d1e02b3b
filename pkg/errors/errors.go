package errors

import (
	stderrors "errors"
	"fmt"
)

// Stage names the pipeline step that produced a fatal error.
type Stage string

const (
	StageDecode   Stage = "decode"
	StageResolve  Stage = "resolve"
	StageGenerate Stage = "generate"
	StageAssemble Stage = "assemble"
	StageAllocate Stage = "allocate"
	StageIO       Stage = "io"
	StageExecute  Stage = "execute"
	StageStore    Stage = "store"
	StageConfig   Stage = "config"
)

// StageError is an unrecoverable failure attributed to one pipeline stage.
// Bounds violations are never reported through this type.
type StageError struct {
	Stage   Stage
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// IsStageError checks if any error in the chain is a StageError
func IsStageError(err error) bool {
	var se *StageError
	return stderrors.As(err, &se)
}

// StageOf returns the stage of the first StageError in the chain
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Wrap wraps an existing error as a failure of the given stage
func Wrap(stage Stage, err error, message string) *StageError {
	return &StageError{
		Stage:   stage,
		Message: message,
		Cause:   err,
	}
}

// Errorf creates a new stage error with formatted message
func Errorf(stage Stage, format string, args ...interface{}) *StageError {
	return &StageError{
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}
