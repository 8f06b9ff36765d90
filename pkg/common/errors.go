package common

import (
	"errors"
	"fmt"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrDetection        = errors.New("detection failure")
	ErrCropWrite        = errors.New("crop write failure")
	ErrRecognitionTrial = errors.New("recognition trial failure")
	ErrPersistence      = errors.New("persistence failure")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// AppError carries a failure kind plus the operation that produced it.
type AppError struct {
	Kind    error
	Op      string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is this error's kind.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func NewAppError(kind error, op, message string, cause error) *AppError {
	return &AppError{Kind: kind, Op: op, Message: message, Cause: cause}
}

func DetectionFailure(op string, cause error) error {
	return NewAppError(ErrDetection, op, "", cause)
}

func CropWriteFailure(op string, cause error) error {
	return NewAppError(ErrCropWrite, op, "", cause)
}

func RecognitionTrialFailure(op string, cause error) error {
	return NewAppError(ErrRecognitionTrial, op, "", cause)
}

// PersistenceFailure wraps a ledger write or query error. A cause that is
// already a NotFound failure is returned unchanged.
func PersistenceFailure(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrNotFound) {
		return cause
	}
	return NewAppError(ErrPersistence, op, "", cause)
}

func NotFoundFailure(op, what string, id any) error {
	return NewAppError(ErrNotFound, op, fmt.Sprintf("%s %v not found", what, id), nil)
}

func InvalidInput(op, message string) error {
	return NewAppError(ErrInvalidInput, op, message, nil)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
