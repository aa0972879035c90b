package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for rejected uploads and edits. No record is created.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when no record has the requested id
	ErrNotFound = errors.New("record not found")
	// ErrNothingToExport is returned when no record has completed yet
	ErrNothingToExport = errors.New("no completed records to export")
	// ErrRecordBusy is returned when editing a record that is still processing
	ErrRecordBusy = errors.New("record is still processing")
	// ErrInternal marks unexpected pipeline faults, including recovered panics
	ErrInternal = errors.New("internal fault")
	// ErrInvalidTransition is returned when an update would move a record backwards
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes which input was rejected and why
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
