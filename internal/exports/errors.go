package exports

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of export error
type ErrorType string

const (
	ErrorTypeProduction    ErrorType = "production"
	ErrorTypeSerialization ErrorType = "serialization"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypePersistence   ErrorType = "persistence"
	ErrorTypeInvalidState  ErrorType = "invalid_state"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypePanic         ErrorType = "panic"
)

var (
	// ErrJobNotFound is returned when no job has the requested id
	ErrJobNotFound = errors.New("export job not found")
	// ErrInvalidTransition is returned for a status change that would go backwards
	ErrInvalidTransition = errors.New("invalid export status transition")
	// ErrUnknownKind is returned when no producer is registered for a kind
	ErrUnknownKind = errors.New("unknown export kind")
	// ErrNotReady is returned when asking for the output of an unfinished job
	ErrNotReady = errors.New("export is not ready")
	// ErrQueueFull is returned when the job queue cannot accept more work
	ErrQueueFull = errors.New("export queue is full")
)

// ExportError describes why an export job did not complete
type ExportError struct {
	Type    ErrorType `json:"type"`
	JobID   string    `json:"job_id,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *ExportError) Error() string {
	if e == nil {
		return "unknown export error"
	}
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.JobID != "" {
		msg = fmt.Sprintf("[%s] job %s: %s", e.Type, e.JobID, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ExportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewValidationError creates an error for a rejected export request
func NewValidationError(message string) *ExportError {
	return &ExportError{Type: ErrorTypeValidation, Message: message}
}

// GetErrorType returns the type of the error, or "" when err is not an
// ExportError
func GetErrorType(err error) ErrorType {
	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		return exportErr.Type
	}
	return ""
}
