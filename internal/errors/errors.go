package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

// ErrorType classifies a pipeline error for retry and routing decisions.
type ErrorType string

const (
	ErrTypeTransient  ErrorType = "TRANSIENT"
	ErrTypePermanent  ErrorType = "PERMANENT"
	ErrTypeAuth       ErrorType = "AUTHENTICATION"
	ErrTypeExtraction ErrorType = "EXTRACTION"
	ErrTypeCoercion   ErrorType = "COERCION"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeStore      ErrorType = "STORE"
	ErrTypeConfig     ErrorType = "CONFIG"
)

// PipelineError is the error type carried through extraction and loading.
// Retryable drives the retry policy; Type drives per-record vs per-run routing.
type PipelineError struct {
	Type      ErrorType
	Source    string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e == nil {
		return "unknown pipeline error"
	}
	if e.Source != "" {
		if e.Cause != nil {
			return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Source, e.Message, e.Cause)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with PipelineError
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithContext adds context to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewTransient creates a recoverable error (network blip, 5xx, rate limit).
func NewTransient(source, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:      ErrTypeTransient,
		Source:    source,
		Message:   message,
		Cause:     cause,
		Retryable: true,
	}
}

// NewPermanent creates a non-recoverable error that aborts the source's
// extraction for the run.
func NewPermanent(source, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:      ErrTypePermanent,
		Source:    source,
		Message:   message,
		Cause:     cause,
		Retryable: false,
	}
}

// NewAuth creates an authentication error. Credentials rejected by a source
// never become valid by retrying.
func NewAuth(source, message string) *PipelineError {
	return &PipelineError{
		Type:      ErrTypeAuth,
		Source:    source,
		Message:   message,
		Retryable: false,
	}
}

// NewExtraction creates a parse/shape error for a source response.
func NewExtraction(source, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:      ErrTypeExtraction,
		Source:    source,
		Message:   message,
		Cause:     cause,
		Retryable: false,
	}
}

// NewCoercion creates a per-record coercion error. Routed to the rejected
// set, never pipeline-fatal.
func NewCoercion(field, message string) *PipelineError {
	return &PipelineError{
		Type:      ErrTypeCoercion,
		Message:   message,
		Retryable: false,
		Context:   map[string]interface{}{"field": field},
	}
}

// NewStore creates a storage error. Retryable covers transient conditions
// such as serialization failures and dropped connections.
func NewStore(message string, cause error, retryable bool) *PipelineError {
	return &PipelineError{
		Type:      ErrTypeStore,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// NewConfig creates a configuration error
func NewConfig(message string, cause error) *PipelineError {
	return &PipelineError{
		Type:      ErrTypeConfig,
		Message:   message,
		Cause:     cause,
		Retryable: false,
	}
}

// IsTransient reports whether err should be retried. Raw network errors
// from the standard library count as transient even when unwrapped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Retryable
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	// Context cancellation is a caller decision, not a transient fault.
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return false
}

// IsPermanent reports whether err is a hard failure for the source.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return !pe.Retryable
	}
	return false
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type == ErrTypeAuth
	}
	return false
}

// TypeOf returns the classification of err, or empty for foreign errors.
func TypeOf(err error) ErrorType {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type
	}
	return ""
}
