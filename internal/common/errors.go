package common

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeInitialization for missing configuration that disables the feature
	ErrorTypeInitialization ErrorType = "initialization"
	// ErrorTypeCapture for screenshot rendering failures
	ErrorTypeCapture ErrorType = "capture"
	// ErrorTypeValidation for missing or malformed user input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStorage for object storage upload rejections
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeTransport for failed remote function invocations
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeRemoteApplication for error payloads inside successful responses
	ErrorTypeRemoteApplication ErrorType = "remote_application"
	// ErrorTypeInternal for internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// FeedbackError represents a structured error with context
type FeedbackError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *FeedbackError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *FeedbackError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *FeedbackError) WithContext(key string, value interface{}) *FeedbackError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *FeedbackError) WithCause(cause error) *FeedbackError {
	e.Cause = cause
	return e
}

// WithDetails sets the details string
func (e *FeedbackError) WithDetails(details string) *FeedbackError {
	e.Details = details
	return e
}

// NewError creates a new FeedbackError
func NewError(errorType ErrorType, code, message string) *FeedbackError {
	return &FeedbackError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewInitializationError creates an initialization error
func NewInitializationError(code, message string) *FeedbackError {
	return NewError(ErrorTypeInitialization, code, message)
}

// NewCaptureError creates a capture error
func NewCaptureError(code, message string) *FeedbackError {
	return NewError(ErrorTypeCapture, code, message)
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *FeedbackError {
	return NewError(ErrorTypeValidation, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *FeedbackError {
	return NewError(ErrorTypeStorage, code, message)
}

// NewTransportError creates a transport error
func NewTransportError(code, message string) *FeedbackError {
	return NewError(ErrorTypeTransport, code, message)
}

// NewRemoteApplicationError creates a remote application error
func NewRemoteApplicationError(code, message string) *FeedbackError {
	return NewError(ErrorTypeRemoteApplication, code, message)
}

// NewInternalError creates an internal system error
func NewInternalError(code, message string) *FeedbackError {
	return NewError(ErrorTypeInternal, code, message)
}

// WrapError wraps an existing error with FeedbackError context
func WrapError(err error, errorType ErrorType, code, message string) *FeedbackError {
	return &FeedbackError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// IsType reports whether err carries a FeedbackError of the given type
func IsType(err error, errorType ErrorType) bool {
	var fe *FeedbackError
	if errors.As(err, &fe) {
		return fe.Type == errorType
	}
	return false
}

// UserMessage returns the single message shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *FeedbackError
	if errors.As(err, &fe) {
		return fe.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "An unknown error occurred."
}
