// Package errors defines the gateway's error taxonomy. Every failure the
// pipeline can report is an *AppError whose Type decides how it is handled:
// synchronous NACK, permanent drop, delayed redelivery or consumed-as-is.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents structural or schema validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeRouting represents a missing or inadmissible destination
	ErrTypeRouting ErrorType = "routing"
	// ErrTypeEnqueue represents publish-time failures
	ErrTypeEnqueue ErrorType = "enqueue"
	// ErrTypeRequestCreation represents an outbound payload that cannot be built
	ErrTypeRequestCreation ErrorType = "request_creation"
	// ErrTypeHostUnreachable represents an outbound transport failure
	ErrTypeHostUnreachable ErrorType = "host_unreachable"
	// ErrTypeMessageRejected represents a negative answer from the remote party
	ErrTypeMessageRejected ErrorType = "message_rejected"
	// ErrTypeResponseProcessing represents a remote response that cannot be parsed
	ErrTypeResponseProcessing ErrorType = "response_processing"
	// ErrTypeUnsupported represents protocol features the gateway refuses
	ErrTypeUnsupported ErrorType = "unsupported"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func newError(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{Type: errType, Message: msg, Cause: cause}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return newError(ErrTypeConnection, msg, cause)
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return newError(ErrTypeValidation, msg, nil)
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return newError(ErrTypeConfig, msg, nil)
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return newError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return newError(ErrTypeInternal, msg, cause)
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return newError(ErrTypeTimeout, fmt.Sprintf("timeout during %s", operation), nil)
}

// RoutingError reports that no admissible destination exists for a message
func RoutingError(msg string) *AppError {
	return newError(ErrTypeRouting, msg, nil)
}

// EnqueueError reports a failure to durably queue a message
func EnqueueError(msg string, cause error) *AppError {
	return newError(ErrTypeEnqueue, msg, cause)
}

// RequestCreationError reports an outbound request that could not be built
func RequestCreationError(msg string, cause error) *AppError {
	return newError(ErrTypeRequestCreation, msg, cause)
}

// HostUnreachableError reports a transport-level delivery failure
func HostUnreachableError(host string, cause error) *AppError {
	return newError(ErrTypeHostUnreachable, fmt.Sprintf("host %s unreachable", host), cause).
		WithContext("host", host)
}

// CodeUnrecoverable marks a host failure that retrying cannot fix, such as
// an endpoint URL that does not parse.
const CodeUnrecoverable = "UNRECOVERABLE"

// UnrecoverableHostError reports a host that cannot be reached as configured
func UnrecoverableHostError(host string, cause error) *AppError {
	return HostUnreachableError(host, cause).WithCode(CodeUnrecoverable)
}

// IsUnrecoverable reports whether err was created by UnrecoverableHostError
func IsUnrecoverable(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == CodeUnrecoverable
}

// MessageRejectedError reports a delivered message the remote party refused
func MessageRejectedError(msg string) *AppError {
	return newError(ErrTypeMessageRejected, msg, nil)
}

// ResponseProcessingError reports a remote response that could not be interpreted
func ResponseProcessingError(msg string, cause error) *AppError {
	return newError(ErrTypeResponseProcessing, msg, cause)
}

// UnsupportedError reports a protocol feature the gateway does not implement
func UnsupportedError(feature string) *AppError {
	return newError(ErrTypeUnsupported, fmt.Sprintf("%s messages are not supported", feature), nil)
}

// IsType checks if an error, or any error it wraps, is an AppError of errType
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
