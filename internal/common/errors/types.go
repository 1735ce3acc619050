// Package errors defines the structured error taxonomy shared by the routing engines.
//
// Only two kinds ever reach a caller of the decision path: ExhaustedCandidates (no
// decision can be made) and Validation (a rule or contract term was rejected at creation).
// StoreUnavailable and Timeout are recovered locally by falling back to neutral defaults.
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
	// ErrTypeValidation represents malformed input such as an invalid rule expression
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeNotFound represents a missing resource (rules); absent routing state is never an error
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeStoreUnavailable represents a state store that could not be reached
	ErrTypeStoreUnavailable ErrorType = "store_unavailable"
	// ErrTypeExhaustedCandidates represents a decision with zero candidates left after fallback
	ErrTypeExhaustedCandidates ErrorType = "exhausted_candidates"
	// ErrTypeTimeout represents an operation that exceeded its latency budget
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
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

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ValidationErrorf creates a validation error wrapping the cause that rejected the input
func ValidationErrorf(cause error, format string, args ...interface{}) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// StoreUnavailableError creates an error for a state store operation that could not complete
func StoreUnavailableError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeStoreUnavailable,
		Message: fmt.Sprintf("state store unavailable during %s", operation),
		Cause:   cause,
	}
}

// ExhaustedCandidatesError creates the one error surfaced by a routing decision
func ExhaustedCandidatesError(requestID string) *AppError {
	return (&AppError{
		Type:    ErrTypeExhaustedCandidates,
		Message: "no candidate connectors left to route to",
	}).WithContext("request_id", requestID)
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error, or any error it wraps, is an AppError of a specific type
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

// IsRecoverable reports whether the decision path may continue with a neutral default
// instead of failing: unavailable stores, timeouts and cancelled budgets all qualify.
func IsRecoverable(err error) bool {
	switch GetType(err) {
	case ErrTypeStoreUnavailable, ErrTypeTimeout, ErrTypeNotFound:
		return true
	default:
		return false
	}
}
