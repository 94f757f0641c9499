package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies control-plane errors per the taxonomy callers are
// expected to branch on.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"

	// Process lifecycle errors.
	ErrorTypeSpawn        ErrorType = "spawn"
	ErrorTypePortConflict ErrorType = "port_conflict"

	// Health probing errors. A timeout (no answer) is never conflated with
	// an unhealthy reply (negative answer): a timeout may warrant a
	// lower-level diagnostic before declaring the process dead.
	ErrorTypeHealthTimeout   ErrorType = "health_timeout"
	ErrorTypeHealthUnhealthy ErrorType = "health_unhealthy"

	// System errors.
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeInternal  ErrorType = "internal"
	ErrorTypeCancelled ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Process lifecycle errors
func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewPortConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePortConflict, message, cause)
}

// Health probing errors
func NewHealthTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHealthTimeout, message, cause)
}

func NewHealthUnhealthyError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHealthUnhealthy, message, cause)
}

// System errors
func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Error checking helpers
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsSpawnError(err error) bool {
	return isType(err, ErrorTypeSpawn)
}

func IsPortConflictError(err error) bool {
	return isType(err, ErrorTypePortConflict)
}

func IsHealthTimeoutError(err error) bool {
	return isType(err, ErrorTypeHealthTimeout)
}

func IsHealthUnhealthyError(err error) bool {
	return isType(err, ErrorTypeHealthUnhealthy)
}

func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

// isType walks the whole unwrap chain so an escalated error (for example a
// port conflict wrapped into a spawn failure) still matches its cause type.
func isType(err error, errorType ErrorType) bool {
	for err != nil {
		if domainErr, ok := err.(*DomainError); ok && domainErr.Type == errorType {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsTransient reports whether an error belongs to the default transient set
// used by retry classification: network hiccups, timeouts and IO failures.
func IsTransient(err error) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	switch domainErr.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeIO, ErrorTypeHealthTimeout:
		return true
	}
	return false
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
