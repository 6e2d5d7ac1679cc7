package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypePathTraversal ErrorType = "path_traversal"
	ErrorTypeFileType      ErrorType = "file_type"
	ErrorTypeFileSize      ErrorType = "file_size"
	ErrorTypeSecurity      ErrorType = "security"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is comparisons. Never attach details to these;
// use the constructors below instead.
var (
	ErrNotFound      = NewDomainError(ErrorTypeNotFound, "resource not found", nil)
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnauthorized  = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrForbidden     = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrUpstream      = NewDomainError(ErrorTypeExternal, "downstream service error", nil)
	ErrPathTraversal = NewDomainError(ErrorTypePathTraversal, "path escapes sandbox", nil)
	ErrFileType      = NewDomainError(ErrorTypeFileType, "file type not allowed", nil)
	ErrFileSize      = NewDomainError(ErrorTypeFileSize, "file too large", nil)
	ErrSecurity      = NewDomainError(ErrorTypeSecurity, "security policy violation", nil)
)

// NewPathTraversalError reports an attempted escape from a sandbox root.
func NewPathTraversalError(message string) *DomainError {
	return NewDomainError(ErrorTypePathTraversal, message, nil)
}

// NewFileTypeError reports a disallowed file extension.
func NewFileTypeError(message string) *DomainError {
	return NewDomainError(ErrorTypeFileType, message, nil)
}

// NewFileSizeError reports content above the configured size ceiling.
func NewFileSizeError(message string) *DomainError {
	return NewDomainError(ErrorTypeFileSize, message, nil)
}

// NewSecurityError reports a generic policy violation such as a blocked filename.
func NewSecurityError(message string) *DomainError {
	return NewDomainError(ErrorTypeSecurity, message, nil)
}

// NewValidationError reports malformed caller input.
func NewValidationError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, err)
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, err)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is a downstream service error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// IsPathTraversalError checks if an error is a sandbox escape
func IsPathTraversalError(err error) bool {
	return GetErrorType(err) == ErrorTypePathTraversal
}

// IsSecurityError reports whether err belongs to the security family:
// path traversal, file type, file size and generic policy violations.
func IsSecurityError(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypePathTraversal, ErrorTypeFileType, ErrorTypeFileSize, ErrorTypeSecurity, ErrorTypeForbidden:
		return true
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as a downstream service error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
