package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryParse         ErrorCategory = "parse"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryNotFound      ErrorCategory = "not_found"
	ErrorCategoryDatabase      ErrorCategory = "database"
	ErrorCategoryLifecycle     ErrorCategory = "lifecycle"
)

// ServiceError represents a standardized error with additional context
type ServiceError struct {
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Details     interface{}   `json:"details,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	ServiceName string        `json:"service_name"`
	Operation   string        `json:"operation"`
	Retryable   bool          `json:"retryable"`
	Cause       error         `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(category ErrorCategory, code, message, serviceName, operation string, retryable bool, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		ServiceName: serviceName,
		Operation:   operation,
		Retryable:   retryable,
		Cause:       cause,
	}
}

// NewNetworkError reports a failed transport or a non-OK status
func NewNetworkError(serviceName, operation string, cause error) *ServiceError {
	msg := "network request failed"
	if cause != nil {
		msg = cause.Error()
	}
	return NewServiceError(ErrorCategoryNetwork, "NETWORK_ERROR", msg, serviceName, operation, true, cause)
}

// NewTimeoutError reports that no response arrived within the bound
func NewTimeoutError(serviceName, operation string, bound time.Duration, cause error) *ServiceError {
	return NewServiceError(ErrorCategoryTimeout, "TIMEOUT",
		fmt.Sprintf("no response within %v", bound), serviceName, operation, true, cause)
}

// NewParseError reports a response that is not valid JSON
func NewParseError(serviceName, operation string, cause error) *ServiceError {
	msg := "response could not be parsed"
	if cause != nil {
		msg = fmt.Sprintf("response could not be parsed: %v", cause)
	}
	return NewServiceError(ErrorCategoryParse, "PARSE_ERROR", msg, serviceName, operation, false, cause)
}

// NewValidationError names the missing required field
func NewValidationError(serviceName, operation, field string) *ServiceError {
	return NewServiceError(ErrorCategoryValidation, "MISSING_FIELD",
		fmt.Sprintf("required field %q is empty", field), serviceName, operation, false, nil).
		WithDetails(map[string]string{"field": field})
}

// NewNotFoundError reports a missing (who, item) record
func NewNotFoundError(serviceName, operation, who, item string) *ServiceError {
	return NewServiceError(ErrorCategoryNotFound, "RECORD_NOT_FOUND",
		fmt.Sprintf("no gift for %q with item %q", who, item), serviceName, operation, false, nil).
		WithDetails(map[string]string{"who": who, "item": item})
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(details interface{}) *ServiceError {
	e.Details = details
	return e
}

// IsRetryable returns whether the error is retryable
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// GetCategory returns the error category
func (e *ServiceError) GetCategory() ErrorCategory {
	return e.Category
}

// LogError logs the error with structured fields
func (e *ServiceError) LogError() {
	logrus.WithFields(logrus.Fields{
		"error_category":   e.Category,
		"error_code":       e.Code,
		"error_message":    e.Message,
		"service_name":     e.ServiceName,
		"operation":        e.Operation,
		"retryable":        e.Retryable,
		"timestamp":        e.Timestamp,
		"details":          e.Details,
		"underlying_error": e.Cause,
	}).Error("Service error occurred")
}

// WrapError wraps an existing error with service error context
func WrapError(err error, category ErrorCategory, code, serviceName, operation string, retryable bool) *ServiceError {
	if err == nil {
		return nil
	}

	// If it's already a ServiceError, just update the context
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		serviceErr.ServiceName = serviceName
		serviceErr.Operation = operation
		return serviceErr
	}

	return NewServiceError(category, code, err.Error(), serviceName, operation, retryable, err)
}

// IsCategory reports whether any ServiceError in the chain has the given category
func IsCategory(err error, category ErrorCategory) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Category == category
	}
	return false
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.IsRetryable()
	}

	// Default heuristics for standard errors
	errorMsg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout", "connection refused", "connection reset",
		"temporary failure", "service unavailable", "too many requests",
		"network", "dns", "socket",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errorMsg, pattern) {
			return true
		}
	}

	return false
}
