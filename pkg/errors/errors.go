// Package errors provides a structured error system for SpellCache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for SpellCache operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Partition source errors
	ErrCodePartitionNotFound   ErrorCode = "PARTITION_NOT_FOUND"
	ErrCodePartitionCorrupt    ErrorCode = "PARTITION_CORRUPT"
	ErrCodePartitionLoadFailed ErrorCode = "PARTITION_LOAD_FAILED"
	ErrCodeSourceUnavailable   ErrorCode = "SOURCE_UNAVAILABLE"

	// Resource management errors
	ErrCodeInvalidThresholds ErrorCode = "INVALID_THRESHOLDS"
	ErrCodeInvalidCapacity   ErrorCode = "INVALID_CAPACITY"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"

	// Internal system errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryPartition     ErrorCategory = "partition"
	CategoryResource      ErrorCategory = "resource"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:       CategoryConfiguration,
	ErrCodeConfigLoad:          CategoryConfiguration,
	ErrCodeConfigValidation:    CategoryConfiguration,
	ErrCodePartitionNotFound:   CategoryPartition,
	ErrCodePartitionCorrupt:    CategoryPartition,
	ErrCodePartitionLoadFailed: CategoryPartition,
	ErrCodeSourceUnavailable:   CategoryPartition,
	ErrCodeInvalidThresholds:   CategoryResource,
	ErrCodeInvalidCapacity:     CategoryResource,
	ErrCodeOperationTimeout:    CategoryOperation,
	ErrCodeOperationCanceled:   CategoryOperation,
}

// SpellCacheError represents a structured error with context and metadata.
type SpellCacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable hints that the same call may succeed later, e.g. a transport failure.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *SpellCacheError) Error() string {
	var sb strings.Builder
	if e.Component != "" {
		sb.WriteString("[")
		sb.WriteString(e.Component)
		if e.Operation != "" {
			sb.WriteString(":")
			sb.WriteString(e.Operation)
		}
		sb.WriteString("] ")
	}
	fmt.Fprintf(&sb, "%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *SpellCacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error by code (for errors.Is compatibility).
func (e *SpellCacheError) Is(target error) bool {
	if other, ok := target.(*SpellCacheError); ok {
		return e.Code == other.Code
	}
	return false
}

// JSON returns the error as a JSON string.
func (e *SpellCacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// Fields flattens the error into structured logging fields
func (e *SpellCacheError) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"code":     string(e.Code),
		"category": string(e.Category),
	}
	if e.Operation != "" {
		fields["operation"] = e.Operation
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields[k] = e.Details[k]
	}
	if e.Cause != nil {
		fields["cause"] = e.Cause.Error()
	}
	return fields
}

// NewError creates a new SpellCache error with default values.
func NewError(code ErrorCode, message string) *SpellCacheError {
	return &SpellCacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Details:   make(map[string]interface{}),
		Timestamp: time.Now(),
		Retryable: code == ErrCodePartitionLoadFailed || code == ErrCodeOperationTimeout,
	}
}

// Sentinel returns a bare error carrying only the code, for use as an errors.Is target.
func Sentinel(code ErrorCode) error {
	return &SpellCacheError{Code: code}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	if category, ok := categories[code]; ok {
		return category
	}
	return CategoryInternal
}

// CodeOf extracts the code of the first SpellCacheError in err's chain
func CodeOf(err error) (ErrorCode, bool) {
	var sce *SpellCacheError
	if stderrors.As(err, &sce) {
		return sce.Code, true
	}
	return "", false
}

// WithDetail adds detailed information to an error
func (e *SpellCacheError) WithDetail(key string, value interface{}) *SpellCacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *SpellCacheError) WithComponent(component string) *SpellCacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *SpellCacheError) WithOperation(operation string) *SpellCacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *SpellCacheError) WithCause(cause error) *SpellCacheError {
	e.Cause = cause
	return e
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
