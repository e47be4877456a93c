// Package errors provides the structured error system for scenecache with
// error codes, categories, and wrapping support.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for scenecache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Capacity and resource errors
	ErrCodeCacheCapacity     ErrorCode = "CACHE_CAPACITY"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeUnsizedValue      ErrorCode = "UNSIZED_VALUE"

	// Input errors
	ErrCodeInvalidPattern ErrorCode = "INVALID_PATTERN"
	ErrCodeInvalidKey     ErrorCode = "INVALID_KEY"

	// Streaming and transport errors
	ErrCodeFetchFailed   ErrorCode = "FETCH_FAILED"
	ErrCodeFetchCanceled ErrorCode = "FETCH_CANCELED"
	ErrCodeTransport     ErrorCode = "TRANSPORT"

	// Persistence errors
	ErrCodeStoreRead     ErrorCode = "STORE_READ"
	ErrCodeStoreWrite    ErrorCode = "STORE_WRITE"
	ErrCodeStoreCorrupt  ErrorCode = "STORE_CORRUPT"
	ErrCodeStoreNotFound ErrorCode = "STORE_NOT_FOUND"

	// State errors
	ErrCodeClosed       ErrorCode = "CLOSED"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryResource      ErrorCategory = "resource"
	CategoryInput         ErrorCategory = "input"
	CategoryTransport     ErrorCategory = "transport"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// Error represents a structured error with code, category, and context.
type Error struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Cause != nil {
			return fmt.Sprintf("[%s] %s: %s: %v", e.Component, e.Code, e.Message, e.Cause)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two structured errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithComponent tags the error with the component that produced it.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// New creates a new structured error.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a new structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error that wraps an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

func categoryOf(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "INVALID_CONFIG") || strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "CACHE_") || strings.HasPrefix(s, "RESOURCE_") || s == "UNSIZED_VALUE":
		return CategoryResource
	case strings.HasPrefix(s, "INVALID_PATTERN") || strings.HasPrefix(s, "INVALID_KEY"):
		return CategoryInput
	case strings.HasPrefix(s, "FETCH_") || strings.HasPrefix(s, "TRANSPORT"):
		return CategoryTransport
	case strings.HasPrefix(s, "STORE_"):
		return CategoryPersistence
	case s == "CLOSED" || strings.HasPrefix(s, "INVALID_STATE"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeFetchFailed, ErrCodeTransport, ErrCodeResourceExhausted:
		return true
	}
	return false
}

// Sentinel helpers. Matching is by code, so callers can use errors.Is
// against these without caring which component produced the error.

// ErrCapacity is the sentinel for payloads that no layer can accommodate.
var ErrCapacity = New(ErrCodeCacheCapacity, "payload exceeds cache capacity")

// ErrInvalidPattern is the sentinel for malformed invalidation patterns.
var ErrInvalidPattern = New(ErrCodeInvalidPattern, "malformed invalidation pattern")

// ErrUnsizedValue is the sentinel for values the size estimator cannot measure.
var ErrUnsizedValue = New(ErrCodeUnsizedValue, "value does not implement Sized and has no known size")

// ErrStoreNotFound is the sentinel for keys absent from a persistent store.
var ErrStoreNotFound = New(ErrCodeStoreNotFound, "key not found in persistent store")

// ErrClosed is the sentinel for operations on a stopped component.
var ErrClosed = New(ErrCodeClosed, "component is closed")

// IsCapacity reports whether err is a cache capacity error.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}

// IsInvalidPattern reports whether err is a malformed pattern error.
func IsInvalidPattern(err error) bool {
	return errors.Is(err, ErrInvalidPattern)
}

// IsNotFound reports whether err is a persistent store miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStoreNotFound)
}
