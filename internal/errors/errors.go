// Package errors provides centralized error handling with component and
// category metadata for structured logging and failure-policy decisions.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryDiscoveryTimeout ErrorCategory = "discovery-timeout"
	CategoryAuthentication   ErrorCategory = "authentication"
	CategoryProtocolParse    ErrorCategory = "protocol-parse"
	CategoryProcessSpawn     ErrorCategory = "process-spawn"
	CategoryProcessCrash     ErrorCategory = "process-crash"
	CategoryDiskUsage        ErrorCategory = "disk-usage"
	CategoryDiskCleanup      ErrorCategory = "disk-cleanup"
	CategoryTunnel           ErrorCategory = "tunnel"
	CategoryClockDrift       ErrorCategory = "clock-drift"
	CategoryValidation       ErrorCategory = "validation"
	CategoryNetwork          ErrorCategory = "network"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryRTSP             ErrorCategory = "rtsp-connection"
	CategoryPTZ              ErrorCategory = "ptz-control"
	CategoryRecording        ErrorCategory = "recording"
	CategoryNotification     ErrorCategory = "notification"
	CategoryMQTTConnection   ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish      ErrorCategory = "mqtt-publish"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryFileIO           ErrorCategory = "file-io"
	CategoryState            ErrorCategory = "state"
	CategoryGeneric          ErrorCategory = "generic"
)

// ComponentUnknown is used when the component has not been set.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	Component string         // Component where error occurred
	Category  ErrorCategory  // Error category for better grouping
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, otherwise defers to the
// wrapped error chain.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error builder
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if ee.Component == "" {
		ee.Component = ComponentUnknown
	}
	if ee.Category == "" {
		ee.Category = CategoryGeneric
	}
	return ee
}

// HasCategory reports whether any error in err's chain carries the given
// category. Callers use this to pick a degradation policy without matching
// on error strings.
func HasCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category == category
	}
	return false
}

// Standard library compatibility functions

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error wrapping the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
