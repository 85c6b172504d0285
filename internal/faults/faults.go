// Package faults defines the structured error kinds surfaced by the
// rollout engine. Every kind unwraps to a sentinel so callers can branch
// with errors.Is without caring about the concrete type.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrTransient    = errors.New("transient device error")
	ErrFatalConfig  = errors.New("fatal configuration error")
	ErrNotFound     = errors.New("resource not found")
	ErrPrecondition = errors.New("precondition not met")
)

// Device error codes persisted on run devices and events.
const (
	CodeConnectFailed    = "CONNECT_FAILED"
	CodeSerialTimeout    = "SERIAL_TIMEOUT"
	CodeCLIError         = "CLI_ERROR"
	CodeVerifyFailed     = "VERIFY_FAILED"
	CodeTemplateError    = "TEMPLATE_ERROR"
	CodeHashMismatch     = "HASH_MISMATCH"
	CodeCancelled        = "CANCELLED"
	CodeInterrupted      = "INTERRUPTED"
	CodeDependencyFailed = "DEPENDENCY_FAILED"
	CodeInternal         = "INTERNAL"
)

// Issue is one row or field level finding.
type Issue struct {
	Row        int    `json:"row,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Row > 0 {
		fmt.Fprintf(&b, "row %d: ", i.Row)
	}
	if i.DeviceID != "" {
		fmt.Fprintf(&b, "device %s: ", i.DeviceID)
	}
	if i.Field != "" {
		fmt.Fprintf(&b, "%s: ", i.Field)
	}
	b.WriteString(i.Message)
	if i.Suggestion != "" {
		fmt.Fprintf(&b, " (suggestion: %s)", i.Suggestion)
	}
	return b.String()
}

// ValidationError aggregates one or more issues.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "validation failed: " + e.Issues[0].String()
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError from issues.
func NewValidationError(issues ...Issue) *ValidationError {
	return &ValidationError{Issues: issues}
}

// ConflictError reports a state conflict such as an active run or a
// duplicated console port.
type ConflictError struct {
	Resource string
	Reason   string
	Port     int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError creates a new conflict error.
func NewConflictError(resource, reason string) *ConflictError {
	return &ConflictError{Resource: resource, Reason: reason}
}

// PreconditionError represents a failed precondition check with context.
type PreconditionError struct {
	Operation    string
	Precondition string
	Issues       []Issue
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("precondition failed for %s: %s", e.Operation, e.Precondition)
	if len(e.Issues) > 0 {
		parts := make([]string, len(e.Issues))
		for i, issue := range e.Issues {
			parts[i] = issue.String()
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// DeviceError is a failure observed while pushing to one device.
// Transient errors are retried by the worker; the rest fail the
// device immediately.
type DeviceError struct {
	Code      string
	Message   string
	Raw       string
	Transient bool
	Err       error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DeviceError) Unwrap() []error {
	kind := ErrFatalConfig
	if e.Transient {
		kind = ErrTransient
	}
	if e.Err != nil {
		return []error{kind, e.Err}
	}
	return []error{kind}
}

// Transient wraps err as a retryable device error.
func Transient(code, message string, err error) *DeviceError {
	return &DeviceError{Code: code, Message: message, Transient: true, Err: err}
}

// Fatal wraps err as a non-retryable device error.
func Fatal(code, message string, err error) *DeviceError {
	return &DeviceError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the device error code from err, falling back to
// CodeInternal for unstructured errors.
func CodeOf(err error) string {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
