package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrTimeout         = errors.New("timeout")
	ErrInvalidInput    = errors.New("invalid input")
	ErrResourceBusy    = errors.New("resource busy")
	ErrUpstream        = errors.New("upstream failure")
	ErrInternal        = errors.New("internal error")
)

// Kind represents the category of a platform error.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindResourceBusy    Kind = "resource_busy"
	KindUpstream        Kind = "upstream_failure"
	KindInternal        Kind = "internal_error"
	KindTimeout         Kind = "timeout"
)

// PlatformError is a structured error for platform operations.
type PlatformError struct {
	Kind      Kind
	Op        string // Operation that failed (e.g., "auth.login", "events.mirror")
	Err       error  // Underlying error
	Fields    map[string]string
	Timestamp time.Time
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is matching against the base error types.
func (e *PlatformError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnauthenticated:
		return e.Kind == KindUnauthenticated
	case ErrForbidden:
		return e.Kind == KindForbidden
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrResourceBusy:
		return e.Kind == KindResourceBusy
	case ErrUpstream:
		return e.Kind == KindUpstream
	case ErrInvalidInput:
		return e.Kind == KindValidation
	case ErrInternal:
		return e.Kind == KindInternal
	}

	return errors.Is(e.Err, target)
}

// New creates a new PlatformError.
func New(kind Kind, op string, err error) *PlatformError {
	return &PlatformError{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Newf creates a PlatformError with a formatted message and no wrapped cause.
func Newf(kind Kind, op, format string, args ...interface{}) *PlatformError {
	return New(kind, op, fmt.Errorf(format, args...))
}

// WithField attaches a field-level detail, used for validation errors.
func (e *PlatformError) WithField(field, problem string) *PlatformError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = problem
	return e
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *PlatformError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindResourceBusy:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to surface to clients.
// Validation and conflict errors surface their details; everything
// security-sensitive collapses to a generic message.
func (e *PlatformError) PublicMessage() string {
	switch e.Kind {
	case KindValidation:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "validation failed"
	case KindUnauthenticated:
		return "authentication required"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "resource not found"
	case KindConflict:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "conflict"
	case KindResourceBusy:
		return "service temporarily unavailable"
	case KindUpstream:
		return "upstream dependency unavailable"
	case KindTimeout:
		return "request timed out"
	default:
		return "an unexpected error occurred"
	}
}

// Helper constructors

func Validation(op string, err error) *PlatformError {
	return New(KindValidation, op, err)
}

func Unauthenticated(op string) *PlatformError {
	return New(KindUnauthenticated, op, nil)
}

func Forbidden(op string) *PlatformError {
	return New(KindForbidden, op, nil)
}

func NotFound(op, resource string) *PlatformError {
	return Newf(KindNotFound, op, "%s not found", resource)
}

func Conflict(op string, err error) *PlatformError {
	return New(KindConflict, op, err)
}

func Internal(op string, err error) *PlatformError {
	return New(KindInternal, op, err)
}

func Upstream(op string, err error) *PlatformError {
	return New(KindUpstream, op, err)
}

// StatusFor resolves any error to an HTTP status code. Unclassified errors
// become 500.
func StatusFor(err error) int {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.HTTPStatus()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrResourceBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// MessageFor resolves any error to a client-safe message.
func MessageFor(err error) string {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.PublicMessage()
	}
	return "an unexpected error occurred"
}

// FieldsFor returns field-level details when the error carries them.
func FieldsFor(err error) map[string]string {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Fields
	}
	return nil
}
