// Package cicderr defines the tagged error type every core subsystem
// returns. A single struct with a Kind discriminant stands in for the
// exception hierarchy the original tool carried, so callers can dispatch on
// Kind with errors.As instead of catching a family of concrete types.
package cicderr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy from the error-handling design.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindGitOperation    Kind = "GitOperationError"
	KindClone           Kind = "CloneError"
	KindCheckout        Kind = "CheckoutError"
	KindBuild           Kind = "BuildError"
	KindContainerStart  Kind = "ContainerStartError"
	KindPortConflict    Kind = "PortConflictError"
	KindHealthCheck     Kind = "HealthCheckError"
	KindDockerOperation Kind = "DockerOperationError"
	KindRollback        Kind = "RollbackError"
	KindConfiguration   Kind = "ConfigurationError"
)

// Error is the single error type returned by every core subsystem. Context
// carries the minimal set of values that identify the failed operation
// (container name, image tag, port, url, log tail, ...).
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error with the given kind, message and context. context may
// be nil, in which case an empty map is used so callers can always range
// over it.
func New(kind Kind, message string, context map[string]any) *Error {
	if context == nil {
		context = map[string]any{}
	}
	return &Error{Kind: kind, Message: message, Context: context}
}

// Wrap builds an Error that chains an underlying cause, preserving it for
// errors.Unwrap/errors.Is while still exposing the tagged Kind at the
// boundary.
func Wrap(kind Kind, cause error, message string, context map[string]any) *Error {
	e := New(kind, message, context)
	e.cause = cause
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fmt is a convenience constructor mirroring fmt.Errorf's message
// formatting, used at call sites that previously built an error string by
// hand.
func Fmt(kind Kind, context map[string]any, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...), context)
}
