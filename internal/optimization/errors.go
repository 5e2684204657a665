// Package optimization holds the error taxonomy shared by the optimisation engine packages.
package optimization

import (
	"errors"
	"fmt"
)

// Kind classifies an optimisation error so callers can branch with errors.Is.
type Kind int

const (
	// KindUnknown is the zero Kind.
	KindUnknown Kind = iota
	// KindOutOfRange reports a value outside its legal domain.
	KindOutOfRange
	// KindArgument reports an invalid argument or a violated container invariant.
	KindArgument
	// KindInvalidState reports a lifecycle transition attempted from the wrong state.
	KindInvalidState
	// KindKeyNotFound reports a missing property.
	KindKeyNotFound
	// KindTimeout reports an exhausted retry budget.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindOutOfRange:
		return "out of range"
	case KindArgument:
		return "invalid argument"
	case KindInvalidState:
		return "invalid state"
	case KindKeyNotFound:
		return "key not found"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the matching Kind compares equal to them.
var (
	ErrOutOfRange   = &Error{Kind: KindOutOfRange, Message: KindOutOfRange.String()}
	ErrArgument     = &Error{Kind: KindArgument, Message: KindArgument.String()}
	ErrInvalidState = &Error{Kind: KindInvalidState, Message: KindInvalidState.String()}
	ErrKeyNotFound  = &Error{Kind: KindKeyNotFound, Message: KindKeyNotFound.String()}
	ErrTimeout      = &Error{Kind: KindTimeout, Message: KindTimeout.String()}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same non-zero Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != KindUnknown && e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// The kind of a wrapped *Error is inherited when kind is KindUnknown.
// If err is nil, WrapError returns nil.
func WrapError(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	if kind == KindUnknown {
		kind = KindOf(err)
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
