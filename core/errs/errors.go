// Package errs defines the error kinds surfaced by the core services.
//
// Every failure returned by a core operation wraps exactly one kind so callers
// can branch with errors.Is without knowing which store produced it:
//   - ErrInvalidInput: malformed or out-of-range field, never retried
//   - ErrConflict: concurrent mutation or duplicate request, redo the read-decide-write cycle
//   - ErrInvalidState: operation not valid in the current lifecycle state
//   - ErrUnavailable: store or network failure, retry with backoff
//   - ErrNotFound: referenced record absent
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrNotFound     = errors.New("not found")
)

// Error attaches the operation intent to a failure.
type Error struct {
	Kind error  // one of the sentinel kinds above
	Op   string // e.g. "failed to add trash"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an Error of the given kind with a formatted cause.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil. If err already carries
// a kind, that kind is kept and only the operation is prefixed.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if k := KindOf(err); k != nil {
		kind = k
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the sentinel kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrInvalidInput, ErrConflict, ErrInvalidState, ErrNotFound, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}

// Code is the stable machine-readable name of err's kind.
func Code(err error) string {
	switch KindOf(err) {
	case ErrInvalidInput:
		return "invalid_input"
	case ErrConflict:
		return "conflict"
	case ErrInvalidState:
		return "invalid_state"
	case ErrNotFound:
		return "not_found"
	case ErrUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}
