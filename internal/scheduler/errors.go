package scheduler

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds surfaced by the core (spec §7).
type Kind string

const (
	InvalidArgument Kind = "INVALID_ARGUMENT"
	NotFound        Kind = "NOT_FOUND"
	InvalidState    Kind = "INVALID_STATE"
	StoreError      Kind = "STORE_ERROR"

	// contention is internal only: a losing participant in a skip-locked
	// race observes an empty result and returns "none" to its caller —
	// it is never surfaced past the claim path.
	contention Kind = "CONTENTION"
)

// Error is the typed error the core returns; internal/api maps Kind to
// an HTTP status code.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// isContention reports whether err is a losing skip-locked race, the one
// Kind tick.go and claim.go must swallow and translate into their normal
// "nothing available" outcome rather than propagate.
func isContention(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == contention
}
