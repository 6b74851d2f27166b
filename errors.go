package continuum

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a continuum Error by the engine's recovery policy:
// storage errors are surfaced, cache/provider errors are swallowed at the
// boundary where they occur, and InvariantViolation is never recovered
// silently.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation_error"
	KindNotFound     ErrorKind = "not_found"
	KindTenantForbid ErrorKind = "tenant_forbidden"
	KindRateLimited  ErrorKind = "rate_limited"
	KindStorage      ErrorKind = "storage_unavailable"
	KindCache        ErrorKind = "cache_unavailable"
	KindProvider     ErrorKind = "provider_unavailable"
	KindInvariant    ErrorKind = "invariant_violation"
	KindTimedOut     ErrorKind = "timed_out"
)

// Error is the single error type returned by public continuum operations.
// Callers should inspect KindOf(err) to decide on a recovery policy
// rather than string-matching Error().
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "Store.InsertEntity"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("continuum: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("continuum: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// newError constructs an Error, wrapping err (which may be nil).
func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the ErrorKind of err if it is (or wraps) a *Error, and
// false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsKind reports whether err is (or wraps) a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
