package qprep

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDistribution is returned when a vector breaks the
	// normalization or non-negativity contract of its declared kind.
	ErrInvalidDistribution = errors.New("invalid distribution")
	// ErrInvalidLength is returned when a vector length is not a power of two.
	ErrInvalidLength = errors.New("invalid length")
	// ErrInvalidBound is returned for negative or NaN error bounds.
	ErrInvalidBound = errors.New("invalid bound")
	// ErrBoundExceeded is returned by steps and engines that cannot honour a
	// requested bound. Approximate meets any non-negative bound for valid input.
	ErrBoundExceeded = errors.New("bound exceeded")
	// ErrSizeMismatch is returned when an in-place register has the wrong width.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrEngineUnavailable is returned while the engine circuit breaker is open.
	ErrEngineUnavailable = errors.New("engine unavailable")
)

// kindNone marks errors that are not tied to a vector kind.
const kindNone Kind = -1

/*
LoadError carries the failing operation and the vector kind alongside one
of the sentinel errors above, so callers can branch with errors.Is while
still getting a readable message.
*/
type LoadError struct {
	Op     string
	Kind   Kind
	Err    error
	Detail string
}

func (e *LoadError) Error() string {
	op := e.Op
	if e.Kind.valid() {
		op = fmt.Sprintf("%s(%s)", e.Op, e.Kind)
	}
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", op, e.Err, e.Detail)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func newLoadError(op string, kind Kind, err error, format string, args ...any) *LoadError {
	return &LoadError{
		Op:     op,
		Kind:   kind,
		Err:    err,
		Detail: fmt.Sprintf(format, args...),
	}
}

// IsContractViolation reports whether err stems from caller input rather
// than from the external engine. Such errors are never retried.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrInvalidDistribution) ||
		errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrInvalidBound) ||
		errors.Is(err, ErrBoundExceeded) ||
		errors.Is(err, ErrSizeMismatch)
}
