// Package errkind classifies errors the decision engine produces by how a
// caller should react to them, instead of leaving that judgment to string
// matching or ad hoc sentinel values scattered across packages.
package errkind

import "fmt"

// Kind is the category of failure a DomainError carries.
type Kind string

const (
	// TransientIO is a failure a caller may retry with exponential
	// backoff; the providers and repositories that return it do not retry.
	TransientIO Kind = "transient_io"
	// StaleData means the caller should fall back to a cached or static
	// reading, mark its source accordingly, and continue.
	StaleData Kind = "stale_data"
	// InvariantViolation means the triggering event should be logged and
	// skipped; it must never partially mutate state.
	InvariantViolation Kind = "invariant_violation"
	// RiskBlock is an explicit, non-error skip carrying a structured
	// reason rather than a fault.
	RiskBlock Kind = "risk_block"
	// FatalStartup must propagate and abort the process; it only occurs
	// during composition-root initialization.
	FatalStartup Kind = "fatal_startup"
)

// DomainError wraps an underlying error with the Kind a caller needs to
// decide how to react, and Op naming the operation that failed.
type DomainError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Wrap builds a DomainError of kind for the named operation, wrapping
// err. Wrap(nil) still produces a DomainError, since RiskBlock and
// InvariantViolation skips are meaningful without an underlying fault.
func Wrap(kind Kind, op string, err error) *DomainError {
	return &DomainError{Kind: kind, Op: op, Err: err}
}

// As reports whether err is, or wraps, a *DomainError, and returns it.
func As(err error) (*DomainError, bool) {
	for err != nil {
		if de, ok := err.(*DomainError); ok {
			return de, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// KindOf returns the Kind of err if it is, or wraps, a *DomainError, and
// the zero Kind otherwise.
func KindOf(err error) Kind {
	if de, ok := As(err); ok {
		return de.Kind
	}
	return ""
}
