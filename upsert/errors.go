package upsert

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrConstraintViolation is returned when a caller bypasses the upsert
	// path (plain or explicit-id insert) and collides with a unique value.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrKeyResolution means the upsert succeeded but no row carries the
	// natural key afterwards.
	ErrKeyResolution = errors.New("key resolution failed")
	// ErrDependentWrite wraps a failed dependent insert. The transaction has
	// been rolled back when it is returned.
	ErrDependentWrite = errors.New("dependent write failed")
	// ErrExecutor wraps connectivity, timeout and other driver failures.
	ErrExecutor = errors.New("executor error")
	// ErrIntegrity is a unique violation raised by the upsert statement
	// itself, which cannot happen when the conflict target is the only
	// unique key.
	ErrIntegrity = errors.New("integrity violation")
	// ErrConflict is a serialization failure, deadlock or busy store. The
	// caller may retry the whole transaction.
	ErrConflict = errors.New("transaction conflict")
	// ErrInvalidRequest rejects malformed requests before any statement runs.
	ErrInvalidRequest = errors.New("invalid request")
)

// Error carries the failing operation with the natural key and, when known,
// the last affected id.
type Error struct {
	Kind       error
	Op         string
	NaturalKey string
	AffectedID int64
	Constraint string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.NaturalKey != "" {
		fmt.Fprintf(&b, " (key %q", e.NaturalKey)
		if e.AffectedID != 0 {
			fmt.Fprintf(&b, ", id %d", e.AffectedID)
		}
		b.WriteString(")")
	}
	if e.Constraint != "" {
		fmt.Fprintf(&b, " on %s", e.Constraint)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is a transaction conflict the caller can
// retry from the start of its transaction.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Failure is the normalized class of a driver error.
type Failure int

const (
	FailureOther Failure = iota
	FailureUnique
	FailureForeignKey
	FailureConflict
)

func (f Failure) String() string {
	switch f {
	case FailureUnique:
		return "unique"
	case FailureForeignKey:
		return "foreign_key"
	case FailureConflict:
		return "conflict"
	default:
		return "other"
	}
}

// Classified is a driver error mapped to a Failure and, when the driver
// reports it, the violated constraint.
type Classified struct {
	Failure    Failure
	Constraint string
}

// wrapExec maps a driver error from a statement to the error kind for op.
// uniqueKind selects what a unique violation means on this path.
func wrapExec(d Dialect, op, key string, id int64, uniqueKind error, err error) error {
	c := d.ClassifyError(err)
	e := &Error{Op: op, NaturalKey: key, AffectedID: id, Constraint: c.Constraint, Err: err}
	switch c.Failure {
	case FailureUnique:
		e.Kind = uniqueKind
	case FailureConflict:
		e.Kind = ErrConflict
	case FailureForeignKey:
		e.Kind = ErrConstraintViolation
	default:
		e.Kind = ErrExecutor
	}
	return e
}
