package store

import (
	"context"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrorKind classifies persistence failures.
type ErrorKind string

const (
	// KindConnection covers I/O, driver and context failures.
	KindConnection ErrorKind = "connection"
	// KindConstraint means the record violated a schema or validation rule.
	KindConstraint ErrorKind = "constraint"
	// KindNotFound means no row has the requested ID.
	KindNotFound ErrorKind = "not_found"
	// KindRefresh means a write committed but the cache could not be reloaded.
	KindRefresh ErrorKind = "refresh"
)

var (
	// ErrNotFound is matched by errors.Is for KindNotFound errors.
	ErrNotFound = errors.New("source not found")
	// ErrConstraint is matched by errors.Is for KindConstraint errors.
	ErrConstraint = errors.New("constraint violation")
)

// PersistenceError is returned by every gateway operation that fails.
type PersistenceError struct {
	Op   string
	ID   int64
	Kind ErrorKind
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.ID >= 0 && e.Op != "create" && e.Op != "list" {
		return fmt.Sprintf("%s source %d: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s source: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on the kind sentinels.
func (e *PersistenceError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConstraint:
		return e.Kind == KindConstraint
	}
	return false
}

// NewError builds a PersistenceError, classifying err when kind is empty.
func NewError(op string, id int64, kind ErrorKind, err error) *PersistenceError {
	if kind == "" {
		kind = classify(err)
	}
	return &PersistenceError{Op: op, ID: id, Kind: kind, Err: err}
}

// KindOf returns the kind of a PersistenceError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

func classify(err error) ErrorKind {
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindConnection
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return KindConstraint
	}
	return KindConnection
}
