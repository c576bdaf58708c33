package store

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the resource store.
var (
	// ErrNotFound indicates the resource does not exist within the
	// caller's tenant.
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden indicates a cross-tenant access attempt. Rows lacking
	// a tenant are denied the same way.
	ErrForbidden = errors.New("tenant mismatch")

	// ErrUnavailable indicates the backing database failed; ingestion
	// treats this as fatal with no partial state.
	ErrUnavailable = errors.New("resource store unavailable")
)

// Error wraps a store failure with the operation that produced it.
type Error struct {
	Op  string // Operation: "CreateResource", "GetByURI", ...
	Err error  // Underlying error
	Msg string // Optional context
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
