package search

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the search layer.
var (
	// ErrForbidden indicates a request with no tenant. Searches never run
	// without an ACL clause.
	ErrForbidden = errors.New("tenant required")

	// ErrBadRequest indicates an empty query or an out-of-range limit.
	ErrBadRequest = errors.New("bad request")

	// ErrIndexUnavailable indicates the compound index cannot serve; the
	// executor falls back to the store's lexical scan.
	ErrIndexUnavailable = errors.New("search index unavailable")

	// ErrSearchUnavailable indicates both the index and the fallback
	// failed.
	ErrSearchUnavailable = errors.New("search unavailable")
)

// Error wraps a search failure with the operation that produced it.
type Error struct {
	Op  string // Operation: "CompoundSearch", "Search", ...
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
