package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the ingestion pipeline.
var (
	// ErrConflict indicates a concurrent ingestion holds the lease for
	// the same (tenant, uri). Retry-after is appropriate.
	ErrConflict = errors.New("ingestion already in progress")

	// ErrUnsupportedMimeType indicates no parser accepts the input.
	ErrUnsupportedMimeType = errors.New("unsupported mime type")

	// ErrParseFailed indicates the parse layer produced no parts; the
	// resource is not created.
	ErrParseFailed = errors.New("parse failed")

	// ErrBadRequest indicates missing required fields.
	ErrBadRequest = errors.New("bad request")
)

// Error wraps an ingestion failure with the operation that produced it.
type Error struct {
	Op  string // Operation: "Ingest", "parse", ...
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
