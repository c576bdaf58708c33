package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by embedding clients.
var (
	// ErrEmbeddingUnavailable indicates the embedding backend could not
	// produce a vector. Callers degrade: ingestion flags the chunk for
	// backfill, search drops its kNN clauses.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrTimeout indicates the per-call deadline elapsed.
	ErrTimeout = errors.New("embedding timeout")
)

// Error wraps an embedding failure with the operation that produced it.
type Error struct {
	Op  string // Operation: "Embed", "EmbedCaption", ...
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
