package vision

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by image processing collaborators.
var (
	// ErrOCRUnavailable indicates the OCR backend could not serve the
	// request. The image is still ingestable without OCR text.
	ErrOCRUnavailable = errors.New("ocr backend unavailable")

	// ErrCaptionUnavailable indicates the captioning backend could not
	// serve the request.
	ErrCaptionUnavailable = errors.New("caption backend unavailable")
)

// Error wraps a vision failure with the operation that produced it.
type Error struct {
	Op  string // Operation: "ExtractText", "Caption", "Process"
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
