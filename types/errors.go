package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNotFound          = errors.New("not found")
	ErrExtraction        = errors.New("extraction failed")
	ErrEmbedding         = errors.New("embedding failed")
	ErrStore             = errors.New("vector store failure")
	ErrValidation        = errors.New("validation failed")
)

func NewUnsupportedFormatError(ext string) error {
	return fmt.Errorf("%w: %q, supported formats: %s", ErrUnsupportedFormat, ext, strings.Join(SupportedFileTypes, ", "))
}

func NewNotFoundError(documentID string) error {
	return fmt.Errorf("document %s %w", documentID, ErrNotFound)
}

func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ExtractionError reports a file that could not be parsed as its declared type.
type ExtractionError struct {
	FileType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s: %v", e.FileType, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// StoreError reports a vector store communication or schema failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
