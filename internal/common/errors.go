package common

import (
	"errors"
	"fmt"
)

// Typed errors for the receipt pipeline. Each stage wraps its underlying
// failure in the matching type; the processor dispatches on them with
// errors.As to build the persisted error message.

// FileValidationError reports a rejected upload. Never retried.
type FileValidationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FileValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("file validation failed for %q: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("file validation failed for %q: %s", e.Path, e.Reason)
}

func (e *FileValidationError) Unwrap() error { return e.Err }

// OCRError reports a text-extraction failure for a file.
type OCRError struct {
	Path string
	Err  error
}

func (e *OCRError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ocr failed for %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("ocr failed for %q", e.Path)
}

func (e *OCRError) Unwrap() error { return e.Err }

// LLMError reports a product-extraction failure after in-service retries.
type LLMError struct {
	Model string
	Err   error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm extraction failed (model %s): %v", e.Model, e.Err)
	}
	return fmt.Sprintf("llm extraction failed (model %s)", e.Model)
}

func (e *LLMError) Unwrap() error { return e.Err }

// CacheError reports a cache backend failure. It never escapes the cache
// layer; it exists so the layer can log a single well-formed warning.
type CacheError struct {
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache operation failed for key %q: %v", e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// DatabaseError reports a persistence failure for a receipt.
type DatabaseError struct {
	ReceiptID int64
	Op        string
	Err       error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s failed for receipt %d: %v", e.Op, e.ReceiptID, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// ErrNotFound is the sentinel for missing rows where callers need to
// distinguish "gone" from "broken".
var ErrNotFound = errors.New("resource not found")

// WrapError annotates err with a message, preserving the chain.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
