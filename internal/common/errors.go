// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound = errors.New("not found")

	// Pipeline errors.
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrNoText          = errors.New("no readable text")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Kind classifies an error for propagation and for the HTTP surface.
type Kind string

// Error kinds.
const (
	KindValidation          Kind = "validation_error"
	KindUploadIncomplete    Kind = "upload_incomplete"
	KindGuardrailBlocked    Kind = "guardrail_blocked"
	KindExtractionFailure   Kind = "extraction_failure"
	KindParseEmpty          Kind = "parse_empty"
	KindPersistenceConflict Kind = "persistence_conflict"
	KindIntegrityFailure    Kind = "integrity_failure"
	KindNotFound            Kind = "not_found"
	KindUnexpected          Kind = "unexpected"
)

// PipelineError carries a Kind, the failing operation and an optional hint
// that is safe to show to callers.
type PipelineError struct {
	Err  error
	Kind Kind
	Op   string
	Hint string
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a classified error.
func NewPipelineError(kind Kind, op, hint string, err error) error {
	return &PipelineError{Kind: kind, Op: op, Hint: hint, Err: err}
}

// Validation is shorthand for a KindValidation error.
func Validation(op, hint string) error {
	return &PipelineError{Kind: KindValidation, Op: op, Hint: hint}
}

// KindOf returns the Kind of err. Unclassified errors are KindUnexpected,
// except ErrNotFound which maps to KindNotFound.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindUnexpected
}

// HintOf returns the caller-facing hint attached to err, if any.
func HintOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Hint
	}
	return ""
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr) && !retryableErr.Retryable
}
