package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a job failure. Kinds are persisted verbatim on failed
// jobs and returned in error envelopes, so values are stable.
type ErrorKind string

const (
	ErrKindInvalidReference   ErrorKind = "invalid_reference"
	ErrKindUnsupportedScheme  ErrorKind = "unsupported_scheme"
	ErrKindCredentialsMissing ErrorKind = "credentials_missing"
	ErrKindNotFound           ErrorKind = "not_found"
	ErrKindTransientIO        ErrorKind = "transient_io"
	ErrKindUnreadableMedia    ErrorKind = "unreadable_media"
	ErrKindTruncatedMedia     ErrorKind = "truncated_media"
	ErrKindDetection          ErrorKind = "detection_error"
	ErrKindTimeout            ErrorKind = "timeout"
	ErrKindStoreConflict      ErrorKind = "store_conflict"
	ErrKindInternal           ErrorKind = "internal_error"
)

// JobError is a classified pipeline failure. Every error that terminates a
// job is mapped to one before being persisted.
type JobError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error { return e.cause }

// NewJobError builds a JobError with a formatted message.
func NewJobError(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapJobError classifies an underlying error without losing it.
func WrapJobError(kind ErrorKind, err error) *JobError {
	return &JobError{Kind: kind, Message: err.Error(), cause: err}
}

// KindOf extracts the ErrorKind from err, or ErrKindInternal if err carries
// no classification.
func KindOf(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ErrKindInternal
}

// Retryable reports whether the kind is eligible for local retry with
// backoff. Everything else propagates to the orchestrator and fails the job.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindTransientIO
}
