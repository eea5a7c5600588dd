package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyTerminal = errors.New("task already terminal")
)

// ValidationError marks input that is fatal to one request and must not be
// retried: empty prompts, prompts over the kind-specific cap, malformed
// provider input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// TransientError marks network, timeout, or rate-limit failures that are
// safe to retry with backoff. A transient submission failure means no task
// was created provider-side, so resubmission is idempotent.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ProviderError carries a failure the provider reported explicitly. It is
// surfaced verbatim and never retried.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: %s (%s)", e.Message, e.Code)
	}
	return "provider: " + e.Message
}

// ExpiredArtifactError is returned when a succeeded task's result URL is
// read after its validity window; the caller must regenerate.
type ExpiredArtifactError struct {
	TaskID    string
	ExpiredAt time.Time
}

func (e *ExpiredArtifactError) Error() string {
	return fmt.Sprintf("artifact for task %s expired at %s", e.TaskID, e.ExpiredAt.Format(time.RFC3339))
}

// IsTransient reports whether err wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
