// Package common provides the logger setup and error taxonomy shared across the service.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionUnavailable means the vision or transcription collaborator
	// produced no usable text. The request must stop before reasoning.
	ErrExtractionUnavailable = errors.New("extraction unavailable")

	// ErrPolicyLoad means the policy document is malformed or inconsistent.
	ErrPolicyLoad = errors.New("policy load failed")

	// ErrPersistence means a ledger write failed after classification succeeded.
	ErrPersistence = errors.New("persistence failed")

	ErrNotFound      = errors.New("not found")
	ErrNoLedger      = errors.New("ledger store not available")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrDuplicate     = errors.New("duplicate entry")
)

// UserError carries a message that is safe to show to the end user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError wraps err with a user-facing message.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// UserMessage returns the user-facing message of err, or fallback when err
// carries none.
func UserMessage(err error, fallback string) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.UserMessage
	}
	return fallback
}

// ExtractionUnavailable builds the retryable user error for a failed extraction.
func ExtractionUnavailable(message string, cause error) error {
	if cause == nil {
		cause = ErrExtractionUnavailable
	} else {
		cause = fmt.Errorf("%w: %v", ErrExtractionUnavailable, cause)
	}
	return NewUserError(message, cause)
}
