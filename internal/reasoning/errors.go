package reasoning

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned by Classify for malformed requests.
var ErrInvalidRequest = errors.New("invalid classification request")

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// FailureKind classifies why the primary reasoner did not produce a result.
type FailureKind string

const (
	FailureUnavailable FailureKind = "unavailable"
	FailureTransport   FailureKind = "transport"
	FailureTimeout     FailureKind = "timeout"
	FailureSchema      FailureKind = "schema"
	FailureCategory    FailureKind = "category"
)

// PrimaryFailure is the typed outcome of a failed primary reasoning attempt.
// The engine recovers from every kind by taking the fallback path.
type PrimaryFailure struct {
	Kind FailureKind
	Err  error
}

func (f *PrimaryFailure) Error() string {
	if f.Err == nil {
		return "primary reasoner " + string(f.Kind)
	}
	return fmt.Sprintf("primary reasoner %s: %v", f.Kind, f.Err)
}

func (f *PrimaryFailure) Unwrap() error {
	return f.Err
}

func newFailure(kind FailureKind, err error) *PrimaryFailure {
	return &PrimaryFailure{Kind: kind, Err: err}
}

// transportFailure maps a provider error to timeout or transport.
func transportFailure(err error) *PrimaryFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newFailure(FailureTimeout, err)
	}
	return newFailure(FailureTransport, err)
}

// AsFailure converts any error returned by a Reasoner into a PrimaryFailure.
// Untyped errors are treated as transport failures.
func AsFailure(err error) *PrimaryFailure {
	if err == nil {
		return nil
	}
	var pf *PrimaryFailure
	if errors.As(err, &pf) {
		return pf
	}
	return transportFailure(err)
}
