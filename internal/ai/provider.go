package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("empty response from provider")

// CompletionRequest is a single prompt sent to a language model provider.
type CompletionRequest struct {
	System string
	Prompt string

	// Optional image for vision calls.
	Image     []byte
	ImageMIME string

	// JSONOutput asks the provider to constrain its answer to a JSON object.
	JSONOutput bool
	MaxTokens  int
}

// Provider is the interface every AI backend implements.
// Implementations must use their most deterministic sampling settings and
// must honor ctx cancellation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
