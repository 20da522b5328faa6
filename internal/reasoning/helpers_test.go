package reasoning

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finguru/finguru-service/internal/ai"
	"github.com/finguru/finguru-service/internal/policy"
)

func builtinPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Builtin()
	require.NoError(t, err)
	return p
}

func parsePolicy(t *testing.T, doc string) *policy.Policy {
	t.Helper()
	p, err := policy.Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func amountPtr(v float64) *float64 { return &v }

// stubProvider returns a scripted answer and records what it was asked.
type stubProvider struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	lastReq  ai.CompletionRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, req ai.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = req
	return s.response, s.err
}

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// funcReasoner adapts a function to the Reasoner interface.
type funcReasoner func(ctx context.Context, req Request, p *policy.Policy) (Result, error)

func (f funcReasoner) Reason(ctx context.Context, req Request, p *policy.Policy) (Result, error) {
	return f(ctx, req, p)
}
