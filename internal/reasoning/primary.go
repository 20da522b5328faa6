package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/finguru/finguru-service/internal/ai"
	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/policy"
)

const defaultPrimaryMaxTokens = 500

// Reasoner produces a classification for a request under a policy.
// A failed attempt returns a *PrimaryFailure.
type Reasoner interface {
	Reason(ctx context.Context, req Request, p *policy.Policy) (Result, error)
}

// PrimaryReasoner asks a language model provider for a classification and
// checks the answer against the policy before trusting it.
type PrimaryReasoner struct {
	provider  ai.Provider
	maxTokens int
	log       *slog.Logger

	mu           sync.Mutex
	schemaPolicy *policy.Policy
	schema       *jsonschema.Schema
}

// NewPrimaryReasoner wraps provider. A nil provider yields a reasoner that
// always reports FailureUnavailable.
func NewPrimaryReasoner(provider ai.Provider, maxTokens int, logger *slog.Logger) *PrimaryReasoner {
	if maxTokens <= 0 {
		maxTokens = defaultPrimaryMaxTokens
	}
	return &PrimaryReasoner{
		provider:  provider,
		maxTokens: maxTokens,
		log:       common.OrDefault(logger),
	}
}

// Reason runs one attempt. It never retries.
func (r *PrimaryReasoner) Reason(ctx context.Context, req Request, p *policy.Policy) (Result, error) {
	if r.provider == nil {
		return Result{}, newFailure(FailureUnavailable, errors.New("no provider configured"))
	}
	schema, err := r.outputSchema(p)
	if err != nil {
		return Result{}, newFailure(FailureSchema, err)
	}

	start := time.Now()
	raw, err := r.provider.Complete(ctx, ai.CompletionRequest{
		System:     buildSystemPrompt(p),
		Prompt:     buildUserPrompt(req),
		JSONOutput: true,
		MaxTokens:  r.maxTokens,
	})
	if err != nil {
		return Result{}, transportFailure(err)
	}
	if ctx.Err() != nil {
		return Result{}, transportFailure(ctx.Err())
	}
	r.log.Debug("reasoning.primary.response",
		"provider", r.provider.Name(),
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	out, err := parseOutput(raw, p, schema)
	if err != nil {
		return Result{}, err
	}

	category, _ := p.Category(out.Category)
	confidence := Round2(out.Confidence)
	decision := arbitratePrimary(p, confidence, out.Amount, out.Explanation, out.RuleApplied)

	return Result{
		Amount:             out.Amount,
		Category:           category.Key,
		TaxRate:            category.TaxRate,
		TaxAmount:          TaxAmount(out.Amount, category.TaxRate),
		Confidence:         confidence,
		Explanation:        primaryExplanation(out),
		VendorName:         req.HintVendor,
		NeedsConfirmation:  decision.NeedsConfirmation,
		ConfirmationReason: decision.Reason,
		Path:               PathPrimary,
	}, nil
}

// outputSchema returns the compiled answer schema for p, recompiling when the
// policy changes.
func (r *PrimaryReasoner) outputSchema(p *policy.Policy) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schema != nil && r.schemaPolicy == p {
		return r.schema, nil
	}
	schema, err := compileOutputSchema(p)
	if err != nil {
		return nil, err
	}
	r.schemaPolicy = p
	r.schema = schema
	return schema, nil
}

func primaryExplanation(out reasoningOutput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(out.Explanation))
	fmt.Fprintf(&b, " Rule applied: %s.", strings.TrimSuffix(strings.TrimSpace(out.RuleApplied), "."))
	fmt.Fprintf(&b, " Tax reasoning: %s", strings.TrimSpace(out.TaxReasoning))
	return b.String()
}
