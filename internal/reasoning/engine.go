package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/policy"
)

// DefaultTimeout bounds a primary reasoning attempt when none is configured.
const DefaultTimeout = 15 * time.Second

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Primary is the model-backed reasoner. Nil runs the engine keyword-only.
	Primary Reasoner
	// Timeout bounds each primary attempt. Non-positive values use DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Engine orchestrates one classification: try the primary reasoner once,
// fall back to the deterministic path on any failure. It holds no per-request
// state; the policy can be swapped atomically between requests.
type Engine struct {
	policy     atomic.Pointer[policy.Policy]
	primary    Reasoner
	timeout    time.Duration
	keywordCap float64
	log        *slog.Logger
}

// NewEngine builds an engine over p.
func NewEngine(p *policy.Policy, cfg EngineConfig) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: policy is required", common.ErrInvalidConfig)
	}
	e := &Engine{
		primary:    cfg.Primary,
		timeout:    cfg.Timeout,
		keywordCap: KeywordCapStandalone,
		log:        common.OrDefault(cfg.Logger),
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.primary != nil {
		e.keywordCap = KeywordCapWithPrimary
	}
	e.policy.Store(p)
	return e, nil
}

// Policy returns the policy currently in effect.
func (e *Engine) Policy() *policy.Policy {
	return e.policy.Load()
}

// SetPolicy replaces the policy for subsequent requests.
func (e *Engine) SetPolicy(p *policy.Policy) error {
	if p == nil {
		return fmt.Errorf("%w: policy is required", common.ErrInvalidConfig)
	}
	old := e.policy.Swap(p)
	e.log.Info("reasoning.policy.swapped", "from", old.Version, "to", p.Version)
	return nil
}

// HasPrimary reports whether a primary reasoner is configured.
func (e *Engine) HasPrimary() bool {
	return e.primary != nil
}

// Timeout returns the bound applied to each primary attempt.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Classify returns a complete, policy-valid result for req. The only error is
// ErrInvalidRequest; primary failures are logged and absorbed.
func (e *Engine) Classify(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	p := e.policy.Load()
	start := time.Now()

	if e.primary != nil {
		res, err := e.tryPrimary(ctx, req, p)
		if err == nil {
			e.log.Info("reasoning.classified",
				"path", PathPrimary,
				"source", req.Source,
				"category", res.Category,
				"confidence", res.Confidence,
				"needs_confirmation", res.NeedsConfirmation,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return res, nil
		}
		pf := AsFailure(err)
		e.log.Warn("reasoning.primary.failed",
			"kind", pf.Kind,
			"error", pf.Err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}

	res := e.fallback(req, p)
	e.log.Info("reasoning.classified",
		"path", PathFallback,
		"source", req.Source,
		"category", res.Category,
		"confidence", res.Confidence,
		"needs_confirmation", res.NeedsConfirmation,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Fallback runs only the deterministic path. It is pure: identical requests
// under the same policy give identical results.
func (e *Engine) Fallback(req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return e.fallback(req, e.policy.Load()), nil
}

type primaryOutcome struct {
	res Result
	err error
}

// tryPrimary makes one bounded attempt. The deadline is enforced here even if
// the reasoner ignores ctx.
func (e *Engine) tryPrimary(ctx context.Context, req Request, p *policy.Policy) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan primaryOutcome, 1)
	go func() {
		res, err := e.primary.Reason(ctx, req, p)
		done <- primaryOutcome{res: res, err: err}
	}()

	var out primaryOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return Result{}, newFailure(FailureTimeout, ctx.Err())
	}
	if out.err != nil {
		return Result{}, out.err
	}
	if err := checkResult(out.res, p); err != nil {
		return Result{}, err
	}
	return out.res, nil
}

// checkResult rejects primary results that break the output contract.
func checkResult(res Result, p *policy.Policy) error {
	c, ok := p.Category(res.Category)
	if !ok {
		return newFailure(FailureCategory, fmt.Errorf("category %q not in policy", res.Category))
	}
	var problems []error
	if res.Amount < 0 {
		problems = append(problems, fmt.Errorf("negative amount %.2f", res.Amount))
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		problems = append(problems, fmt.Errorf("confidence %.2f outside [0,1]", res.Confidence))
	}
	if res.TaxRate != c.TaxRate || res.TaxAmount != TaxAmount(res.Amount, c.TaxRate) {
		problems = append(problems, errors.New("tax not derived from policy"))
	}
	if res.NeedsConfirmation != (res.ConfirmationReason != "") {
		problems = append(problems, errors.New("confirmation reason inconsistent with decision"))
	}
	if strings.TrimSpace(res.Explanation) == "" {
		problems = append(problems, errors.New("empty explanation"))
	}
	if len(problems) > 0 {
		return newFailure(FailureSchema, errors.Join(problems...))
	}
	return nil
}

// fallback is the deterministic path: amount extraction, keyword
// categorization and confidence arbitration.
func (e *Engine) fallback(req Request, p *policy.Policy) Result {
	amount, amountFound := 0.0, false
	amountFromHint := false
	if req.HintAmount != nil {
		amount, amountFound, amountFromHint = *req.HintAmount, true, true
	} else {
		amount, amountFound = ExtractAmount(req.Text, p.AmountPatterns)
	}

	match := Categorize(req.Text, p, e.keywordCap)
	category, _ := p.Resolve(match.Category)
	confidence := Combine(amountFound, match.Confidence, req.SourceConfidence)
	decision := Arbitrate(p, Signals{
		AmountFound: amountFound,
		Amount:      amount,
		Category:    category.Key,
		Confidence:  confidence,
	})

	return Result{
		Amount:             amount,
		Category:           category.Key,
		TaxRate:            category.TaxRate,
		TaxAmount:          TaxAmount(amount, category.TaxRate),
		Confidence:         confidence,
		Explanation:        fallbackExplanation(category, match.Matches, amountFound, amountFromHint),
		VendorName:         req.HintVendor,
		NeedsConfirmation:  decision.NeedsConfirmation,
		ConfirmationReason: decision.Reason,
		Path:               PathFallback,
	}
}

func fallbackExplanation(c policy.Category, matches int, amountFound, fromHint bool) string {
	var b strings.Builder
	if matches > 0 {
		fmt.Fprintf(&b, "Categorized as '%s' based on %d keyword match", c.DisplayName, matches)
		if matches > 1 {
			b.WriteString("es")
		}
		b.WriteString(".")
	} else {
		fmt.Fprintf(&b, "No category keywords matched; defaulted to '%s'.", c.DisplayName)
	}
	fmt.Fprintf(&b, " Tax rate of %s%% applied per policy for %s.", formatRate(c.TaxRate), strings.ToLower(c.DisplayName))
	switch {
	case fromHint:
		b.WriteString(" Amount taken from the extracted document total.")
	case !amountFound:
		b.WriteString(" Amount could not be extracted and was recorded as 0.")
	}
	return b.String()
}
