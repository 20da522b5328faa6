package reasoning

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finguru/finguru-service/internal/policy"
)

// Keyword confidence is min(cap, base + matches*increment).
const (
	KeywordBaseConfidence = 0.5
	KeywordIncrement      = 0.15

	// KeywordCapWithPrimary applies when a primary reasoner is configured and
	// the keyword path only runs as a degraded fallback.
	KeywordCapWithPrimary = 0.85
	// KeywordCapStandalone applies when the engine runs keyword-only.
	KeywordCapStandalone = 0.95
)

// CategoryMatch is the outcome of keyword categorization.
type CategoryMatch struct {
	Category   string
	Matches    int
	Confidence float64
}

// Categorize picks the category whose keywords occur most often as substrings
// of the lower-cased text. Each keyword counts at most once. Only a strictly
// higher count replaces the current best, so ties go to the category declared
// first in the policy. With no match the default category is returned at the
// base confidence.
func Categorize(text string, p *policy.Policy, confidenceCap float64) CategoryMatch {
	lowered := strings.ToLower(text)

	best := CategoryMatch{Category: p.DefaultCategory}
	for _, c := range p.Categories {
		n := 0
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(lowered, kw) {
				n++
			}
		}
		if n > best.Matches {
			best.Category = c.Key
			best.Matches = n
		}
	}
	best.Confidence = KeywordConfidence(best.Matches, confidenceCap)
	return best
}

// KeywordConfidence is the bounded confidence for a match count.
func KeywordConfidence(matches int, confidenceCap float64) float64 {
	if matches < 0 {
		matches = 0
	}
	score := decimal.NewFromFloat(KeywordBaseConfidence).
		Add(decimal.NewFromFloat(KeywordIncrement).Mul(decimal.NewFromInt(int64(matches))))
	score = decimal.Min(score, decimal.NewFromFloat(confidenceCap))
	return score.Round(2).InexactFloat64()
}
