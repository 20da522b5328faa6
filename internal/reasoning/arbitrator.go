package reasoning

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finguru/finguru-service/internal/policy"
)

// Fallback confidence weights.
var (
	weightAmount     = decimal.NewFromFloat(0.40)
	weightCategory   = decimal.NewFromFloat(0.35)
	weightExtraction = decimal.NewFromFloat(0.25)

	amountFoundScore   = decimal.NewFromFloat(0.9)
	amountMissingScore = decimal.NewFromFloat(0.3)
)

const (
	// NeutralSourceConfidence stands in for an unknown extraction confidence.
	NeutralSourceConfidence = 0.5

	// lowConfidence is the level below which the reason calls out overall confidence.
	lowConfidence = 0.7
)

// Confirmation causes, in the order they are reported.
const (
	ReasonAmountMissing   = "amount could not be extracted clearly"
	ReasonAmountCeiling   = "amount exceeds confirmation threshold"
	ReasonCategoryDefault = "category could not be determined specifically"
	ReasonLowConfidence   = "low overall confidence"
	ReasonGeneric         = "please verify"

	reasonSeparator = "; "
)

// Combine merges fallback sub-scores into one overall confidence rounded to 2 decimals.
func Combine(amountFound bool, categoryConfidence, sourceConfidence float64) float64 {
	amountScore := amountMissingScore
	if amountFound {
		amountScore = amountFoundScore
	}
	if sourceConfidence <= 0 {
		sourceConfidence = NeutralSourceConfidence
	}
	total := weightAmount.Mul(amountScore).
		Add(weightCategory.Mul(decimal.NewFromFloat(categoryConfidence))).
		Add(weightExtraction.Mul(decimal.NewFromFloat(sourceConfidence)))
	return total.Round(2).InexactFloat64()
}

// Decision is the confirmation verdict attached to a result.
type Decision struct {
	NeedsConfirmation bool
	Reason            string
}

// Signals are the fallback facts the arbitrator decides on.
type Signals struct {
	AmountFound bool
	Amount      float64
	Category    string
	Confidence  float64
}

// Arbitrate applies the confirmation policy to a fallback result. Confirmation
// is needed when confidence is below the threshold or the amount is above the
// ceiling. The reason lists every triggered cause in fixed order and is never
// empty when confirmation is needed.
func Arbitrate(p *policy.Policy, s Signals) Decision {
	overCeiling := s.Amount > p.MaxAmountWithoutConfirmation
	needs := s.Confidence < p.ConfirmationThreshold || overCeiling
	if !needs {
		return Decision{}
	}

	var causes []string
	if !s.AmountFound {
		causes = append(causes, ReasonAmountMissing)
	}
	if overCeiling {
		causes = append(causes, ReasonAmountCeiling)
	}
	if s.Category == p.DefaultCategory {
		causes = append(causes, ReasonCategoryDefault)
	}
	if s.Confidence < lowConfidence {
		causes = append(causes, ReasonLowConfidence)
	}
	if len(causes) == 0 {
		causes = append(causes, ReasonGeneric)
	}
	return Decision{NeedsConfirmation: true, Reason: strings.Join(causes, reasonSeparator)}
}

// arbitratePrimary applies the confirmation policy to a primary result.
func arbitratePrimary(p *policy.Policy, confidence, amount float64, explanation, ruleApplied string) Decision {
	var causes []string
	if confidence < p.ConfirmationThreshold {
		if confidence < lowConfidence {
			causes = append(causes, fmt.Sprintf("Low confidence (%d%%): %s", int(math.Round(confidence*100)), explanation))
		} else {
			causes = append(causes, "Please verify: "+ruleApplied)
		}
	}
	if amount > p.MaxAmountWithoutConfirmation {
		causes = append(causes, ReasonAmountCeiling)
	}
	if len(causes) == 0 {
		return Decision{}
	}
	return Decision{NeedsConfirmation: true, Reason: strings.Join(causes, reasonSeparator)}
}
