package reasoning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/finguru/finguru-service/internal/policy"
)

// buildSystemPrompt renders the policy as the reasoner's instructions.
func buildSystemPrompt(p *policy.Policy) string {
	var b strings.Builder

	b.WriteString("You are an accounting reasoning engine for small business expenses.\n")
	if p.Jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdiction: %s. Currency: %s. Policy version: %s.\n", p.Jurisdiction, p.Currency, p.Version)
	} else {
		fmt.Fprintf(&b, "Policy version: %s.\n", p.Version)
	}

	b.WriteString("\n## CATEGORIES\n")
	for _, c := range p.Categories {
		fmt.Fprintf(&b, "- %s (%s): tax rate %s%%", c.Key, c.DisplayName, formatRate(c.TaxRate))
		if len(c.Keywords) > 0 {
			fmt.Fprintf(&b, "; keywords: %s", strings.Join(c.Keywords, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString(`
## CONSTRAINTS
1. Output a single JSON object and nothing else.
2. Include a confidence score between 0 and 1.
3. Name the rule or category you applied in "rule_applied".
4. Explain why the tax rate applies in "tax_reasoning".
5. The category MUST be one of the keys listed above.
6. Never guess. If unclear, use "` + p.DefaultCategory + `" with low confidence.
7. The amount is the total paid, as a number without currency symbols. Use 0 if unknown.

## CONFIDENCE GUIDELINES
- 0.95+: clear match with multiple keywords
- 0.85-0.94: good match with context
- 0.70-0.84: partial match, may need confirmation
- below 0.70: uncertain, needs human review

## OUTPUT
{"amount": number, "category": string, "confidence": number, "rule_applied": string, "tax_reasoning": string, "explanation": string}
`)
	return b.String()
}

// buildUserPrompt renders the request and any pre-extracted hints.
func buildUserPrompt(req Request) string {
	amount := "Not extracted"
	if req.HintAmount != nil {
		amount = strconv.FormatFloat(*req.HintAmount, 'f', -1, 64)
	}
	vendor := "Unknown"
	if req.HintVendor != "" {
		vendor = req.HintVendor
	}
	date := "Today"
	if req.HintDate != nil && !req.HintDate.IsZero() {
		date = req.HintDate.Format("2006-01-02")
	}

	var b strings.Builder
	b.WriteString("Analyze this expense and produce a structured classification.\n\n")
	fmt.Fprintf(&b, "SOURCE: %s\n", req.Source)
	fmt.Fprintf(&b, "TEXT: %q\n", req.Text)
	fmt.Fprintf(&b, "PRE-EXTRACTED AMOUNT: %s\n", amount)
	fmt.Fprintf(&b, "PRE-EXTRACTED VENDOR: %s\n", vendor)
	fmt.Fprintf(&b, "PRE-EXTRACTED DATE: %s\n", date)
	if req.HintTaxID != "" {
		fmt.Fprintf(&b, "VENDOR TAX ID: %s\n", req.HintTaxID)
	}
	b.WriteString("\nApply the accounting policy and answer with the JSON object only.")
	return b.String()
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
