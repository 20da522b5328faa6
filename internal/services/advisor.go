package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/policy"
)

// AdvisorWindow is how many recent entries the advisor looks at
const AdvisorWindow = 100

const maxTips = 5

// Advisor tip thresholds, in policy currency
var (
	taxCreditThreshold    = decimal.NewFromInt(1000)
	rawMaterialsThreshold = decimal.NewFromInt(5000)
	foodThreshold         = decimal.NewFromInt(2000)
	concentrationShare    = decimal.NewFromFloat(0.5)
)

// Insights produces the accountant-style overview of entries
func Insights(entries []models.LedgerEntry, p *policy.Policy) models.AdvisorInsight {
	if len(entries) == 0 {
		return models.AdvisorInsight{
			Summary:     "No expenses recorded yet. Start by uploading a receipt or recording a voice expense!",
			TopCategory: "None",
			Tips: []string{
				"Upload your first receipt to get started",
				"Try the voice feature for quick expense logging",
			},
			TaxBreakdown:      map[string]float64{},
			CategoryBreakdown: map[string]float64{},
		}
	}

	t := sumEntries(entries)
	topKey, topAmount := t.top()

	return models.AdvisorInsight{
		Summary:           summarize(t, p.DisplayName(topKey), topAmount),
		TotalExpenses:     money(t.amount),
		TotalTax:          money(t.tax),
		TopCategory:       p.DisplayName(topKey),
		TopCategoryAmount: money(topAmount),
		EntryCount:        t.count,
		Tips:              tips(t, topAmount),
		TaxBreakdown:      roundedMap(t.taxByCategory, p.DisplayName),
		CategoryBreakdown: roundedMap(t.byCategory, p.DisplayName),
	}
}

func summarize(t *totals, topName string, topAmount decimal.Decimal) string {
	var b strings.Builder
	plural := "s"
	if t.count == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "You have recorded %d expense%s totaling ₹%s. ", t.count, plural, formatMoney(t.amount))
	fmt.Fprintf(&b, "Your GST liability stands at ₹%s (%s%% of total). ", formatMoney(t.tax), percent(t.tax, t.amount))
	fmt.Fprintf(&b, "Your highest spending category is %s at ₹%s (%s%% of expenses).",
		topName, formatMoney(topAmount), percent(topAmount, t.amount))
	if len(t.byCategory) > 1 {
		fmt.Fprintf(&b, " Your expenses are spread across %d categories.", len(t.byCategory))
	}
	return b.String()
}

func tips(t *totals, topAmount decimal.Decimal) []string {
	var out []string

	if t.tax.GreaterThan(taxCreditThreshold) {
		out = append(out, fmt.Sprintf("💡 You have ₹%s in GST. If you're GST registered, you can claim Input Tax Credit on eligible business expenses.", formatMoney(t.tax)))
	}
	if topAmount.GreaterThan(t.amount.Mul(concentrationShare)) {
		out = append(out, "📊 Over 50% of your expenses are in one category. Consider reviewing if all these expenses are necessary.")
	}
	if v, ok := t.byCategory["raw_materials"]; ok && v.GreaterThan(rawMaterialsThreshold) {
		out = append(out, "🏭 Significant raw material expenses detected. Ensure you're getting GST invoices from registered vendors for ITC claims.")
	}
	if v, ok := t.byCategory["food"]; ok && v.GreaterThan(foodThreshold) {
		out = append(out, "🍽️ Food expenses are generally not eligible for Input Tax Credit unless for business meetings/events.")
	}
	if _, ok := t.byCategory["transport"]; ok {
		out = append(out, "🚗 Keep fuel bills and transport receipts organized - they may be deductible as business expenses.")
	}

	out = append(out,
		"📱 Keep uploading receipts regularly to maintain accurate records for tax filing.",
		"📅 Review your expenses weekly to catch any unusual spending patterns early.",
	)
	if len(out) > maxTips {
		out = out[:maxTips]
	}
	return out
}

// percent returns part/whole*100 with one decimal, "0.0" when whole is zero
func percent(part, whole decimal.Decimal) string {
	if whole.IsZero() {
		return "0.0"
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).StringFixed(1)
}

// formatMoney renders d with two decimals and comma thousands separators
func formatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}
