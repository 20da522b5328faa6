package reasoning

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finguru/finguru-service/internal/policy"
)

// genericAmount matches bare numeric tokens: up to 6 integer digits and up to 2 decimals.
var genericAmount = regexp.MustCompile(`\b(\d{1,6}(?:\.\d{1,2})?)\b`)

// Plausible range for the generic numeric scan.
var (
	minPlausibleAmount = decimal.NewFromInt(1)
	maxPlausibleAmount = decimal.NewFromInt(100000)
)

// ExtractAmount finds the expense amount in text. Policy patterns are tried in
// declared order and the first one yielding a positive number wins. Otherwise
// the largest bare number in [1, 100000] is returned. The second result is
// false when no amount could be found, which is not the same as zero.
func ExtractAmount(text string, patterns []policy.AmountPattern) (float64, bool) {
	for _, ap := range patterns {
		re := ap.Regexp()
		if re == nil {
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil || ap.Group >= len(m) {
			continue
		}
		if v, ok := parseAmount(m[ap.Group]); ok {
			return v, true
		}
	}

	best, found := decimal.Zero, false
	for _, m := range genericAmount.FindAllStringSubmatch(text, -1) {
		d, err := decimal.NewFromString(m[1])
		if err != nil {
			continue
		}
		if d.LessThan(minPlausibleAmount) || d.GreaterThan(maxPlausibleAmount) {
			continue
		}
		if !found || d.GreaterThan(best) {
			best, found = d, true
		}
	}
	if !found {
		return 0, false
	}
	return best.InexactFloat64(), true
}

// parseAmount strips thousands separators and parses s. Empty, malformed and
// non-positive captures are rejected so extraction moves on.
func parseAmount(s string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if cleaned == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	return d.InexactFloat64(), true
}
