package services

import (
	"github.com/shopspring/decimal"

	"github.com/finguru/finguru-service/internal/models"
)

// totals accumulates money exactly and rounds once at the end
type totals struct {
	amount, tax   decimal.Decimal
	count         int
	byCategory    map[string]decimal.Decimal
	taxByCategory map[string]decimal.Decimal
	bySource      map[string]decimal.Decimal
	order         []string // categories in first-seen order
}

func sumEntries(entries []models.LedgerEntry) *totals {
	t := &totals{
		byCategory:    map[string]decimal.Decimal{},
		taxByCategory: map[string]decimal.Decimal{},
		bySource:      map[string]decimal.Decimal{},
	}
	for _, e := range entries {
		amount := decimal.NewFromFloat(e.Amount)
		tax := decimal.NewFromFloat(e.TaxAmount)

		t.amount = t.amount.Add(amount)
		t.tax = t.tax.Add(tax)
		t.count++

		if _, seen := t.byCategory[e.Category]; !seen {
			t.order = append(t.order, e.Category)
		}
		t.byCategory[e.Category] = t.byCategory[e.Category].Add(amount)
		t.taxByCategory[e.Category] = t.taxByCategory[e.Category].Add(tax)
		t.bySource[e.Source] = t.bySource[e.Source].Add(amount)
	}
	return t
}

// top returns the category with the largest total; ties go to the first seen
func (t *totals) top() (string, decimal.Decimal) {
	var (
		best   string
		amount decimal.Decimal
	)
	for _, key := range t.order {
		if v := t.byCategory[key]; best == "" || v.GreaterThan(amount) {
			best, amount = key, v
		}
	}
	return best, amount
}

func roundedMap(m map[string]decimal.Decimal, rename func(string) string) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if rename != nil {
			k = rename(k)
		}
		out[k] = money(v)
	}
	return out
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// Daily aggregates the entries of one day
func Daily(date string, entries []models.LedgerEntry) models.DailySummary {
	t := sumEntries(entries)
	return models.DailySummary{
		Date:          date,
		TotalAmount:   money(t.amount),
		TotalTax:      money(t.tax),
		EntryCount:    t.count,
		ByCategory:    roundedMap(t.byCategory, nil),
		TaxByCategory: roundedMap(t.taxByCategory, nil),
	}
}

// Range aggregates entries between two dates, adding totals per source
func Range(startDate, endDate string, entries []models.LedgerEntry) models.RangeSummary {
	t := sumEntries(entries)
	return models.RangeSummary{
		StartDate:     startDate,
		EndDate:       endDate,
		TotalAmount:   money(t.amount),
		TotalTax:      money(t.tax),
		EntryCount:    t.count,
		ByCategory:    roundedMap(t.byCategory, nil),
		TaxByCategory: roundedMap(t.taxByCategory, nil),
		BySource:      roundedMap(t.bySource, nil),
	}
}
