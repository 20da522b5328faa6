package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/policy"
	"github.com/finguru/finguru-service/internal/reasoning"
)

// ConfirmedSuffix marks an explanation reviewed by the user
const ConfirmedSuffix = " [User confirmed]"

// ErrUnknownCategory is returned when a correction names a category the policy does not declare
var ErrUnknownCategory = errors.New("unknown category")

// Evidence is what the caller knows about an entry besides the classification
type Evidence struct {
	UserID      string
	Source      string
	Date        *time.Time
	VendorTaxID string
	MediaKey    string
	RawText     string
}

// NewEntry builds the ledger entry for a classification. The expense date is
// the evidence date when known, else today.
func NewEntry(res reasoning.Result, ev Evidence) *models.LedgerEntry {
	date := time.Now()
	if ev.Date != nil && !ev.Date.IsZero() {
		date = *ev.Date
	}
	return &models.LedgerEntry{
		UserID:             ev.UserID,
		Date:               date.Format(time.DateOnly),
		Amount:             res.Amount,
		Category:           res.Category,
		TaxRate:            res.TaxRate,
		TaxAmount:          res.TaxAmount,
		Confidence:         res.Confidence,
		Explanation:        res.Explanation,
		NeedsConfirmation:  res.NeedsConfirmation,
		ConfirmationReason: res.ConfirmationReason,
		ReasoningPath:      string(res.Path),
		Source:             ev.Source,
		VendorName:         res.VendorName,
		VendorTaxID:        ev.VendorTaxID,
		MediaKey:           ev.MediaKey,
		RawText:            ev.RawText,
	}
}

// ApplyConfirmation applies user corrections to entry. Tax is re-derived from
// the policy rate of the (possibly new) category; the entry becomes confirmed
// with full confidence.
func ApplyConfirmation(entry *models.LedgerEntry, req models.ConfirmationRequest, p *policy.Policy) error {
	categoryKey := entry.Category
	if req.ConfirmedCategory != nil {
		categoryKey = normalizeCategory(*req.ConfirmedCategory)
	}
	category, ok := p.Category(categoryKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, categoryKey)
	}

	amount := entry.Amount
	if req.ConfirmedAmount != nil {
		amount = *req.ConfirmedAmount
	}

	entry.Amount = amount
	entry.Category = category.Key
	entry.TaxRate = category.TaxRate
	entry.TaxAmount = reasoning.TaxAmount(amount, category.TaxRate)
	entry.Confidence = 1.0
	entry.NeedsConfirmation = false
	entry.ConfirmationReason = ""
	entry.Confirmed = true

	explanation := strings.TrimSuffix(entry.Explanation, ConfirmedSuffix)
	if notes := strings.TrimSpace(req.UserNotes); notes != "" {
		explanation += " Note: " + notes
	}
	entry.Explanation = explanation + ConfirmedSuffix
	return nil
}

func normalizeCategory(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}
