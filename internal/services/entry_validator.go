// Package services holds ledger business rules: entry validation, user
// confirmation, summaries and advisor insights.
package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/finguru/finguru-service/internal/ai"
	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/policy"
	"github.com/finguru/finguru-service/internal/reasoning"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field    string  `json:"field"`
	Code     string  `json:"code"`
	Expected float64 `json:"expected,omitempty"`
	Actual   float64 `json:"actual,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ValidationWarning represents a non-critical issue
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the response from validation
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

// Err summarizes the errors as one error value, nil when valid
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return fmt.Errorf("invalid ledger entry: %s", strings.Join(msgs, "; "))
}

// EntryValidator checks a ledger entry against the policy before it is persisted
type EntryValidator struct {
	tolerance float64 // absolute tolerance on tax amounts
}

// NewEntryValidator creates a new validator with half a paisa tolerance
func NewEntryValidator() *EntryValidator {
	return &EntryValidator{tolerance: 0.005}
}

// Validate performs all checks on entry
func (v *EntryValidator) Validate(entry *models.LedgerEntry, p *policy.Policy) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	// 1. Amount
	if entry.Amount < 0 || math.IsNaN(entry.Amount) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "amount",
			Code:    "amount_negative",
			Actual:  entry.Amount,
			Message: "amount must not be negative",
		})
	}

	// 2. Category and tax
	v.validateTax(entry, p, result)

	// 3. Confidence
	if entry.Confidence < 0 || entry.Confidence > 1 || math.IsNaN(entry.Confidence) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "confidence",
			Code:    "confidence_out_of_range",
			Actual:  entry.Confidence,
			Message: "confidence must be within [0,1]",
		})
	}

	// 4. Confirmation coherence
	v.validateConfirmation(entry, result)

	// 5. Explanation
	if strings.TrimSpace(entry.Explanation) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "explanation",
			Code:    "explanation_missing",
			Message: "explanation must not be empty",
		})
	}

	// 6. Evidence
	v.validateEvidence(entry, result)

	result.Valid = len(result.Errors) == 0
	return result
}

// validateTax checks the category exists and tax is derived from the policy rate
func (v *EntryValidator) validateTax(entry *models.LedgerEntry, p *policy.Policy, result *ValidationResult) {
	category, ok := p.Category(entry.Category)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "category",
			Code:    "category_unknown",
			Message: "category not in policy: " + entry.Category,
		})
		return
	}

	if math.Abs(entry.TaxRate-category.TaxRate) > 1e-9 {
		result.Errors = append(result.Errors, ValidationError{
			Field:    "tax_rate",
			Code:     "tax_rate_mismatch",
			Expected: category.TaxRate,
			Actual:   entry.TaxRate,
			Message:  "tax rate does not match policy for " + category.Key,
		})
	}

	expected := reasoning.TaxAmount(entry.Amount, category.TaxRate)
	if math.Abs(entry.TaxAmount-expected) > v.tolerance {
		result.Errors = append(result.Errors, ValidationError{
			Field:    "tax_amount",
			Code:     "tax_amount_mismatch",
			Expected: expected,
			Actual:   entry.TaxAmount,
			Message:  "tax amount is not amount x rate / 100",
		})
	}
}

// validateConfirmation checks the reason is present iff confirmation is needed
func (v *EntryValidator) validateConfirmation(entry *models.LedgerEntry, result *ValidationResult) {
	hasReason := strings.TrimSpace(entry.ConfirmationReason) != ""
	switch {
	case entry.NeedsConfirmation && !hasReason:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "confirmation_reason",
			Code:    "confirmation_reason_missing",
			Message: "confirmation reason required when confirmation is needed",
		})
	case !entry.NeedsConfirmation && hasReason:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "confirmation_reason",
			Code:    "confirmation_reason_unexpected",
			Message: "confirmation reason set but no confirmation needed",
		})
	}
}

// validateEvidence checks non-critical evidence fields
func (v *EntryValidator) validateEvidence(entry *models.LedgerEntry, result *ValidationResult) {
	if entry.VendorTaxID != "" && !ai.ValidGSTIN(entry.VendorTaxID) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "vendor_tax_id",
			Code:    "gstin_invalid_format",
			Message: "vendor tax id is not a valid GSTIN: " + entry.VendorTaxID,
		})
	}
	if entry.Source != models.SourceReceipt && entry.Source != models.SourceVoice {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "source",
			Code:    "source_unknown",
			Message: "unknown entry source: " + entry.Source,
		})
	}
}
