package models

import (
	"strings"
	"time"
)

// Entry sources
const (
	SourceReceipt = "receipt"
	SourceVoice   = "voice"
)

// LedgerEntry is one classified expense as stored in the ledger
type LedgerEntry struct {
	ID     string `json:"transaction_id"`    // UUID
	UserID string `json:"user_id,omitempty"` // Owner (empty when auth is disabled)
	Date   string `json:"date"`              // Expense date, YYYY-MM-DD

	// Classification
	Amount             float64 `json:"amount"`                        // Amount in policy currency
	Category           string  `json:"category"`                      // Policy category key
	TaxRate            float64 `json:"tax_rate"`                      // Percentage copied from policy
	TaxAmount          float64 `json:"tax_amount"`                    // round(amount * tax_rate / 100, 2)
	Confidence         float64 `json:"confidence"`                    // 0-1
	Explanation        string  `json:"explanation"`                   // Human-readable justification
	NeedsConfirmation  bool    `json:"needs_confirmation"`            // Routed to a human
	ConfirmationReason string  `json:"confirmation_reason,omitempty"` // Set iff NeedsConfirmation
	Confirmed          bool    `json:"confirmed"`                     // User reviewed the entry
	ReasoningPath      string  `json:"reasoning_path,omitempty"`      // primary or fallback

	// Evidence
	Source      string `json:"source"`                  // receipt or voice
	VendorName  string `json:"vendor_name,omitempty"`   // Merchant name
	VendorTaxID string `json:"vendor_tax_id,omitempty"` // GSTIN if visible
	MediaKey    string `json:"media_key,omitempty"`     // Object store key of the image/audio
	MediaURL    string `json:"media_url,omitempty"`     // Presigned URL (not persisted)
	RawText     string `json:"raw_text,omitempty"`      // Extracted or transcribed text

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReceiptItem is a line read from a receipt
type ReceiptItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount,omitempty"`
}

// ReceiptExtraction is what the vision extractor read from a receipt image
type ReceiptExtraction struct {
	RawText    string        `json:"raw_text"`
	Amount     *float64      `json:"amount,omitempty"`
	Date       *time.Time    `json:"date,omitempty"`
	VendorName string        `json:"vendor_name,omitempty"`
	TaxID      string        `json:"tax_id,omitempty"`
	Items      []ReceiptItem `json:"items,omitempty"`
	Confidence float64       `json:"confidence"`
}

// Usable reports whether the extraction can be classified
func (e *ReceiptExtraction) Usable() bool {
	return e != nil && e.Confidence > 0 && hasText(e.RawText)
}

// VoiceTranscription is what the transcriber heard
type VoiceTranscription struct {
	RawText    string  `json:"raw_text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Usable reports whether the transcription can be classified
func (v *VoiceTranscription) Usable() bool {
	return v != nil && hasText(v.RawText)
}

// DailySummary aggregates one day of entries
type DailySummary struct {
	Date          string             `json:"date"`
	TotalAmount   float64            `json:"total_amount"`
	TotalTax      float64            `json:"total_tax"`
	EntryCount    int                `json:"entry_count"`
	ByCategory    map[string]float64 `json:"by_category"`
	TaxByCategory map[string]float64 `json:"tax_by_category"`
}

// RangeSummary aggregates entries between two dates, inclusive
type RangeSummary struct {
	StartDate     string             `json:"start_date"`
	EndDate       string             `json:"end_date"`
	TotalAmount   float64            `json:"total_amount"`
	TotalTax      float64            `json:"total_tax"`
	EntryCount    int                `json:"entry_count"`
	ByCategory    map[string]float64 `json:"by_category"`
	TaxByCategory map[string]float64 `json:"tax_by_category"`
	BySource      map[string]float64 `json:"by_source"`
}

// AdvisorInsight is the accountant-style overview of recent spending
type AdvisorInsight struct {
	Summary           string             `json:"summary"`
	TotalExpenses     float64            `json:"total_expenses"`
	TotalTax          float64            `json:"total_tax"`
	TopCategory       string             `json:"top_category"`
	TopCategoryAmount float64            `json:"top_category_amount"`
	EntryCount        int                `json:"entry_count"`
	Tips              []string           `json:"tips"`
	TaxBreakdown      map[string]float64 `json:"tax_breakdown"`
	CategoryBreakdown map[string]float64 `json:"category_breakdown"`
}

// UploadResponse is returned by the receipt and voice endpoints
type UploadResponse struct {
	Success            bool         `json:"success"`
	LedgerEntry        *LedgerEntry `json:"ledger_entry,omitempty"`
	NeedsConfirmation  bool         `json:"needs_confirmation"`
	ConfirmationReason string       `json:"confirmation_reason,omitempty"`
	Persisted          bool         `json:"persisted"`
	Warnings           []string     `json:"warnings,omitempty"`
	Error              string       `json:"error,omitempty"`
}

// ConfirmationRequest carries user corrections for an entry
type ConfirmationRequest struct {
	TransactionID     string   `json:"transaction_id" validate:"required,uuid"`
	ConfirmedAmount   *float64 `json:"confirmed_amount,omitempty" validate:"omitempty,gte=0"`
	ConfirmedCategory *string  `json:"confirmed_category,omitempty" validate:"omitempty,min=1,max=64"`
	UserNotes         string   `json:"user_notes,omitempty" validate:"max=500"`
}

// TextInput is speech recognized in the browser
type TextInput struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// User is a registered account
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func hasText(s string) bool {
	return strings.TrimSpace(s) != ""
}
