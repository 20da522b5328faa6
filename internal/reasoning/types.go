// Package reasoning turns extracted expense text into a policy-compliant
// classification. A primary reasoner backed by a language model is tried first;
// any failure falls back to the deterministic keyword and pattern path.
package reasoning

import (
	"strings"
	"time"
)

// Source identifies where the classified text came from.
type Source string

const (
	SourceReceipt Source = "receipt"
	SourceVoice   Source = "voice"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceReceipt || s == SourceVoice
}

// Path records which path produced a result.
type Path string

const (
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
)

// Request is one classification call.
type Request struct {
	Source Source
	Text   string

	// Optional hints pre-extracted by the vision or transcription step.
	HintAmount *float64
	HintDate   *time.Time
	HintVendor string
	HintTaxID  string

	// SourceConfidence is the extraction confidence of Text in [0,1].
	// Zero means unknown.
	SourceConfidence float64
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if !r.Source.Valid() {
		return invalidRequest("unknown source %q", r.Source)
	}
	if strings.TrimSpace(r.Text) == "" {
		return invalidRequest("text is required")
	}
	if r.HintAmount != nil && *r.HintAmount <= 0 {
		return invalidRequest("hint amount must be positive, got %.2f", *r.HintAmount)
	}
	if r.SourceConfidence < 0 || r.SourceConfidence > 1 {
		return invalidRequest("source confidence %.2f outside [0,1]", r.SourceConfidence)
	}
	return nil
}

// Result is the classification handed to the caller.
type Result struct {
	Amount             float64 `json:"amount"`
	Category           string  `json:"category"`
	TaxRate            float64 `json:"tax_rate"`
	TaxAmount          float64 `json:"tax_amount"`
	Confidence         float64 `json:"confidence"`
	Explanation        string  `json:"explanation"`
	VendorName         string  `json:"vendor_name,omitempty"`
	NeedsConfirmation  bool    `json:"needs_confirmation"`
	ConfirmationReason string  `json:"confirmation_reason,omitempty"`
	Path               Path    `json:"reasoning_path"`
}
