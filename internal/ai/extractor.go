package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

const visionMaxTokens = 1000

// gstinRegex matches an Indian GSTIN: state code, PAN, entity number, Z, checksum
var gstinRegex = regexp.MustCompile(`^\d{2}[A-Z]{5}\d{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)

// jsonBlock finds the outermost JSON object in a model answer
var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// ImagePreprocessor enhances an image before extraction
type ImagePreprocessor interface {
	Process(ctx context.Context, image []byte, mediaType string) ([]byte, string)
}

// VisionExtractor reads receipt images with a vision-capable provider
type VisionExtractor struct {
	provider     Provider
	preprocessor ImagePreprocessor
	log          *slog.Logger
}

// NewVisionExtractor creates a new extractor. preprocessor may be nil.
func NewVisionExtractor(provider Provider, preprocessor ImagePreprocessor, logger *slog.Logger) *VisionExtractor {
	return &VisionExtractor{
		provider:     provider,
		preprocessor: preprocessor,
		log:          common.OrDefault(logger),
	}
}

// Extract reads text and structured fields from a receipt image.
// A provider or parse failure is returned as an error; the caller decides
// whether the result is usable.
func (e *VisionExtractor) Extract(ctx context.Context, image []byte, mediaType string) (*models.ReceiptExtraction, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("%w: no vision provider configured", common.ErrExtractionUnavailable)
	}
	startTime := time.Now()

	if e.preprocessor != nil {
		image, mediaType = e.preprocessor.Process(ctx, image, mediaType)
	}

	response, err := e.provider.Complete(ctx, CompletionRequest{
		Prompt:     buildReceiptPrompt(time.Now().Year()),
		Image:      image,
		ImageMIME:  mediaType,
		JSONOutput: true,
		MaxTokens:  visionMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("vision extraction failed: %w", err)
	}

	e.log.Debug("vision.response",
		"provider", e.provider.Name(),
		"bytes", len(response),
		"elapsed_ms", time.Since(startTime).Milliseconds(),
	)

	extraction, err := parseReceiptResponse(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vision response: %w", err)
	}
	return extraction, nil
}

// buildReceiptPrompt creates the prompt for direct image analysis
func buildReceiptPrompt(currentYear int) string {
	return fmt.Sprintf(`You are an expert at reading Indian shop receipts and GST invoices. Read every character of the image carefully.

## STEPS
1. Look at the header (shop name, address, GSTIN), the middle (items and prices) and the bottom (totals, payment).
2. The vendor is the business that SELLS: its name is at the top of the receipt.
3. The amount is the final total paid (Grand Total, Net Amount, Amount Payable). It is usually the largest number near the end.

## GSTIN FORMAT
- 15 characters: 2 digit state code + 10 character PAN + 1 entity digit + Z + 1 checksum character
- Example: 29ABCDE1234F1Z5

## OUTPUT
Return ONLY valid JSON (no markdown, no comments):
{
  "raw_text": "all text on the receipt, line by line",
  "amount": number (final total, no currency symbol, 0 if not visible),
  "date": "YYYY-MM-DD or null",
  "vendor_name": "shop or company name or null",
  "vendor_gstin": "GSTIN if visible or null",
  "items": [{"description": "...", "amount": 100}]
}

## RULES
1. NEVER invent data. Use null if you cannot read a field.
2. Amounts are plain numbers without commas or currency symbols.
3. Default year if not visible: %d`, currentYear)
}

// parseReceiptResponse converts the vision JSON answer into a ReceiptExtraction
func parseReceiptResponse(response string) (*models.ReceiptExtraction, error) {
	// Clean response (remove markdown code blocks if present)
	cleaned := strings.TrimSpace(response)
	backticks := "```"
	cleaned = strings.ReplaceAll(cleaned, backticks+"json", "")
	cleaned = strings.ReplaceAll(cleaned, backticks, "")
	cleaned = strings.TrimSpace(cleaned)
	if !strings.HasPrefix(cleaned, "{") {
		cleaned = jsonBlock.FindString(cleaned)
	}

	// interface{} for flexible number parsing (handles strings with commas)
	var raw struct {
		RawText     string      `json:"raw_text"`
		Amount      interface{} `json:"amount"`
		Date        string      `json:"date"`
		VendorName  string      `json:"vendor_name"`
		VendorGSTIN string      `json:"vendor_gstin"`
		Items       []struct {
			Description string      `json:"description"`
			Amount      interface{} `json:"amount"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}

	extraction := &models.ReceiptExtraction{
		RawText:    strings.TrimSpace(raw.RawText),
		VendorName: strings.TrimSpace(raw.VendorName),
		TaxID:      cleanGSTIN(raw.VendorGSTIN),
	}

	if amount := parseDecimal(raw.Amount); amount.IsPositive() {
		v := amount.Round(2).InexactFloat64()
		extraction.Amount = &v
	}
	if d := parseDate(raw.Date); !d.IsZero() {
		extraction.Date = &d
	}
	for _, item := range raw.Items {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			continue
		}
		extraction.Items = append(extraction.Items, models.ReceiptItem{
			Description: desc,
			Amount:      parseDecimal(item.Amount).Round(2).InexactFloat64(),
		})
	}

	extraction.Confidence = calculateConfidence(extraction)
	return extraction, nil
}

// Helper functions

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return time.Time{}
	}
	formats := []string{
		"2006-01-02",
		"02/01/2006",
		"02-01-2006",
		"02.01.2006",
		"2006/01/02",
		"02 Jan 2006",
		"Jan 02, 2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseDecimal handles flexible number parsing from interface{}
// Supports: numbers, strings, strings with commas or currency (e.g., "₹3,965.34")
func parseDecimal(v interface{}) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}

	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		cleaned := strings.NewReplacer(",", "", "₹", "", "Rs.", "", "Rs", "", "INR", "", " ", "").Replace(val)
		if cleaned == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// cleanGSTIN keeps alphanumerics, upper-cased
func cleanGSTIN(gstin string) string {
	var result strings.Builder
	for _, r := range strings.ToUpper(gstin) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			result.WriteRune(r)
		}
	}
	if result.String() == "NULL" {
		return ""
	}
	return result.String()
}

// ValidGSTIN reports whether s has the GSTIN shape
func ValidGSTIN(s string) bool {
	return gstinRegex.MatchString(s)
}

// calculateConfidence scores extraction quality from field presence (0-1).
//
//	raw text 0.35, amount 0.25, vendor 0.10, date 0.10, tax id 0.05,
//	valid GSTIN 0.05, items 0.05, items consistent with total (within 5%) 0.05
func calculateConfidence(e *models.ReceiptExtraction) float64 {
	if strings.TrimSpace(e.RawText) == "" {
		return 0
	}
	score := decimal.NewFromFloat(0.35)

	if e.Amount != nil && *e.Amount > 0 {
		score = score.Add(decimal.NewFromFloat(0.25))
	}
	if e.VendorName != "" {
		score = score.Add(decimal.NewFromFloat(0.10))
	}
	if e.Date != nil {
		score = score.Add(decimal.NewFromFloat(0.10))
	}
	if e.TaxID != "" {
		score = score.Add(decimal.NewFromFloat(0.05))
		if ValidGSTIN(e.TaxID) {
			score = score.Add(decimal.NewFromFloat(0.05))
		}
	}
	if len(e.Items) > 0 {
		score = score.Add(decimal.NewFromFloat(0.05))
		if e.Amount != nil && itemsMatchTotal(e.Items, *e.Amount) {
			score = score.Add(decimal.NewFromFloat(0.05))
		}
	}

	return decimal.Min(score, decimal.NewFromInt(1)).Round(2).InexactFloat64()
}

// itemsMatchTotal reports whether line items sum to within 5% of total.
// Totals usually include tax, so items may fall short but never exceed by much.
func itemsMatchTotal(items []models.ReceiptItem, total float64) bool {
	if total <= 0 {
		return false
	}
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(decimal.NewFromFloat(it.Amount))
	}
	t := decimal.NewFromFloat(total)
	diff := t.Sub(sum).Abs()
	return diff.LessThanOrEqual(t.Mul(decimal.NewFromFloat(0.05)))
}
