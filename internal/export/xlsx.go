// Package export renders ledger entries as spreadsheets.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/policy"
	"github.com/finguru/finguru-service/internal/services"
)

// ContentType is the MIME type of the workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	entriesSheet = "Ledger"
	summarySheet = "Summary"
)

var entryHeaders = []string{
	"Date",
	"Category",
	"Vendor",
	"Amount",
	"Tax Rate %",
	"Tax Amount",
	"Confidence",
	"Needs Confirmation",
	"Confirmed",
	"Source",
	"Vendor GSTIN",
	"Explanation",
	"Transaction ID",
}

// RangeLister is the ledger query the exporter needs
type RangeLister interface {
	ListRange(ctx context.Context, userID, startDate, endDate string) ([]models.LedgerEntry, error)
}

// Service produces XLSX exports of the ledger
type Service struct {
	ledger RangeLister
	logger *slog.Logger
}

// NewService creates the export service
func NewService(ledger RangeLister, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, logger: common.OrDefault(logger)}
}

// ExportLedgerXLSX returns a workbook with the user's entries between two
// dates inclusive.
func (s *Service) ExportLedgerXLSX(ctx context.Context, userID, startDate, endDate string, p *policy.Policy) ([]byte, error) {
	start := time.Now()

	entries, err := s.ledger.ListRange(ctx, userID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}

	data, err := WriteLedgerXLSX(entries, p)
	if err != nil {
		return nil, err
	}

	s.logger.Info("export.xlsx.ok",
		"start_date", startDate,
		"end_date", endDate,
		"rows", len(entries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

// WriteLedgerXLSX renders entries on a "Ledger" sheet and per-category totals
// on a "Summary" sheet.
func WriteLedgerXLSX(entries []models.LedgerEntry, p *policy.Policy) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the ledger sheet
	if err := f.SetSheetName(f.GetSheetName(0), entriesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	if err := writeRow(f, entriesSheet, 1, toAny(entryHeaders)); err != nil {
		return nil, err
	}
	for i, e := range entries {
		row := []any{
			e.Date,
			p.DisplayName(e.Category),
			e.VendorName,
			e.Amount,
			e.TaxRate,
			e.TaxAmount,
			e.Confidence,
			yesNo(e.NeedsConfirmation),
			yesNo(e.Confirmed),
			e.Source,
			e.VendorTaxID,
			truncate(e.Explanation, 300),
			e.ID,
		}
		if err := writeRow(f, entriesSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(entriesSheet, "A", "A", 12) // date
	_ = f.SetColWidth(entriesSheet, "B", "C", 24) // category, vendor
	_ = f.SetColWidth(entriesSheet, "D", "I", 12) // numbers, flags
	_ = f.SetColWidth(entriesSheet, "L", "L", 60) // explanation
	_ = f.SetColWidth(entriesSheet, "M", "M", 38) // id

	if err := writeSummary(f, entries, p); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// writeSummary lists categories in policy order, skipping those without entries
func writeSummary(f *excelize.File, entries []models.LedgerEntry, p *policy.Policy) error {
	summary := services.Range("", "", entries)

	if err := writeRow(f, summarySheet, 1, []any{"Category", "Amount", "Tax Amount"}); err != nil {
		return err
	}
	row := 2
	for _, key := range p.Keys() {
		amount, ok := summary.ByCategory[key]
		if !ok {
			continue
		}
		if err := writeRow(f, summarySheet, row, []any{p.DisplayName(key), amount, summary.TaxByCategory[key]}); err != nil {
			return err
		}
		row++
	}
	if err := writeRow(f, summarySheet, row, []any{"Total", summary.TotalAmount, summary.TotalTax}); err != nil {
		return err
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)
	_ = f.SetColWidth(summarySheet, "B", "C", 14)
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
