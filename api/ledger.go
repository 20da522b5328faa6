package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/finguru/finguru-service/internal/auth"
	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/db"
	"github.com/finguru/finguru-service/internal/export"
	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/services"
)

const defaultListLimit = 20

// ListEntries handles GET /api/ledger/entries?date=&limit=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	q := r.URL.Query()

	limit := defaultListLimit
	if l := q.Get("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val < 1 || val > db.MaxListLimit {
			h.sendError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", db.MaxListLimit))
			return
		}
		limit = val
	}

	var (
		entries []models.LedgerEntry
		err     error
	)
	if date := q.Get("date"); date != "" {
		if !validDate(date) {
			h.sendError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		entries, err = h.opts.Ledger.ListByDate(ctx, userID, date)
	} else {
		entries, err = h.opts.Ledger.ListRecent(ctx, userID, limit)
	}
	if err != nil {
		h.log.Error("ledger.list.failed", "req_id", requestID(ctx), "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get entries")
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	for i := range entries {
		h.attachMediaURL(ctx, &entries[i])
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
		"count":   len(entries),
	})
}

// GetEntry handles GET /api/ledger/entries/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	entry, ok := h.loadEntry(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	h.attachMediaURL(r.Context(), entry)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"ledger_entry": entry,
	})
}

// DeleteEntry handles DELETE /api/ledger/entries/{id}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	ctx := r.Context()
	entry, ok := h.loadEntry(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}

	if err := h.opts.Ledger.Delete(ctx, entry.UserID, entry.ID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "entry not found")
			return
		}
		h.log.Error("ledger.delete.failed", "req_id", requestID(ctx), "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to delete entry")
		return
	}

	// Media removal is best effort
	h.discardMedia(ctx, entry.MediaKey)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "entry deleted",
	})
}

// GetEntryMedia handles GET /api/ledger/entries/{id}/media, proxying the
// stored receipt image or voice note
func (h *Handler) GetEntryMedia(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	if h.opts.Media == nil {
		h.sendError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}
	ctx := r.Context()
	entry, ok := h.loadEntry(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	if entry.MediaKey == "" {
		h.sendError(w, http.StatusNotFound, "entry has no stored media")
		return
	}

	body, contentType, err := h.opts.Media.Open(ctx, entry.MediaKey)
	if err != nil {
		h.log.Warn("storage.open.failed", "req_id", requestID(ctx), "key", entry.MediaKey, "error", err)
		h.sendError(w, http.StatusBadGateway, "media not available")
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, body); err != nil {
		h.log.Debug("storage.stream.aborted", "req_id", requestID(ctx), "error", err)
	}
}

// DailySummary handles GET /api/ledger/summary?date=
func (h *Handler) DailySummary(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	ctx := r.Context()
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	if !validDate(date) {
		h.sendError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	entries, err := h.opts.Ledger.ListByDate(ctx, auth.UserID(ctx), date)
	if err != nil {
		h.log.Error("ledger.summary.failed", "req_id", requestID(ctx), "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get summary")
		return
	}
	h.writeJSON(w, http.StatusOK, services.Daily(date, entries))
}

// RangeSummary handles GET /api/ledger/summary/range?start_date=&end_date=
func (h *Handler) RangeSummary(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	ctx := r.Context()
	start, end, ok := h.dateRange(w, r, false)
	if !ok {
		return
	}

	entries, err := h.opts.Ledger.ListRange(ctx, auth.UserID(ctx), start, end)
	if err != nil {
		h.log.Error("ledger.summary.failed", "req_id", requestID(ctx), "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get summary")
		return
	}
	h.writeJSON(w, http.StatusOK, services.Range(start, end, entries))
}

// CategoryInfo is one policy category as listed to clients
type CategoryInfo struct {
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	TaxRate     float64 `json:"tax_rate"`
}

// Categories handles GET /api/ledger/categories
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	p := h.opts.Engine.Policy()
	categories := make([]CategoryInfo, len(p.Categories))
	for i, c := range p.Categories {
		categories[i] = CategoryInfo{Key: c.Key, DisplayName: c.DisplayName, TaxRate: c.TaxRate}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"policy_version": p.Version,
		"currency":       p.Currency,
		"categories":     categories,
	})
}

// Export handles GET /api/ledger/export?start_date=&end_date=
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	ctx := r.Context()
	start, end, ok := h.dateRange(w, r, true)
	if !ok {
		return
	}

	data, err := h.exporter.ExportLedgerXLSX(ctx, auth.UserID(ctx), start, end, h.opts.Engine.Policy())
	if err != nil {
		h.log.Error("export.xlsx.failed", "req_id", requestID(ctx), "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to export ledger")
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ledger_%s_%s.xlsx"`, start, end))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// AdvisorInsights handles GET /api/advisor/insights
func (h *Handler) AdvisorInsights(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	ctx := r.Context()
	entries, err := h.opts.Ledger.ListRecent(ctx, auth.UserID(ctx), services.AdvisorWindow)
	if err != nil {
		h.log.Error("advisor.list.failed", "req_id", requestID(ctx), "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get insights")
		return
	}
	h.writeJSON(w, http.StatusOK, services.Insights(entries, h.opts.Engine.Policy()))
}

func (h *Handler) requireLedger(w http.ResponseWriter) bool {
	if h.opts.Ledger == nil {
		h.sendError(w, http.StatusServiceUnavailable, "ledger not available (classify-only mode)")
		return false
	}
	return true
}

// loadEntry fetches an entry owned by the caller, writing 404 when missing
func (h *Handler) loadEntry(w http.ResponseWriter, r *http.Request, id string) (*models.LedgerEntry, bool) {
	ctx := r.Context()
	entry, err := h.opts.Ledger.Get(ctx, auth.UserID(ctx), id)
	if errors.Is(err, common.ErrNotFound) {
		h.sendError(w, http.StatusNotFound, "entry not found")
		return nil, false
	}
	if err != nil {
		h.log.Error("ledger.get.failed", "req_id", requestID(ctx), "id", id, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get entry")
		return nil, false
	}
	return entry, true
}

// dateRange reads start_date and end_date. With defaults set, missing values
// cover the current month up to today.
func (h *Handler) dateRange(w http.ResponseWriter, r *http.Request, defaults bool) (string, string, bool) {
	q := r.URL.Query()
	start, end := q.Get("start_date"), q.Get("end_date")
	if defaults {
		now := time.Now()
		if start == "" {
			start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(time.DateOnly)
		}
		if end == "" {
			end = now.Format(time.DateOnly)
		}
	}
	if !validDate(start) || !validDate(end) {
		h.sendError(w, http.StatusBadRequest, "start_date and end_date must be YYYY-MM-DD")
		return "", "", false
	}
	if end < start {
		h.sendError(w, http.StatusBadRequest, "end_date is before start_date")
		return "", "", false
	}
	return start, end, true
}

func validDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
