package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/finguru/finguru-service/internal/auth"
	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/reasoning"
	"github.com/finguru/finguru-service/internal/services"
	"github.com/finguru/finguru-service/internal/storage"
)

const (
	// MinVoiceBytes rejects recordings too short to hold speech
	MinVoiceBytes = 1000

	// BrowserSpeechConfidence is assumed for text recognized in the browser
	BrowserSpeechConfidence = 0.85

	extractionRetryMessage    = "could not extract text, try again"
	transcriptionRetryMessage = "could not transcribe audio, try again"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// UploadReceipt handles POST /api/receipts/upload
func (h *Handler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, contentType, ok := h.readUpload(w, r, "file", "image")
	if !ok {
		return
	}
	if !allowedImageTypes[contentType] {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid file type %q: allowed image/jpeg, image/png, image/webp", contentType))
		return
	}

	extraction, err := h.extractReceipt(ctx, data, contentType)
	if err != nil {
		h.log.Warn("receipt.extraction.failed", "req_id", requestID(ctx), "error", err)
		h.sendUserError(w, err, extractionRetryMessage)
		return
	}

	req := reasoning.Request{
		Source:           reasoning.SourceReceipt,
		Text:             extraction.RawText,
		HintDate:         extraction.Date,
		HintVendor:       extraction.VendorName,
		HintTaxID:        extraction.TaxID,
		SourceConfidence: extraction.Confidence,
	}
	if extraction.Amount != nil && *extraction.Amount > 0 {
		req.HintAmount = extraction.Amount
	}

	res, err := h.opts.Engine.Classify(ctx, req)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Stored only once the receipt produced a classification.
	var warnings []string
	mediaKey, warning := h.storeMedia(ctx, storage.KindReceipt, data, contentType)
	warnings = appendIf(warnings, warning)

	entry := services.NewEntry(res, services.Evidence{
		UserID:      auth.UserID(ctx),
		Source:      models.SourceReceipt,
		Date:        extraction.Date,
		VendorTaxID: extraction.TaxID,
		MediaKey:    mediaKey,
		RawText:     extraction.RawText,
	})
	h.respondWithEntry(w, r, entry, warnings)
}

// extractReceipt runs the vision extractor; an unusable extraction is an
// ExtractionUnavailable user error
func (h *Handler) extractReceipt(ctx context.Context, data []byte, contentType string) (*models.ReceiptExtraction, error) {
	if h.opts.Extractor == nil {
		return nil, common.ExtractionUnavailable(extractionRetryMessage, errors.New("no vision extractor configured"))
	}
	extraction, err := h.opts.Extractor.Extract(ctx, data, contentType)
	if err != nil {
		return nil, common.ExtractionUnavailable(extractionRetryMessage, err)
	}
	if !extraction.Usable() {
		return nil, common.ExtractionUnavailable(extractionRetryMessage, nil)
	}
	return extraction, nil
}

// UploadVoice handles POST /api/voice/upload
func (h *Handler) UploadVoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, contentType, ok := h.readUpload(w, r, "audio", "file")
	if !ok {
		return
	}
	if len(data) < MinVoiceBytes {
		h.sendError(w, http.StatusBadRequest, "recording too short, please record a longer message")
		return
	}
	if h.opts.Transcriber == nil {
		h.sendUserError(w, common.ExtractionUnavailable(transcriptionRetryMessage, errors.New("no transcriber configured")), transcriptionRetryMessage)
		return
	}

	transcription, err := h.opts.Transcriber.Transcribe(ctx, data, "voice"+storage.FileExtension(contentType))
	if err != nil {
		h.log.Warn("voice.transcription.failed", "req_id", requestID(ctx), "error", err)
		h.sendUserError(w, common.ExtractionUnavailable(transcriptionRetryMessage, err), transcriptionRetryMessage)
		return
	}
	if !transcription.Usable() {
		h.sendUserError(w, common.ExtractionUnavailable(transcriptionRetryMessage, nil), transcriptionRetryMessage)
		return
	}

	var warnings []string
	mediaKey, warning := h.storeMedia(ctx, storage.KindAudio, data, contentType)
	warnings = appendIf(warnings, warning)

	h.classifyVoice(w, r, transcription.RawText, transcription.Confidence, mediaKey, warnings)
}

// UploadVoiceText handles POST /api/voice/upload-text
func (h *Handler) UploadVoiceText(w http.ResponseWriter, r *http.Request) {
	var input models.TextInput
	if !h.decodeJSON(w, r, &input) {
		return
	}
	if strings.TrimSpace(input.Text) == "" {
		h.sendUserError(w, common.ExtractionUnavailable(transcriptionRetryMessage, nil), transcriptionRetryMessage)
		return
	}
	h.classifyVoice(w, r, input.Text, BrowserSpeechConfidence, "", nil)
}

// classifyVoice classifies transcribed speech. The entry confidence is the
// lower of the transcription and classification confidences.
func (h *Handler) classifyVoice(w http.ResponseWriter, r *http.Request, text string, transcriptionConfidence float64, mediaKey string, warnings []string) {
	ctx := r.Context()

	res, err := h.opts.Engine.Classify(ctx, reasoning.Request{
		Source:           reasoning.SourceVoice,
		Text:             text,
		SourceConfidence: transcriptionConfidence,
	})
	if err != nil {
		h.discardMedia(ctx, mediaKey)
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	res.Confidence = reasoning.Round2(math.Min(transcriptionConfidence, res.Confidence))
	threshold := h.opts.Engine.Policy().ConfirmationThreshold
	if !res.NeedsConfirmation && res.Confidence < threshold {
		res.NeedsConfirmation = true
		res.ConfirmationReason = fmt.Sprintf("Low transcription confidence (%.2f < %.2f)", res.Confidence, threshold)
	}

	entry := services.NewEntry(res, services.Evidence{
		UserID:   auth.UserID(ctx),
		Source:   models.SourceVoice,
		MediaKey: mediaKey,
		RawText:  text,
	})
	h.respondWithEntry(w, r, entry, warnings)
}

// respondWithEntry validates and saves entry, then writes the upload response.
// Persistence problems become warnings; the classification is still returned.
func (h *Handler) respondWithEntry(w http.ResponseWriter, r *http.Request, entry *models.LedgerEntry, warnings []string) {
	ctx := r.Context()
	persisted, saveWarnings := h.persist(ctx, entry)
	warnings = append(warnings, saveWarnings...)

	h.attachMediaURL(ctx, entry)

	h.writeJSON(w, http.StatusOK, models.UploadResponse{
		Success:            true,
		LedgerEntry:        entry,
		NeedsConfirmation:  entry.NeedsConfirmation,
		ConfirmationReason: entry.ConfirmationReason,
		Persisted:          persisted,
		Warnings:           warnings,
	})
}

// persist validates entry against the policy and saves it
func (h *Handler) persist(ctx context.Context, entry *models.LedgerEntry) (bool, []string) {
	var warnings []string

	result := h.validator.Validate(entry, h.opts.Engine.Policy())
	for _, warn := range result.Warnings {
		warnings = append(warnings, warn.Message)
	}
	if err := result.Err(); err != nil {
		h.log.Error("ledger.validation.failed", "req_id", requestID(ctx), "error", err)
		return false, append(warnings, fmt.Sprintf("entry not saved: %v", err))
	}

	if h.opts.Ledger == nil {
		return false, append(warnings, "entry not saved: ledger store not configured")
	}

	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.opts.Ledger.Save(saveCtx, entry); err != nil {
		h.log.Error("ledger.save.failed", "req_id", requestID(ctx), "error", err)
		return false, append(warnings, common.ErrPersistence.Error()+": entry could not be saved")
	}
	h.log.Info("ledger.saved",
		"req_id", requestID(ctx),
		"transaction_id", entry.ID,
		"category", entry.Category,
		"confidence", entry.Confidence,
	)
	return true, warnings
}

// ConfirmEntry handles POST /api/receipts/confirm and /api/voice/confirm
func (h *Handler) ConfirmEntry(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	var req models.ConfirmationRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	entry, ok := h.loadEntry(w, r, req.TransactionID)
	if !ok {
		return
	}

	p := h.opts.Engine.Policy()
	if err := services.ApplyConfirmation(entry, req, p); err != nil {
		if errors.Is(err, services.ErrUnknownCategory) {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.sendError(w, http.StatusInternalServerError, "confirmation failed")
		return
	}
	if err := h.validator.Validate(entry, p).Err(); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.opts.Ledger.Update(ctx, entry); err != nil {
		h.log.Error("ledger.update.failed", "req_id", requestID(ctx), "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to update entry")
		return
	}

	h.attachMediaURL(ctx, entry)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "entry confirmed",
		"ledger_entry": entry,
	})
}

// readUpload parses a multipart upload from the first present field
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, fields ...string) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return nil, "", false
	}

	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	for _, field := range fields {
		if file, header, err = r.FormFile(field); err == nil {
			break
		}
	}
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("No file provided (use '%s' field)", fields[0]))
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to read file")
		return nil, "", false
	}
	if len(data) == 0 {
		h.sendError(w, http.StatusBadRequest, "uploaded file is empty")
		return nil, "", false
	}

	contentType := mediaType(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mediaType(http.DetectContentType(data))
	}
	return data, contentType, true
}

// storeMedia uploads the source file; failure only produces a warning
func (h *Handler) storeMedia(ctx context.Context, kind string, data []byte, contentType string) (string, string) {
	if h.opts.Media == nil {
		return "", ""
	}
	key, err := h.opts.Media.Upload(ctx, kind, data, contentType)
	if err != nil {
		h.log.Warn("storage.upload.failed", "req_id", requestID(ctx), "kind", kind, "error", err)
		return "", "source file could not be stored"
	}
	return key, ""
}

// discardMedia removes a stored object, logging failures
func (h *Handler) discardMedia(ctx context.Context, key string) {
	if h.opts.Media == nil || key == "" {
		return
	}
	if err := h.opts.Media.Delete(ctx, key); err != nil {
		h.log.Warn("storage.delete.failed", "req_id", requestID(ctx), "key", key, "error", err)
	}
}

func (h *Handler) attachMediaURL(ctx context.Context, entry *models.LedgerEntry) {
	if h.opts.Media == nil || entry.MediaKey == "" {
		return
	}
	if url, err := h.opts.Media.PresignedURL(ctx, entry.MediaKey); err == nil {
		entry.MediaURL = url
	}
}

// sendUserError writes a retryable extraction failure
func (h *Handler) sendUserError(w http.ResponseWriter, err error, fallback string) {
	h.writeJSON(w, http.StatusUnprocessableEntity, models.UploadResponse{
		Success: false,
		Error:   common.UserMessage(err, fallback),
	})
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	return strings.TrimSpace(mt)
}

func appendIf(list []string, s string) []string {
	if s == "" {
		return list
	}
	return append(list, s)
}

// validationMessage names the first failing field
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return "invalid request"
}
