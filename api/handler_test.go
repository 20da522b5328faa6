package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finguru/finguru-service/internal/auth"
	"github.com/finguru/finguru-service/internal/db"
	"github.com/finguru/finguru-service/internal/export"
	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/policy"
	"github.com/finguru/finguru-service/internal/reasoning"
	"github.com/finguru/finguru-service/internal/services"
)

// Mock collaborators

type mockExtractor struct {
	result *models.ReceiptExtraction
	err    error
	calls  int
}

func (m *mockExtractor) Extract(_ context.Context, _ []byte, _ string) (*models.ReceiptExtraction, error) {
	m.calls++
	return m.result, m.err
}

type mockTranscriber struct {
	result   *models.VoiceTranscription
	err      error
	filename string
}

func (m *mockTranscriber) Transcribe(_ context.Context, _ []byte, filename string) (*models.VoiceTranscription, error) {
	m.filename = filename
	return m.result, m.err
}

type mockMedia struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	uploadErr error
	deleted   []string
}

func newMockMedia() *mockMedia {
	return &mockMedia{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockMedia) Upload(_ context.Context, kind string, data []byte, contentType string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := kind + "/" + uuid.NewString()
	m.objects[key] = data
	m.types[key] = contentType
	return key, nil
}

func (m *mockMedia) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://media.test/" + key, nil
}

func (m *mockMedia) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), m.types[key], nil
}

func (m *mockMedia) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

// Helpers

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T) *reasoning.Engine {
	t.Helper()
	p, err := policy.Builtin()
	require.NoError(t, err)
	engine, err := reasoning.NewEngine(p, reasoning.EngineConfig{Logger: quietLogger()})
	require.NoError(t, err)
	return engine
}

func testLedger(t *testing.T) *db.SQLiteLedger {
	t.Helper()
	store, err := db.NewSQLiteLedger(context.Background(), ":memory:", quietLogger())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

type fixture struct {
	router      http.Handler
	ledger      *db.SQLiteLedger
	extractor   *mockExtractor
	transcriber *mockTranscriber
	media       *mockMedia
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:      testLedger(t),
		extractor:   &mockExtractor{},
		transcriber: &mockTranscriber{},
		media:       newMockMedia(),
	}
	h := NewHandler(Options{
		Engine:      testEngine(t),
		Extractor:   f.extractor,
		Transcriber: f.transcriber,
		Media:       f.media,
		Ledger:      f.ledger,
		Logger:      quietLogger(),
	})
	f.router = h.SetupRoutes()
	return f
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path string, body any) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeUpload(t *testing.T, rec *httptest.ResponseRecorder) models.UploadResponse {
	t.Helper()
	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func uploadReceipt(t *testing.T, f *fixture) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "file", "receipt.jpg", "image/jpeg", []byte("fake-jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/receipts/upload", body)
	req.Header.Set("Content-Type", ct)
	return do(t, f.router, req)
}

func cafeExtraction() *models.ReceiptExtraction {
	amount := 250.0
	return &models.ReceiptExtraction{
		RawText:    "Cafe Coffee Day\nCappuccino\nTotal: 250.00",
		Amount:     &amount,
		VendorName: "Cafe Coffee Day",
		Confidence: 0.9,
	}
}

// Receipts

func TestUploadReceipt(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = cafeExtraction()

	rec := uploadReceipt(t, f)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeUpload(t, rec)
	require.True(t, resp.Success)
	require.NotNil(t, resp.LedgerEntry)
	assert.True(t, resp.Persisted)
	assert.Empty(t, resp.Warnings)

	entry := resp.LedgerEntry
	assert.Equal(t, "food", entry.Category)
	assert.Equal(t, 250.0, entry.Amount)
	assert.Equal(t, 5.0, entry.TaxRate)
	assert.Equal(t, 12.5, entry.TaxAmount)
	assert.Equal(t, 0.87, entry.Confidence)
	assert.False(t, resp.NeedsConfirmation)
	assert.Equal(t, "Cafe Coffee Day", entry.VendorName)
	assert.Equal(t, models.SourceReceipt, entry.Source)
	assert.True(t, strings.HasPrefix(entry.MediaKey, "receipts/"))
	assert.Equal(t, "https://media.test/"+entry.MediaKey, entry.MediaURL)

	saved, err := f.ledger.Get(context.Background(), "", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.TaxAmount, saved.TaxAmount)
	assert.Equal(t, entry.MediaKey, saved.MediaKey)
}

func TestUploadReceipt_Rejections(t *testing.T) {
	t.Run("unsupported type", func(t *testing.T) {
		f := newFixture(t)
		body, ct := multipartBody(t, "file", "receipt.gif", "image/gif", []byte("GIF89a"))
		req := httptest.NewRequest(http.MethodPost, "/api/receipts/upload", body)
		req.Header.Set("Content-Type", ct)

		rec := do(t, f.router, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, f.extractor.calls)
	})

	t.Run("no file", func(t *testing.T) {
		f := newFixture(t)
		body, ct := multipartBody(t, "other", "x.jpg", "image/jpeg", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/receipts/upload", body)
		req.Header.Set("Content-Type", ct)

		rec := do(t, f.router, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		f := newFixture(t)
		rec := do(t, f.router, jsonRequest(http.MethodPost, "/api/receipts/upload", map[string]string{"a": "b"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadReceipt_ExtractionUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		result *models.ReceiptExtraction
		err    error
	}{
		{"provider error", nil, errors.New("vision down")},
		{"empty text", &models.ReceiptExtraction{RawText: "  ", Confidence: 0.5}, nil},
		{"zero confidence", &models.ReceiptExtraction{RawText: "Total 100", Confidence: 0}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.extractor.result, f.extractor.err = tt.result, tt.err

			rec := uploadReceipt(t, f)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			resp := decodeUpload(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, "could not extract text, try again", resp.Error)
			assert.Nil(t, resp.LedgerEntry)
			assert.Empty(t, f.media.objects, "nothing stored for a rejected receipt")

			entries, err := f.ledger.ListRecent(context.Background(), "", 10)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestUploadReceipt_NonFatalFailures(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = cafeExtraction()
	f.extractor.result.TaxID = "NOT-A-GSTIN"
	f.media.uploadErr = errors.New("minio down")

	rec := uploadReceipt(t, f)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeUpload(t, rec)
	assert.True(t, resp.Success)
	assert.True(t, resp.Persisted)
	assert.Empty(t, resp.LedgerEntry.MediaKey)
	assert.Contains(t, resp.Warnings, "source file could not be stored")
	assert.Len(t, resp.Warnings, 2)
}

func TestUploadReceipt_ClassifyOnly(t *testing.T) {
	extractor := &mockExtractor{result: cafeExtraction()}
	h := NewHandler(Options{Engine: testEngine(t), Extractor: extractor, Logger: quietLogger()})
	router := h.SetupRoutes()

	body, ct := multipartBody(t, "image", "receipt.png", "image/png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, "/api/receipts/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := do(t, router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeUpload(t, rec)
	assert.True(t, resp.Success)
	assert.False(t, resp.Persisted)
	assert.Equal(t, []string{"entry not saved: ledger store not configured"}, resp.Warnings)
	assert.Equal(t, "food", resp.LedgerEntry.Category)

	rec = do(t, router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// Voice

func TestUploadVoice(t *testing.T) {
	f := newFixture(t)
	f.transcriber.result = &models.VoiceTranscription{RawText: "paid 300 rupees for taxi", Language: "en", Confidence: 0.9}

	body, ct := multipartBody(t, "audio", "note.webm", "audio/webm", bytes.Repeat([]byte{1}, 2048))
	req := httptest.NewRequest(http.MethodPost, "/api/voice/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := do(t, f.router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeUpload(t, rec)
	entry := resp.LedgerEntry
	require.NotNil(t, entry)
	assert.Equal(t, "transport", entry.Category)
	assert.Equal(t, 300.0, entry.Amount)
	assert.Equal(t, 15.0, entry.TaxAmount)
	assert.Equal(t, 0.81, entry.Confidence)
	assert.True(t, resp.NeedsConfirmation)
	assert.NotEmpty(t, resp.ConfirmationReason)
	assert.Equal(t, models.SourceVoice, entry.Source)
	assert.True(t, strings.HasPrefix(entry.MediaKey, "audio/"))
	assert.Equal(t, "voice.webm", f.transcriber.filename)
	assert.True(t, resp.Persisted)
}

func TestUploadVoice_TranscriptionCapsConfidence(t *testing.T) {
	f := newFixture(t)
	// Classification alone scores 0.84; the transcription is less sure
	f.transcriber.result = &models.VoiceTranscription{RawText: "lunch at cafe restaurant rs 450", Confidence: 0.6}

	body, ct := multipartBody(t, "audio", "note.ogg", "audio/ogg", bytes.Repeat([]byte{1}, 1500))
	req := httptest.NewRequest(http.MethodPost, "/api/voice/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := do(t, f.router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Equal(t, 0.6, resp.LedgerEntry.Confidence)
	assert.True(t, resp.NeedsConfirmation)
}

func TestUploadVoice_Rejections(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		f := newFixture(t)
		body, ct := multipartBody(t, "audio", "note.webm", "audio/webm", make([]byte, 999))
		req := httptest.NewRequest(http.MethodPost, "/api/voice/upload", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusBadRequest, do(t, f.router, req).Code)
	})

	t.Run("empty transcription", func(t *testing.T) {
		f := newFixture(t)
		f.transcriber.result = &models.VoiceTranscription{RawText: ""}
		body, ct := multipartBody(t, "audio", "note.webm", "audio/webm", make([]byte, 1000))
		req := httptest.NewRequest(http.MethodPost, "/api/voice/upload", body)
		req.Header.Set("Content-Type", ct)

		rec := do(t, f.router, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "could not transcribe audio, try again", decodeUpload(t, rec).Error)
		assert.Empty(t, f.media.objects)
	})

	t.Run("transcriber error", func(t *testing.T) {
		f := newFixture(t)
		f.transcriber.err = errors.New("whisper down")
		body, ct := multipartBody(t, "file", "note.webm", "audio/webm", make([]byte, 1000))
		req := httptest.NewRequest(http.MethodPost, "/api/voice/upload", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusUnprocessableEntity, do(t, f.router, req).Code)
		assert.Empty(t, f.media.objects)
	})
}

func TestUploadVoiceText(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, jsonRequest(http.MethodPost, "/api/voice/upload-text", models.TextInput{Text: "lunch at cafe restaurant rs 450"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeUpload(t, rec)
	entry := resp.LedgerEntry
	assert.Equal(t, "food", entry.Category)
	assert.Equal(t, 450.0, entry.Amount)
	assert.Equal(t, 22.5, entry.TaxAmount)
	// min(0.85 browser speech, 0.91 classification)
	assert.Equal(t, 0.85, entry.Confidence)
	assert.False(t, resp.NeedsConfirmation)
	assert.Empty(t, entry.MediaKey)
	assert.True(t, resp.Persisted)

	rec = do(t, f.router, jsonRequest(http.MethodPost, "/api/voice/upload-text", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.router, jsonRequest(http.MethodPost, "/api/voice/upload-text", models.TextInput{Text: "   "}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// Confirmation

func TestConfirmEntry(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = cafeExtraction()
	entry := decodeUpload(t, uploadReceipt(t, f)).LedgerEntry
	require.NotNil(t, entry)

	amount := 1200.5
	category := "Office Supplies"
	rec := do(t, f.router, jsonRequest(http.MethodPost, "/api/receipts/confirm", models.ConfirmationRequest{
		TransactionID:     entry.ID,
		ConfirmedAmount:   &amount,
		ConfirmedCategory: &category,
		UserNotes:         "printer paper",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success     bool                `json:"success"`
		LedgerEntry *models.LedgerEntry `json:"ledger_entry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "office_supplies", resp.LedgerEntry.Category)
	assert.Equal(t, 18.0, resp.LedgerEntry.TaxRate)
	assert.Equal(t, 216.09, resp.LedgerEntry.TaxAmount)
	assert.Equal(t, 1.0, resp.LedgerEntry.Confidence)
	assert.True(t, strings.HasSuffix(resp.LedgerEntry.Explanation, services.ConfirmedSuffix))

	saved, err := f.ledger.Get(context.Background(), "", entry.ID)
	require.NoError(t, err)
	assert.True(t, saved.Confirmed)
	assert.False(t, saved.NeedsConfirmation)
	assert.Equal(t, 1200.5, saved.Amount)
}

func TestConfirmEntry_Errors(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = cafeExtraction()
	entry := decodeUpload(t, uploadReceipt(t, f)).LedgerEntry

	unknown := "yachts"
	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing id", models.ConfirmationRequest{}, http.StatusBadRequest},
		{"malformed id", models.ConfirmationRequest{TransactionID: "abc"}, http.StatusBadRequest},
		{"unknown entry", models.ConfirmationRequest{TransactionID: uuid.NewString()}, http.StatusNotFound},
		{"unknown category", models.ConfirmationRequest{TransactionID: entry.ID, ConfirmedCategory: &unknown}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.router, jsonRequest(http.MethodPost, "/api/voice/confirm", tt.body))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// Ledger

func seedEntry(t *testing.T, ledger *db.SQLiteLedger, date string, amount float64, category string, rate float64, source string) *models.LedgerEntry {
	t.Helper()
	entry := &models.LedgerEntry{
		Date:        date,
		Amount:      amount,
		Category:    category,
		TaxRate:     rate,
		TaxAmount:   reasoning.TaxAmount(amount, rate),
		Confidence:  0.9,
		Explanation: "seeded",
		Source:      source,
	}
	require.NoError(t, ledger.Save(context.Background(), entry))
	return entry
}

func TestLedgerEntries(t *testing.T) {
	f := newFixture(t)
	seedEntry(t, f.ledger, "2026-03-01", 100, "food", 5, models.SourceVoice)
	seedEntry(t, f.ledger, "2026-03-01", 200, "transport", 5, models.SourceReceipt)
	target := seedEntry(t, f.ledger, "2026-03-02", 300, "food", 5, models.SourceVoice)

	type listResponse struct {
		Entries []models.LedgerEntry `json:"entries"`
		Count   int                  `json:"count"`
	}

	rec := do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries?date=2026-03-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var byDate listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byDate))
	assert.Equal(t, 2, byDate.Count)

	rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var recent listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	assert.Equal(t, 1, recent.Count)

	for _, bad := range []string{"?limit=0", "?limit=101", "?limit=x", "?date=03-01-2026"} {
		rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries"+bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries/"+target.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), target.ID)

	rec = do(t, f.router, httptest.NewRequest(http.MethodDelete, "/api/ledger/entries/"+target.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries/"+target.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.router, httptest.NewRequest(http.MethodDelete, "/api/ledger/entries/"+target.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerEntryMedia(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = cafeExtraction()
	entry := decodeUpload(t, uploadReceipt(t, f)).LedgerEntry

	rec := do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries/"+entry.ID+"/media", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "fake-jpeg-bytes", rec.Body.String())

	rec = do(t, f.router, httptest.NewRequest(http.MethodDelete, "/api/ledger/entries/"+entry.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{entry.MediaKey}, f.media.deleted)

	noMedia := seedEntry(t, f.ledger, "2026-03-01", 10, "food", 5, models.SourceVoice)
	rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries/"+noMedia.ID+"/media", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerSummaries(t *testing.T) {
	f := newFixture(t)
	seedEntry(t, f.ledger, "2026-03-01", 100, "food", 5, models.SourceVoice)
	seedEntry(t, f.ledger, "2026-03-01", 250.3, "office_supplies", 18, models.SourceReceipt)
	seedEntry(t, f.ledger, "2026-03-05", 50, "food", 5, models.SourceReceipt)

	rec := do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/summary?date=2026-03-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var daily models.DailySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &daily))
	assert.Equal(t, "2026-03-01", daily.Date)
	assert.Equal(t, 2, daily.EntryCount)
	assert.Equal(t, 350.3, daily.TotalAmount)
	assert.Equal(t, 50.05, daily.TotalTax)
	assert.Equal(t, 250.3, daily.ByCategory["office_supplies"])

	rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/summary/range?start_date=2026-03-01&end_date=2026-03-31", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rng models.RangeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rng))
	assert.Equal(t, 3, rng.EntryCount)
	assert.Equal(t, 150.0, rng.ByCategory["food"])
	assert.Equal(t, 300.3, rng.BySource[models.SourceReceipt])
	assert.Equal(t, 100.0, rng.BySource[models.SourceVoice])

	for _, q := range []string{"", "?start_date=2026-03-01", "?start_date=2026-03-31&end_date=2026-03-01"} {
		rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/summary/range"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/summary?date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/categories", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		PolicyVersion string         `json:"policy_version"`
		Categories    []CategoryInfo `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.PolicyVersion)
	require.NotEmpty(t, resp.Categories)
	assert.Equal(t, CategoryInfo{Key: "food", DisplayName: "Food & Beverages", TaxRate: 5}, resp.Categories[0])
	assert.Equal(t, "miscellaneous", resp.Categories[len(resp.Categories)-1].Key)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	seedEntry(t, f.ledger, "2026-03-01", 100, "food", 5, models.SourceVoice)

	rec := do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/ledger/export?start_date=2026-03-01&end_date=2026-03-31", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ledger_2026-03-01_2026-03-31.xlsx")
	// XLSX is a zip archive
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestAdvisorInsights(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/advisor/insights", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var empty models.AdvisorInsight
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Equal(t, "None", empty.TopCategory)

	seedEntry(t, f.ledger, "2026-03-01", 3000, "food", 5, models.SourceVoice)
	seedEntry(t, f.ledger, "2026-03-02", 500, "transport", 5, models.SourceReceipt)

	rec = do(t, f.router, httptest.NewRequest(http.MethodGet, "/api/advisor/insights", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var insight models.AdvisorInsight
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &insight))
	assert.Equal(t, "Food & Beverages", insight.TopCategory)
	assert.Equal(t, 3500.0, insight.TotalExpenses)
	assert.Equal(t, 2, insight.EntryCount)
	assert.LessOrEqual(t, len(insight.Tips), 5)
	assert.Equal(t, 3000.0, insight.CategoryBreakdown["Food & Beverages"])
}

// Auth

func TestAuthRequired(t *testing.T) {
	ledger := testLedger(t)
	issuer, err := auth.NewTokenIssuer("test-secret", 0)
	require.NoError(t, err)

	h := NewHandler(Options{
		Engine:       testEngine(t),
		Ledger:       ledger,
		Auth:         auth.NewService(ledger, issuer, quietLogger()),
		Issuer:       issuer,
		AuthRequired: true,
		Logger:       quietLogger(),
	})
	router := h.SetupRoutes()

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/api/ledger/entries", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, jsonRequest(http.MethodPost, "/api/auth/register", auth.RegisterRequest{
		Email: "owner@example.com", Password: "correct-horse", Name: "Owner",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var token auth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))

	// Entries are scoped to the caller
	rec = do(t, router, withToken(jsonRequest(http.MethodPost, "/api/voice/upload-text", models.TextInput{Text: "taxi rs 120"}), token.Token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decodeUpload(t, rec).LedgerEntry
	assert.Equal(t, token.User.ID, entry.UserID)

	rec = do(t, router, withToken(httptest.NewRequest(http.MethodGet, "/api/ledger/entries/"+entry.ID, nil), token.Token))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = ledger.Get(context.Background(), "", entry.ID)
	assert.Error(t, err)

	rec = do(t, router, withToken(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), token.Token))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountsUnavailableWithoutLedger(t *testing.T) {
	h := NewHandler(Options{Engine: testEngine(t), Logger: quietLogger()})
	rec := do(t, h.SetupRoutes(), jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func withToken(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// Health

type downLedger struct {
	*db.SQLiteLedger
}

func (downLedger) Ping(context.Context) error { return errors.New("connection refused") }

type toolStub bool

func (s toolStub) Available() bool { return bool(s) }

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.PolicyVersion)
	assert.Equal(t, "keyword-only", health.Reasoning["mode"])
	assert.True(t, health.Ledger.Available)
	assert.True(t, health.Storage.Available)
	assert.False(t, health.ImageMagick.Available)

	h := NewHandler(Options{
		Engine:       testEngine(t),
		Ledger:       downLedger{testLedger(t)},
		Preprocessor: toolStub(true),
		Logger:       quietLogger(),
	})
	rec = do(t, h.SetupRoutes(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.True(t, health.ImageMagick.Available)
	assert.False(t, health.Storage.Available)
}
