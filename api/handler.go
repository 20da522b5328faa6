package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/finguru/finguru-service/internal/auth"
	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/db"
	"github.com/finguru/finguru-service/internal/export"
	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/policy"
	"github.com/finguru/finguru-service/internal/reasoning"
	"github.com/finguru/finguru-service/internal/services"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "1.0.0"
)

// Classifier turns extracted text into a ledger classification
type Classifier interface {
	Classify(ctx context.Context, req reasoning.Request) (reasoning.Result, error)
	Policy() *policy.Policy
	HasPrimary() bool
}

// ReceiptExtractor reads text and fields from a receipt image
type ReceiptExtractor interface {
	Extract(ctx context.Context, image []byte, mediaType string) (*models.ReceiptExtraction, error)
}

// Transcriber turns a voice note into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*models.VoiceTranscription, error)
}

// MediaStore keeps the source image or audio of an entry
type MediaStore interface {
	Upload(ctx context.Context, kind string, data []byte, contentType string) (string, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}

// Pinger reports backend liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// ToolChecker reports whether an external tool is installed
type ToolChecker interface {
	Available() bool
}

// Options wires the handler's collaborators. Only Engine is required; a nil
// collaborator disables the routes that need it.
type Options struct {
	Engine       Classifier
	Extractor    ReceiptExtractor
	Transcriber  Transcriber
	Media        MediaStore
	Ledger       db.LedgerStore
	Auth         *auth.Service
	Issuer       *auth.TokenIssuer
	AuthRequired bool
	Preprocessor ToolChecker

	// Provider names shown on /health
	ReasoningProvider string
	VisionProvider    string

	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handler handles HTTP requests for expense classification and the ledger
type Handler struct {
	opts      Options
	validator *services.EntryValidator
	exporter  *export.Service
	validate  *validator.Validate
	log       *slog.Logger
	startTime time.Time
}

// NewHandler creates a new API handler
func NewHandler(opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	h := &Handler{
		opts:      opts,
		validator: services.NewEntryValidator(),
		validate:  validator.New(),
		log:       common.OrDefault(opts.Logger),
		startTime: time.Now(),
	}
	if opts.Ledger != nil {
		h.exporter = export.NewService(opts.Ledger, h.log)
	}
	return h
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.requestLogger)

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(h.opts.Issuer, h.opts.AuthRequired, "/api/auth/register", "/api/auth/login"))

	// Receipts
	api.HandleFunc("/receipts/upload", h.UploadReceipt).Methods("POST")
	api.HandleFunc("/receipts/confirm", h.ConfirmEntry).Methods("POST")

	// Voice
	api.HandleFunc("/voice/upload", h.UploadVoice).Methods("POST")
	api.HandleFunc("/voice/upload-text", h.UploadVoiceText).Methods("POST")
	api.HandleFunc("/voice/confirm", h.ConfirmEntry).Methods("POST")

	// Ledger
	api.HandleFunc("/ledger/entries", h.ListEntries).Methods("GET")
	api.HandleFunc("/ledger/entries/{id}", h.GetEntry).Methods("GET")
	api.HandleFunc("/ledger/entries/{id}", h.DeleteEntry).Methods("DELETE")
	api.HandleFunc("/ledger/entries/{id}/media", h.GetEntryMedia).Methods("GET")
	api.HandleFunc("/ledger/summary", h.DailySummary).Methods("GET")
	api.HandleFunc("/ledger/summary/range", h.RangeSummary).Methods("GET")
	api.HandleFunc("/ledger/categories", h.Categories).Methods("GET")
	api.HandleFunc("/ledger/export", h.Export).Methods("GET")

	// Advisor
	api.HandleFunc("/advisor/insights", h.AdvisorInsights).Methods("GET")

	// Accounts
	if h.opts.Auth != nil {
		api.HandleFunc("/auth/register", h.opts.Auth.RegisterHandler).Methods("POST")
		api.HandleFunc("/auth/login", h.opts.Auth.LoginHandler).Methods("POST")
		api.HandleFunc("/auth/me", h.opts.Auth.MeHandler).Methods("GET")
	} else {
		api.HandleFunc("/auth/{action}", h.accountsUnavailable)
	}

	return router
}

type requestIDKey struct{}

// requestLogger tags each request with an id and logs its outcome
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))

		h.log.Info("http.request",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Timestamp     string            `json:"timestamp"`
	Uptime        string            `json:"uptime"`
	Memory        MemoryStats       `json:"memory"`
	PolicyVersion string            `json:"policy_version"`
	Reasoning     map[string]string `json:"reasoning"`
	ImageMagick   ServiceStatus     `json:"image_magick"`
	Ledger        ServiceStatus     `json:"ledger"`
	Storage       ServiceStatus     `json:"storage"`
	Transcription ServiceStatus     `json:"transcription"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	p := h.opts.Engine.Policy()
	reasoningPath := "keyword-only"
	if h.opts.Engine.HasPrimary() {
		reasoningPath = "primary+fallback"
	}

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		PolicyVersion: p.Version,
		Reasoning: map[string]string{
			"mode":     reasoningPath,
			"provider": h.opts.ReasoningProvider,
			"vision":   h.opts.VisionProvider,
		},
		ImageMagick:   h.checkImageMagick(),
		Ledger:        h.checkLedger(r.Context()),
		Storage:       available(h.opts.Media != nil, "storage not configured"),
		Transcription: available(h.opts.Transcriber != nil, "transcription not configured"),
	}

	// A configured ledger that stopped answering is the only degraded state
	status := http.StatusOK
	if h.opts.Ledger != nil && !response.Ledger.Available {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

func (h *Handler) checkImageMagick() ServiceStatus {
	if h.opts.Preprocessor == nil {
		return ServiceStatus{Available: false, Error: "preprocessing disabled"}
	}
	return available(h.opts.Preprocessor.Available(), "imagemagick not found or not executable")
}

// checkLedger pings the ledger backend
func (h *Handler) checkLedger(ctx context.Context) ServiceStatus {
	if h.opts.Ledger == nil {
		return ServiceStatus{Available: false, Error: "ledger not configured (classify-only mode)"}
	}
	pinger, ok := h.opts.Ledger.(Pinger)
	if !ok {
		return ServiceStatus{Available: true}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true}
}

func available(ok bool, reason string) ServiceStatus {
	if ok {
		return ServiceStatus{Available: true}
	}
	return ServiceStatus{Available: false, Error: reason}
}

func (h *Handler) accountsUnavailable(w http.ResponseWriter, r *http.Request) {
	h.sendError(w, http.StatusServiceUnavailable, "accounts require a ledger store")
}

// decodeJSON reads a bounded JSON body into dst and validates it
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("http.encode.failed", "error", err)
	}
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
