package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/finguru/finguru-service/api"
	"github.com/finguru/finguru-service/internal/ai"
	"github.com/finguru/finguru-service/internal/auth"
	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/db"
	"github.com/finguru/finguru-service/internal/models"
	"github.com/finguru/finguru-service/internal/ocr"
	"github.com/finguru/finguru-service/internal/policy"
	"github.com/finguru/finguru-service/internal/reasoning"
	"github.com/finguru/finguru-service/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the service configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server.exit", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := common.SetupLogger(config.Logging.Level, config.Logging.Format)
	if err != nil {
		return err
	}

	// A malformed policy must stop the process before serving
	p, err := loadPolicy(config.Policy.Path)
	if err != nil {
		return err
	}
	logger.Info("policy.loaded", "version", p.Version, "categories", len(p.Categories), "path", config.Policy.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, reasoningProvider, err := buildEngine(config, p, logger)
	if err != nil {
		return err
	}

	opts := api.Options{
		Engine:            engine,
		ReasoningProvider: reasoningProvider,
		AuthRequired:      config.Auth.Required,
		MaxUploadBytes:    int64(config.Vision.MaxUploadMB) * 1024 * 1024,
		Logger:            logger,
	}

	// Vision extraction
	visionName := config.ProviderFor(config.Vision.Provider)
	if provider, err := ai.NewProvider(config.AI, visionName, config.Vision.Model); err != nil {
		logger.Warn("vision.disabled", "provider", visionName, "error", err)
	} else {
		var pre ai.ImagePreprocessor
		if config.Vision.Preprocess {
			preprocessor := ocr.NewPreprocessor(logger)
			opts.Preprocessor = preprocessor
			pre = preprocessor
		}
		opts.Extractor = ai.NewVisionExtractor(provider, pre, logger)
		opts.VisionProvider = provider.Name()
	}

	// Speech to text
	if config.Transcription.Enabled {
		if config.AI.OpenAI.APIKey == "" {
			logger.Warn("transcription.disabled", "reason", "openai api key is not set")
		} else {
			opts.Transcriber = ai.NewWhisperTranscriber(
				config.AI.OpenAI.APIKey,
				config.AI.OpenAI.BaseURL,
				config.Transcription.Model,
				config.Transcription.Language,
			)
		}
	}

	// Ledger store
	store, err := db.Open(ctx, config.Ledger, logger)
	switch {
	case errors.Is(err, common.ErrNoLedger):
		logger.Warn("ledger.disabled", "mode", "classify-only")
	case err != nil:
		return fmt.Errorf("failed to open ledger: %w", err)
	default:
		defer store.Close()
		opts.Ledger = store
	}

	// Object storage is optional
	if config.Storage.Enabled {
		media, err := storage.NewObjectStore(ctx, config.Storage, logger)
		if err != nil {
			logger.Warn("storage.disabled", "error", err)
		} else {
			opts.Media = media
		}
	}

	// Accounts
	if config.Auth.JWTSecret != "" {
		issuer, err := auth.NewTokenIssuer(config.Auth.JWTSecret, config.Auth.TokenTTL)
		if err != nil {
			return err
		}
		opts.Issuer = issuer
		if store != nil {
			opts.Auth = auth.NewService(store, issuer, logger)
		}
	}

	handler := api.NewHandler(opts)
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads run vision and reasoning calls inline
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	logger.Info("server.starting",
		"addr", addr,
		"version", api.Version,
		"reasoning", reasoningProvider,
		"vision", opts.VisionProvider,
		"transcription", opts.Transcriber != nil,
		"ledger", config.Ledger.Driver,
		"storage", opts.Media != nil,
		"auth_required", config.Auth.Required,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server.stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildEngine creates the reasoning engine. Without a usable provider the
// engine runs keyword-only.
func buildEngine(config *models.Config, p *policy.Policy, logger *slog.Logger) (*reasoning.Engine, string, error) {
	engineConfig := reasoning.EngineConfig{
		Timeout: config.Reasoning.Timeout,
		Logger:  logger,
	}

	name := "keyword-only"
	if config.Reasoning.Enabled {
		providerName := config.ProviderFor(config.Reasoning.Provider)
		provider, err := ai.NewProvider(config.AI, providerName, config.Reasoning.Model)
		if err != nil {
			logger.Warn("reasoning.primary.disabled", "provider", providerName, "error", err)
		} else {
			engineConfig.Primary = reasoning.NewPrimaryReasoner(provider, config.Reasoning.MaxTokens, logger)
			name = provider.Name()
		}
	}

	engine, err := reasoning.NewEngine(p, engineConfig)
	if err != nil {
		return nil, "", err
	}
	return engine, name, nil
}

func loadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return policy.Builtin()
	}
	return policy.Load(path)
}

func loadConfig(path string) (*models.Config, error) {
	var config models.Config

	// Read config file; a missing file means defaults plus environment
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("config.missing", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.ApplyEnv()
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
