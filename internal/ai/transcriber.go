package ai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/finguru/finguru-service/internal/models"
)

// whisperConfidence is reported for any non-empty transcript; the API returns none.
const whisperConfidence = 0.9

// transcriptionClient is the part of the OpenAI client the transcriber uses
type transcriptionClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperTranscriber converts voice notes to text with the Whisper API
type WhisperTranscriber struct {
	client   transcriptionClient
	model    string
	language string
}

// NewWhisperTranscriber creates a transcriber. language is an ISO-639-1 hint and may be empty.
func NewWhisperTranscriber(apiKey, baseURL, model, language string) *WhisperTranscriber {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		language: language,
	}
}

// Transcribe writes the audio to a scoped temp file (the API needs a file
// name for format detection), sends it and removes the file on every path.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (*models.VoiceTranscription, error) {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".webm"
	}

	tmp, err := os.CreateTemp("", "finguru-voice-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp audio file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp audio file: %w", err)
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: path,
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	result := &models.VoiceTranscription{
		RawText:  text,
		Language: t.language,
	}
	if resp.Language != "" {
		result.Language = resp.Language
	}
	if text != "" {
		result.Confidence = whisperConfidence
	}
	return result, nil
}
