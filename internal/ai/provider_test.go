package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

func TestOllamaProvider_Complete(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": ` {"category":"food"} `})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL+"/", "llama3.1")
	out, err := p.Complete(context.Background(), CompletionRequest{
		System:     "sys",
		Prompt:     "prompt",
		Image:      []byte("img"),
		JSONOutput: true,
		MaxTokens:  100,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"category":"food"}`, out)

	assert.Equal(t, "llama3.1", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Equal(t, []string{"aW1n"}, got.Images)
	assert.EqualValues(t, 0, got.Options["temperature"])
	assert.EqualValues(t, 100, got.Options["num_predict"])
}

func TestOllamaProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusInternalServerError, "model not loaded"},
		{"error field", http.StatusOK, `{"error":"out of memory"}`},
		{"empty response", http.StatusOK, `{"response":"  "}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewOllamaProvider(server.URL, "m").Complete(context.Background(), CompletionRequest{Prompt: "p"})
			assert.Error(t, err)
		})
	}
}

func TestOllamaProvider_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOllamaProvider(server.URL, "m").Complete(ctx, CompletionRequest{Prompt: "p"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProvider(t *testing.T) {
	cfg := models.AIConfig{}
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.Model = "gpt-4o-mini"
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.Model = "llama3.1"

	p, err := NewProvider(cfg, "openai", "")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-4o-mini", p.(*OpenAIProvider).model)

	p, err = NewProvider(cfg, "ollama", "llava")
	require.NoError(t, err)
	assert.Equal(t, "llava", p.(*OllamaProvider).model)

	_, err = NewProvider(cfg, "gemini", "")
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = NewProvider(cfg, "anthropic", "")
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,aW1n", dataURL("image/png", []byte("img")))
	assert.Equal(t, "data:image/jpeg;base64,aW1n", dataURL("", []byte("img")))
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "jpeg", imageFormat("image/jpg"))
	assert.Equal(t, "jpeg", imageFormat(""))
	assert.Equal(t, "png", imageFormat("image/PNG"))
	assert.Equal(t, "webp", imageFormat("image/webp"))
}

type mockTranscriptionClient struct {
	text      string
	request   openai.AudioRequest
	fileSeen  bool
	fileBytes []byte
}

func (m *mockTranscriptionClient) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	m.request = req
	data, err := os.ReadFile(req.FilePath)
	m.fileSeen = err == nil
	m.fileBytes = data
	return openai.AudioResponse{Text: m.text}, nil
}

func TestWhisperTranscriber_Transcribe(t *testing.T) {
	client := &mockTranscriptionClient{text: "  spent 250 on uber  "}
	tr := &WhisperTranscriber{client: client, model: openai.Whisper1, language: "en"}

	got, err := tr.Transcribe(context.Background(), []byte("audio-bytes"), "note.m4a")
	require.NoError(t, err)
	assert.Equal(t, "spent 250 on uber", got.RawText)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, 0.9, got.Confidence)

	assert.True(t, client.fileSeen)
	assert.Equal(t, []byte("audio-bytes"), client.fileBytes)
	assert.Contains(t, client.request.FilePath, ".m4a")
	_, statErr := os.Stat(client.request.FilePath)
	assert.True(t, os.IsNotExist(statErr), "temp audio file must be removed")
}

func TestWhisperTranscriber_EmptyText(t *testing.T) {
	client := &mockTranscriptionClient{text: "   "}
	tr := &WhisperTranscriber{client: client, model: openai.Whisper1}

	got, err := tr.Transcribe(context.Background(), []byte("audio"), "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Confidence)
	assert.False(t, got.Usable())
	assert.Contains(t, client.request.FilePath, ".webm")
}
