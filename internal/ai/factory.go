package ai

import (
	"fmt"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

// NewProvider creates the provider named providerName. An empty modelName
// uses the model configured for that provider.
func NewProvider(cfg models.AIConfig, providerName, modelName string) (Provider, error) {
	switch providerName {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key is not set", common.ErrInvalidConfig)
		}
		model := modelName
		if model == "" {
			model = cfg.OpenAI.Model
		}
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, model), nil

	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini api key is not set", common.ErrInvalidConfig)
		}
		model := modelName
		if model == "" {
			model = cfg.Gemini.Model
		}
		return NewGeminiProvider(cfg.Gemini.APIKey, model), nil

	case "ollama":
		model := modelName
		if model == "" {
			model = cfg.Ollama.Model
		}
		return NewOllamaProvider(cfg.Ollama.BaseURL, model), nil

	default:
		return nil, fmt.Errorf("%w: unsupported AI provider: %s", common.ErrInvalidConfig, providerName)
	}
}
