package llm

import (
	"fmt"

	"github.com/promptgate/promptgate/internal/config"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// NewClientFromConfig creates an LLM client from gateway configuration.
func NewClientFromConfig(cfg *config.LLMConfig) (Client, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "llm config is required", nil)
	}

	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, apperrors.New(apperrors.ErrCodeConfig, "anthropic api key is required", nil)
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model), nil

	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, apperrors.New(apperrors.ErrCodeConfig, "openai api key is required", nil)
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.BaseURL, cfg.Model), nil

	default:
		return nil, apperrors.New(apperrors.ErrCodeConfig,
			fmt.Sprintf("unsupported llm provider: %s", cfg.Provider), nil)
	}
}
