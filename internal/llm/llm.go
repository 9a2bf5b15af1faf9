package llm

import (
	"github.com/sashabaranov/go-openai"

	"github.com/organix/organix-go/internal/config"
)

// NewClient creates a client for the configured OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}
