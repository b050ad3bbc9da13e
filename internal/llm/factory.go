package llm

import (
	"context"
	"fmt"

	"github.com/dbchat/dbchat/internal/config"
)

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini", "":
		client, err := NewGeminiClient(GeminiConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return client, nil
	case "openai":
		client, err := NewOpenAIClient(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	case "azure":
		client, err := NewAzureClient(AzureConfig{Endpoint: cfg.BaseURL, APIKey: cfg.APIKey, Deployment: cfg.Model})
		if err != nil {
			return nil, fmt.Errorf("create azure client: %w", err)
		}
		return client, nil
	case "bedrock":
		client, err := NewBedrockClient(ctx, BedrockConfig{Region: cfg.AWSRegion, ModelID: cfg.Model})
		if err != nil {
			return nil, fmt.Errorf("create bedrock client: %w", err)
		}
		return client, nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
