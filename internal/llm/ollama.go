package llm

import (
	"context"
	"strings"
	"time"
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaClient uses a local Ollama server's non-streaming /api/chat endpoint.
type OllamaClient struct {
	model     string
	transport jsonTransport
}

func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaClient{
		model:     model,
		transport: newJSONTransport("ollama", baseURL, cfg.Timeout, nil),
	}
}

func (c *OllamaClient) Complete(ctx context.Context, req Request) (Response, error) {
	var parsed struct {
		Model   string `json:"model"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Done            bool `json:"done"`
		PromptEvalCount int  `json:"prompt_eval_count"`
		EvalCount       int  `json:"eval_count"`
	}
	payload := map[string]any{
		"model":    c.model,
		"messages": chatMessages(req),
		"stream":   false,
		"options":  map[string]any{"temperature": req.Temperature},
	}
	if err := c.transport.post(ctx, "/api/chat", payload, &parsed); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(parsed.Message.Content) == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:     parsed.Message.Content,
		Provider: "ollama",
		Model:    c.model,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
		},
	}, nil
}
