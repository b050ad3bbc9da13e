package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiClient calls the Generative Language generateContent REST endpoint.
type GeminiClient struct {
	model     string
	transport jsonTransport
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	baseURL := cfg.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GeminiClient{
		model:     model,
		transport: newJSONTransport("gemini", baseURL, cfg.Timeout, map[string]string{"x-goog-api-key": apiKey}),
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	payload := map[string]any{
		"contents": []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		"generationConfig": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if strings.TrimSpace(req.System) != "" {
		payload["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	var parsed struct {
		Candidates []struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	path := "/v1beta/models/" + url.PathEscape(c.model) + ":generateContent"
	if err := c.transport.post(ctx, path, payload, &parsed); err != nil {
		return Response{}, err
	}
	if len(parsed.Candidates) == 0 {
		return Response{}, ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:     text.String(),
		Provider: "gemini",
		Model:    c.model,
		Usage: Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}
