package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
}

type azureChatAPI interface {
	GetChatCompletions(ctx context.Context, body azopenai.ChatCompletionsOptions, options *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error)
}

// AzureClient sends chat completions to an Azure OpenAI deployment.
type AzureClient struct {
	deployment string
	api        azureChatAPI
}

func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("azure endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("azure api key is required")
	}
	client, err := azopenai.NewClientWithKeyCredential(strings.TrimSpace(cfg.Endpoint), azcore.NewKeyCredential(strings.TrimSpace(cfg.APIKey)), nil)
	if err != nil {
		return nil, fmt.Errorf("create azure openai client: %w", err)
	}
	return newAzureClientWithAPI(cfg.Deployment, client), nil
}

func newAzureClientWithAPI(deployment string, api azureChatAPI) *AzureClient {
	deployment = strings.TrimSpace(deployment)
	if deployment == "" {
		deployment = "gpt-4"
	}
	return &AzureClient{deployment: deployment, api: api}
}

func (c *AzureClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]azopenai.ChatRequestMessageClassification, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, &azopenai.ChatRequestSystemMessage{Content: to.Ptr(req.System)})
	}
	messages = append(messages, &azopenai.ChatRequestUserMessage{Content: azopenai.NewChatRequestUserMessageContent(req.Prompt)})

	resp, err := c.api.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		Messages:       messages,
		DeploymentName: &c.deployment,
		Temperature:    to.Ptr(float32(req.Temperature)),
	}, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return Response{}, &StatusError{Provider: "azure", StatusCode: respErr.StatusCode, Body: respErr.ErrorCode}
		}
		return Response{}, fmt.Errorf("request azure completion: %w", err)
	}

	for _, choice := range resp.Choices {
		if choice.Message == nil || choice.Message.Content == nil || strings.TrimSpace(*choice.Message.Content) == "" {
			continue
		}
		out := Response{Text: *choice.Message.Content, Provider: "azure", Model: c.deployment}
		if resp.Usage != nil {
			out.Usage = Usage{
				PromptTokens:     int32Value(resp.Usage.PromptTokens),
				CompletionTokens: int32Value(resp.Usage.CompletionTokens),
			}
		}
		return out, nil
	}
	return Response{}, ErrEmptyResponse
}

func int32Value(v *int32) int {
	if v == nil {
		return 0
	}
	return int(*v)
}
