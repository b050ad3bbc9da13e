package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

type BedrockConfig struct {
	Region  string
	ModelID string
}

type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient invokes Anthropic models hosted on AWS Bedrock. Credentials
// come from the default AWS chain.
type BedrockClient struct {
	modelID string
	api     bedrockAPI
}

func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	opts := make([]func(*awsconfig.LoadOptions) error, 0, 1)
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockClientWithAPI(cfg.ModelID, bedrockruntime.NewFromConfig(awsCfg)), nil
}

func newBedrockClientWithAPI(modelID string, api bedrockAPI) *BedrockClient {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	return &BedrockClient{modelID: modelID, api: api}
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        2048,
		System:           req.System,
		Messages:         []bedrockMessage{{Role: "user", Content: req.Prompt}},
		Temperature:      req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal bedrock payload: %w", err)
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		var throttled *types.ThrottlingException
		if errors.As(err, &throttled) {
			return Response{}, &StatusError{Provider: "bedrock", StatusCode: http.StatusTooManyRequests, Body: throttled.ErrorMessage()}
		}
		return Response{}, fmt.Errorf("invoke bedrock model: %w", err)
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode bedrock response: %w", err)
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:     text.String(),
		Provider: "bedrock",
		Model:    c.modelID,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}
