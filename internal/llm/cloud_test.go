package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type fakeAzureAPI struct {
	gotOptions azopenai.ChatCompletionsOptions
	resp       azopenai.GetChatCompletionsResponse
	err        error
}

func (f *fakeAzureAPI) GetChatCompletions(_ context.Context, body azopenai.ChatCompletionsOptions, _ *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error) {
	f.gotOptions = body
	return f.resp, f.err
}

func TestAzureClientComplete(t *testing.T) {
	api := &fakeAzureAPI{}
	api.resp.Choices = []azopenai.ChatChoice{
		{Message: &azopenai.ChatResponseMessage{Content: to.Ptr("SELECT 1")}},
	}
	api.resp.Usage = &azopenai.CompletionsUsage{PromptTokens: to.Ptr(int32(9)), CompletionTokens: to.Ptr(int32(4))}

	client := newAzureClientWithAPI("", api)
	resp, err := client.Complete(context.Background(), Request{System: "sys", Prompt: "q"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if api.gotOptions.DeploymentName == nil || *api.gotOptions.DeploymentName != "gpt-4" {
		t.Fatalf("deployment = %v", api.gotOptions.DeploymentName)
	}
	if len(api.gotOptions.Messages) != 2 {
		t.Fatalf("messages = %d", len(api.gotOptions.Messages))
	}
	if resp.Text != "SELECT 1" || resp.Provider != "azure" || resp.Usage.PromptTokens != 9 || resp.Usage.CompletionTokens != 4 {
		t.Fatalf("response = %#v", resp)
	}
}

func TestAzureClientMapsThrottlingToQuota(t *testing.T) {
	api := &fakeAzureAPI{err: &azcore.ResponseError{StatusCode: http.StatusTooManyRequests, ErrorCode: "429"}}
	_, err := newAzureClientWithAPI("gpt-4", api).Complete(context.Background(), Request{Prompt: "q"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestAzureClientEmptyChoices(t *testing.T) {
	_, err := newAzureClientWithAPI("gpt-4", &fakeAzureAPI{}).Complete(context.Background(), Request{Prompt: "q"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("Complete() error = %v", err)
	}
}

type fakeBedrockAPI struct {
	gotInput *bedrockruntime.InvokeModelInput
	body     string
	err      error
}

func (f *fakeBedrockAPI) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.gotInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockClientComplete(t *testing.T) {
	api := &fakeBedrockAPI{body: `{"content":[{"type":"text","text":"SELECT name FROM artist"}],"usage":{"input_tokens":30,"output_tokens":6}}`}
	resp, err := newBedrockClientWithAPI("", api).Complete(context.Background(), Request{System: "sys", Prompt: "q", Temperature: 0.1})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if aws.ToString(api.gotInput.ModelId) != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Fatalf("ModelId = %q", aws.ToString(api.gotInput.ModelId))
	}
	var sent bedrockRequest
	if err := json.Unmarshal(api.gotInput.Body, &sent); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if sent.AnthropicVersion != bedrockAnthropicVersion || sent.System != "sys" || len(sent.Messages) != 1 {
		t.Fatalf("request = %#v", sent)
	}
	if resp.Text != "SELECT name FROM artist" || resp.Usage.PromptTokens != 30 || resp.Usage.CompletionTokens != 6 {
		t.Fatalf("response = %#v", resp)
	}
}

func TestBedrockClientMapsThrottlingToQuota(t *testing.T) {
	api := &fakeBedrockAPI{err: &types.ThrottlingException{Message: aws.String("slow down")}}
	_, err := newBedrockClientWithAPI("model", api).Complete(context.Background(), Request{Prompt: "q"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Complete() error = %v", err)
	}
}
