package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

type fakeClient struct {
	summaries []types.FoundationModelSummary
	err       error
	calls     int
}

func (f *fakeClient) ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &bedrock.ListFoundationModelsOutput{ModelSummaries: f.summaries}, nil
}

func withFakeClient(t *testing.T, fake *fakeClient) {
	t.Helper()
	orig := clientFactory
	clientFactory = func(cfg aws.Config) BedrockClientAPI { return fake }
	t.Cleanup(func() { clientFactory = orig })
}

func summary(id, name, provider, lifecycle string) types.FoundationModelSummary {
	return types.FoundationModelSummary{
		ModelId:                    aws.String(id),
		ModelName:                  aws.String(name),
		ProviderName:               aws.String(provider),
		ResponseStreamingSupported: aws.Bool(true),
		ModelLifecycle:             &types.FoundationModelLifecycle{Status: types.FoundationModelLifecycleStatus(lifecycle)},
	}
}

func TestDiscoverModelsFiltersAndNormalizes(t *testing.T) {
	withFakeClient(t, &fakeClient{summaries: []types.FoundationModelSummary{
		summary("anthropic.claude-3-sonnet-20240229-v1:0", "Claude 3 Sonnet", "Anthropic", "ACTIVE"),
		summary("anthropic.claude-v1", "Claude V1", "Anthropic", "LEGACY"),
		summary("meta.llama3-1-70b-instruct-v1:0", "Llama 3.1 70B", "Meta", "ACTIVE"),
	}})

	models, err := DiscoverModels(context.Background(), &DiscoveryConfig{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2 (legacy excluded)", len(models))
	}
	claude := models[0]
	if claude.ContextWindow != 200000 {
		t.Errorf("claude context window = %d", claude.ContextWindow)
	}
	if !claude.StreamingSupported {
		t.Error("streaming flag lost")
	}
	llama := models[1]
	if llama.ContextWindow != 128000 {
		t.Errorf("llama 3.1 context window = %d", llama.ContextWindow)
	}
}

func TestDiscoverModelsProviderFilter(t *testing.T) {
	withFakeClient(t, &fakeClient{summaries: []types.FoundationModelSummary{
		summary("anthropic.claude-3-haiku-20240307-v1:0", "Claude 3 Haiku", "Anthropic", "ACTIVE"),
		summary("meta.llama3-8b-instruct-v1:0", "Llama 3 8B", "Meta", "ACTIVE"),
	}})

	models, err := DiscoverModels(context.Background(), &DiscoveryConfig{ProviderFilter: []string{"anthropic"}})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(models) != 1 || models[0].Provider != "Anthropic" {
		t.Fatalf("models = %+v", models)
	}
}

func TestDiscoverModelsPropagatesError(t *testing.T) {
	withFakeClient(t, &fakeClient{err: errors.New("throttled")})
	if _, err := DiscoverModels(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsReasoningModel(t *testing.T) {
	if !isReasoningModel("anthropic.claude-3-5-sonnet-20241022-v2:0") {
		t.Error("claude 3.5 should be flagged for reasoning")
	}
	if isReasoningModel("amazon.titan-text-express-v1") {
		t.Error("titan should not be flagged")
	}
}
