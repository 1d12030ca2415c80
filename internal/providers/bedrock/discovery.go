// Package bedrock discovers which foundation models an AWS account can
// invoke, via the Bedrock control-plane ListFoundationModels API.
package bedrock

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

// ModelDefinition is one discovered model with its capabilities.
type ModelDefinition struct {
	ID                 string   // e.g. "anthropic.claude-3-sonnet-20240229-v1:0"
	Name               string   // Human-readable model name
	Provider           string   // e.g. "Anthropic", "Meta"
	Reasoning          bool     // Supports extended reasoning/thinking
	Input              []string // Input modalities: "text", "image"
	Output             []string // Output modalities
	ContextWindow      int      // Maximum context window size
	MaxTokens          int      // Maximum output tokens
	StreamingSupported bool
	LifecycleStatus    string // e.g. "ACTIVE"
}

// DiscoveryConfig tunes one discovery call. Callers that need caching
// layer it on top (the model catalog persists results to disk).
type DiscoveryConfig struct {
	// Region is the AWS region to query (default: us-east-1).
	Region string

	// ProviderFilter limits discovery to specific providers (e.g.
	// ["anthropic", "meta"]). Empty means all.
	ProviderFilter []string

	// DefaultContextWindow / DefaultMaxTokens apply when a model family
	// isn't recognized.
	DefaultContextWindow int
	DefaultMaxTokens     int
}

func (c *DiscoveryConfig) applyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.DefaultContextWindow <= 0 {
		c.DefaultContextWindow = 32000
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = 4096
	}
}

// BedrockClientAPI is the control-plane surface discovery needs; tests
// substitute a fake.
type BedrockClientAPI interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// clientFactory builds the real client; tests override it.
var clientFactory = func(cfg aws.Config) BedrockClientAPI {
	return bedrock.NewFromConfig(cfg)
}

// DiscoverModels lists the active foundation models visible to the
// account, filtered and normalized. Every call hits the API; persistence
// belongs to the caller.
func DiscoverModels(ctx context.Context, cfg *DiscoveryConfig) ([]ModelDefinition, error) {
	if cfg == nil {
		cfg = &DiscoveryConfig{}
	}
	cfg.applyDefaults()

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock discovery: load AWS config: %w", err)
	}
	client := clientFactory(awsCfg)

	out, err := client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, fmt.Errorf("bedrock discovery: list models: %w", err)
	}

	var models []ModelDefinition
	for i := range out.ModelSummaries {
		summary := &out.ModelSummaries[i]
		if !shouldIncludeModel(summary, cfg.ProviderFilter) {
			continue
		}
		models = append(models, toModelDefinition(summary, *cfg))
	}
	return models, nil
}

// shouldIncludeModel keeps active models matching the provider filter.
func shouldIncludeModel(summary *types.FoundationModelSummary, filter []string) bool {
	if summary == nil {
		return false
	}
	if summary.ModelLifecycle != nil {
		status := string(summary.ModelLifecycle.Status)
		if status != "ACTIVE" && status != "" {
			return false
		}
	}
	if len(filter) == 0 {
		return true
	}

	providerName := strings.ToLower(aws.ToString(summary.ProviderName))
	modelID := strings.ToLower(aws.ToString(summary.ModelId))
	for _, f := range filter {
		f = strings.ToLower(f)
		if f == providerName || strings.HasPrefix(modelID, f+".") {
			return true
		}
	}
	return false
}

// toModelDefinition normalizes one API summary, filling context/output
// limits from known model families.
func toModelDefinition(summary *types.FoundationModelSummary, defaults DiscoveryConfig) ModelDefinition {
	def := ModelDefinition{
		ID:                 aws.ToString(summary.ModelId),
		Name:               aws.ToString(summary.ModelName),
		Provider:           aws.ToString(summary.ProviderName),
		StreamingSupported: aws.ToBool(summary.ResponseStreamingSupported),
	}
	for _, m := range summary.InputModalities {
		def.Input = append(def.Input, strings.ToLower(string(m)))
	}
	for _, m := range summary.OutputModalities {
		def.Output = append(def.Output, strings.ToLower(string(m)))
	}
	if summary.ModelLifecycle != nil {
		def.LifecycleStatus = string(summary.ModelLifecycle.Status)
	}

	modelID := strings.ToLower(def.ID)
	def.Reasoning = isReasoningModel(modelID)
	def.ContextWindow = modelContextWindow(modelID, defaults.DefaultContextWindow)
	def.MaxTokens = modelMaxTokens(modelID, defaults.DefaultMaxTokens)
	return def
}

// isReasoningModel flags model families with extended reasoning support.
func isReasoningModel(modelID string) bool {
	for _, pattern := range []string{"claude-3-5", "claude-3-7", "claude-sonnet-4", "claude-opus-4", "deepseek-r1"} {
		if strings.Contains(modelID, pattern) {
			return true
		}
	}
	return false
}

// modelContextWindow maps known families to their context sizes.
func modelContextWindow(modelID string, fallback int) int {
	switch {
	case strings.Contains(modelID, "claude-3"), strings.Contains(modelID, "claude-sonnet-4"), strings.Contains(modelID, "claude-opus-4"):
		return 200000
	case strings.Contains(modelID, "claude"):
		return 100000
	case strings.Contains(modelID, "llama3-1"), strings.Contains(modelID, "llama3-2"):
		return 128000
	case strings.Contains(modelID, "llama"):
		return 8192
	case strings.Contains(modelID, "mistral"), strings.Contains(modelID, "mixtral"):
		return 32768
	case strings.Contains(modelID, "command-r"):
		return 128000
	case strings.Contains(modelID, "titan"):
		return 8192
	}
	return fallback
}

// modelMaxTokens maps known families to their output limits.
func modelMaxTokens(modelID string, fallback int) int {
	switch {
	case strings.Contains(modelID, "claude-3-5"), strings.Contains(modelID, "claude-sonnet-4"), strings.Contains(modelID, "claude-opus-4"):
		return 8192
	case strings.Contains(modelID, "claude"):
		return 4096
	case strings.Contains(modelID, "llama"):
		return 2048
	case strings.Contains(modelID, "command-r"):
		return 4096
	}
	return fallback
}
