package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentcore/engine/internal/agent"
	kvcache "github.com/agentcore/engine/internal/cache"
	"github.com/agentcore/engine/internal/models"
	bedrockdiscovery "github.com/agentcore/engine/internal/providers/bedrock"
)

// BedrockRefresher discovers Bedrock models and folds them into the
// catalog, persisting the discovered list so a fresh process skips the
// ListFoundationModels round-trip.
type BedrockRefresher struct {
	Region string
	Store  kvcache.Store
	TTL    time.Duration
}

// cacheNamespace keys persisted discovery results per region.
const cacheNamespace = "bedrock_models"

// RegisterWithCatalog loads the model list (persistent cache first, live
// discovery otherwise) and registers every entry.
func (r *BedrockRefresher) RegisterWithCatalog(ctx context.Context, catalog *models.Catalog) error {
	defs := r.loadFromStore(ctx)
	if defs == nil {
		live, err := bedrockdiscovery.DiscoverModels(ctx, &bedrockdiscovery.DiscoveryConfig{Region: r.Region})
		if err != nil {
			return err
		}
		defs = live
		r.saveToStore(ctx, defs)
	}

	for _, def := range defs {
		catalog.Register(&models.Model{
			ID:              def.ID,
			Name:            def.Name,
			Provider:        models.ProviderBedrock,
			ContextWindow:   def.ContextWindow,
			MaxOutputTokens: def.MaxTokens,
		})
	}
	return nil
}

func (r *BedrockRefresher) loadFromStore(ctx context.Context) []bedrockdiscovery.ModelDefinition {
	if r.Store == nil {
		return nil
	}
	payload, err := r.Store.Get(ctx, cacheNamespace, r.region())
	if err != nil || len(payload) == 0 {
		return nil
	}
	var defs []bedrockdiscovery.ModelDefinition
	if err := json.Unmarshal(payload, &defs); err != nil {
		return nil
	}
	return defs
}

func (r *BedrockRefresher) saveToStore(ctx context.Context, defs []bedrockdiscovery.ModelDefinition) {
	if r.Store == nil {
		return
	}
	payload, err := json.Marshal(defs)
	if err != nil {
		return
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	_ = r.Store.Set(ctx, cacheNamespace, r.region(), payload, ttl)
}

func (r *BedrockRefresher) region() string {
	if r.Region == "" {
		return "us-east-1"
	}
	return r.Region
}

// Tool exposes model catalog discovery.
type Tool struct {
	catalog *models.Catalog
	bedrock *BedrockRefresher
}

// NewTool creates a models tool.
func NewTool(catalog *models.Catalog, bedrock *BedrockRefresher) *Tool {
	return &Tool{catalog: catalog, bedrock: bedrock}
}

func (t *Tool) Name() string { return "models" }

func (t *Tool) Description() string {
	return "List available LLM models and refresh discovery (bedrock)."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: list, providers, refresh.",
			},
			"provider": map[string]interface{}{
				"type":        "string",
				"description": "Filter by provider (list).",
			},
			"capability": map[string]interface{}{
				"type":        "string",
				"description": "Filter by capability (list).",
			},
			"tier": map[string]interface{}{
				"type":        "string",
				"description": "Filter by tier (list).",
			},
			"include_deprecated": map[string]interface{}{
				"type":        "boolean",
				"description": "Include deprecated models.",
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.catalog == nil {
		return toolError("model catalog unavailable"), nil
	}
	var input struct {
		Action            string `json:"action"`
		Provider          string `json:"provider"`
		Capability        string `json:"capability"`
		Tier              string `json:"tier"`
		IncludeDeprecated bool   `json:"include_deprecated"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if action == "" {
		return toolError("action is required"), nil
	}

	switch action {
	case "list":
		filter := models.Filter{}
		if provider := strings.TrimSpace(input.Provider); provider != "" {
			filter.Providers = []models.Provider{models.Provider(strings.ToLower(provider))}
		}
		if capability := strings.TrimSpace(input.Capability); capability != "" {
			filter.RequiredCapabilities = []models.Capability{models.Capability(strings.ToLower(capability))}
		}
		if tier := strings.TrimSpace(input.Tier); tier != "" {
			filter.Tiers = []models.Tier{models.Tier(strings.ToLower(tier))}
		}
		entries := t.catalog.List(&filter)
		items := make([]*models.Model, 0, len(entries))
		for _, entry := range entries {
			if entry == nil {
				continue
			}
			if entry.Deprecated && !input.IncludeDeprecated {
				continue
			}
			items = append(items, entry)
		}
		return jsonResult(map[string]any{"models": items}), nil
	case "providers":
		providers := map[string]bool{}
		for _, entry := range t.catalog.List(nil) {
			if entry == nil {
				continue
			}
			providers[string(entry.Provider)] = true
		}
		out := make([]string, 0, len(providers))
		for provider := range providers {
			out = append(out, provider)
		}
		return jsonResult(map[string]any{"providers": out}), nil
	case "refresh":
		if t.bedrock == nil {
			return toolError("bedrock discovery not configured (set llm.bedrock.enabled)"), nil
		}
		if err := t.bedrock.RegisterWithCatalog(ctx, t.catalog); err != nil {
			return toolError(fmt.Sprintf("refresh: %v", err)), nil
		}
		return jsonResult(map[string]any{"status": "refreshed"}), nil
	default:
		return toolError("unsupported action"), nil
	}
}

func jsonResult(payload any) *agent.ToolResult {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(encoded)}
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
