package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/agent/providers"
	"github.com/agentcore/engine/internal/agent/routing"
	"github.com/agentcore/engine/internal/auth"
	"github.com/agentcore/engine/internal/ratelimit"
)

// engineConfig is the on-disk JSON configuration: a default provider, a
// named set of provider bindings, step/token budgets, and an optional
// working directory override. MCP servers and sandbox options are read
// but not required.
type engineConfig struct {
	DefaultProvider  string                          `json:"default_provider"`
	ModelProviders   map[string]modelProviderConfig  `json:"model_providers"`
	MaxSteps         int                             `json:"max_steps"`
	TotalTokenBudget int                             `json:"total_token_budget"`
	WorkingDirectory string                          `json:"working_directory,omitempty"`
	MCPServers       []mcpServerConfig               `json:"mcp_servers,omitempty"`
	Sandbox          sandboxConfigShape              `json:"sandbox,omitempty"`
}

type modelProviderConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeout_seconds,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

type mcpServerConfig struct {
	Name    string `json:"name"`
	Command string `json:"command,omitempty"`
	URL     string `json:"url,omitempty"`
}

type sandboxConfigShape struct {
	Strictness string `json:"strictness,omitempty"`
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		DefaultProvider: "anthropic",
		ModelProviders: map[string]modelProviderConfig{
			"anthropic": {Model: "claude-sonnet-4-20250514"},
			"openai":    {Model: "gpt-4o"},
		},
		MaxSteps:         25,
		TotalTokenBudget: 200_000,
	}
}

// loadEngineConfig reads the JSON config file and applies it over the
// built-in defaults. Credential resolution happens in resolveAPIKey once a
// provider is selected.
func loadEngineConfig(path string) (*engineConfig, error) {
	cfg := defaultEngineConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	// JSON5 is a strict superset of the JSON the spec requires, so config
	// files may carry comments and trailing commas.
	var file engineConfig
	if err := json5.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if file.DefaultProvider != "" {
		cfg.DefaultProvider = file.DefaultProvider
	}
	if len(file.ModelProviders) > 0 {
		cfg.ModelProviders = file.ModelProviders
	}
	if file.MaxSteps > 0 {
		cfg.MaxSteps = file.MaxSteps
	}
	if file.TotalTokenBudget > 0 {
		cfg.TotalTokenBudget = file.TotalTokenBudget
	}
	if file.WorkingDirectory != "" {
		cfg.WorkingDirectory = file.WorkingDirectory
	}
	cfg.MCPServers = file.MCPServers
	cfg.Sandbox = file.Sandbox
	return cfg, nil
}

// globalConfigPath returns the user-wide config file consulted beneath
// project config but above auto-import, keychain, and OAuth tiers.
func globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "nexus", "config.json")
}

// loadGlobalProviderKey reads the api_key configured for providerName out
// of the user-wide config file, if one exists.
func loadGlobalProviderKey(providerName string) string {
	data, err := os.ReadFile(globalConfigPath())
	if err != nil {
		return ""
	}
	var global engineConfig
	if err := json.Unmarshal(data, &global); err != nil {
		return ""
	}
	return global.ModelProviders[providerName].APIKey
}

// resolveAPIKey walks the full credential resolution chain (CLI argument,
// environment, project config, global config, auto-imported sibling-tool
// config, system keychain, cached OAuth token, default) for providerName,
// and returns the winning key.
func resolveAPIKey(providerName, cliArg, fromProjectConfig string) auth.Resolved {
	r := auth.NewResolver()
	r.CLIArg = cliArg
	r.ProjectCfg = func(string) string { return fromProjectConfig }
	r.GlobalCfg = loadGlobalProviderKey
	return r.Resolve(context.Background(), providerName)
}

// buildProvider constructs the LLMProvider binding named by
// cfg.DefaultProvider, wrapped in the rate-limit/circuit-breaker guard.
// cliAPIKey carries the --api-key flag, which outranks every other
// credential source in the resolution chain.
func buildProvider(cfg *engineConfig, cliAPIKey string) (agent.LLMProvider, modelProviderConfig, error) {
	p, pc, err := buildRawProvider(cfg, cfg.DefaultProvider, cliAPIKey)
	if err != nil {
		return nil, pc, err
	}

	// With more than one configured binding, requests route by content
	// heuristics with the default provider as fallback. Bindings that fail
	// to construct (usually a missing key) are skipped.
	if len(cfg.ModelProviders) > 1 {
		candidates := map[string]agent.LLMProvider{cfg.DefaultProvider: p}
		for name := range cfg.ModelProviders {
			if name == cfg.DefaultProvider {
				continue
			}
			alt, _, altErr := buildRawProvider(cfg, name, "")
			if altErr == nil {
				candidates[name] = alt
			}
		}
		if len(candidates) > 1 {
			p = routing.NewRouter(routing.Config{DefaultProvider: cfg.DefaultProvider}, candidates)
		}
	}

	guarded := agent.NewGuardedProvider(p, agent.GuardConfig{
		RateLimit:     ratelimit.Preset(cfg.DefaultProvider),
		MaxWait:       30 * time.Second,
		MaxConcurrent: 4,
	})
	return guarded, pc, nil
}

func buildRawProvider(cfg *engineConfig, providerName, cliAPIKey string) (agent.LLMProvider, modelProviderConfig, error) {
	pc, ok := cfg.ModelProviders[providerName]
	if !ok {
		return nil, modelProviderConfig{}, fmt.Errorf("no model_providers entry for provider %q", providerName)
	}
	apiKey := resolveAPIKey(providerName, cliAPIKey, pc.APIKey).Key

	switch providerName {
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   time.Second,
			DefaultModel: pc.Model,
		})
		return p, pc, err
	case "openai":
		return providers.NewOpenAIProvider(apiKey), pc, nil
	case "google":
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{APIKey: apiKey, DefaultModel: pc.Model})
		return p, pc, err
	case "openrouter":
		p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{APIKey: apiKey, DefaultModel: pc.Model})
		return p, pc, err
	case "azure":
		p, err := providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{APIKey: apiKey, Endpoint: pc.BaseURL, DefaultModel: pc.Model})
		return p, pc, err
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: pc.BaseURL, DefaultModel: pc.Model}), pc, nil
	case "glm":
		return providers.NewGLMProvider(providers.GLMConfig{APIKey: apiKey, DefaultModel: pc.Model}), pc, nil
	case "bedrock":
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{Region: pc.BaseURL, DefaultModel: pc.Model})
		return p, pc, err
	default:
		return nil, modelProviderConfig{}, fmt.Errorf("unknown provider %q", providerName)
	}
}

func defaultWorkingDirectory(cfg *engineConfig) (string, error) {
	if cfg.WorkingDirectory != "" {
		return filepath.Abs(cfg.WorkingDirectory)
	}
	return os.Getwd()
}
