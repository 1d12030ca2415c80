package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"log/slog"
	"path/filepath"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/agents"
	"github.com/agentcore/engine/internal/audit"
	kvcache "github.com/agentcore/engine/internal/cache"
	"github.com/agentcore/engine/internal/compaction"
	"github.com/agentcore/engine/internal/jobs"
	catalog "github.com/agentcore/engine/internal/models"
	"github.com/agentcore/engine/internal/multiagent"
	"github.com/agentcore/engine/internal/sessions"
	"github.com/agentcore/engine/internal/tools/exec"
	"github.com/agentcore/engine/internal/tools/files"
	jobstool "github.com/agentcore/engine/internal/tools/jobs"
	"github.com/agentcore/engine/internal/tools/policy"
	modelstool "github.com/agentcore/engine/internal/tools/models"
	"github.com/agentcore/engine/internal/tools/sandbox"
	"github.com/agentcore/engine/internal/tools/subagent"
	"github.com/agentcore/engine/internal/usage"
	"github.com/agentcore/engine/pkg/models"
)

// buildToolRegistry assembles the default tool catalog: file read/write/edit
// and shell execution, scoped to workDir. Sub-agent spawn is registered
// separately by the caller once a runtime exists; MCP-backed tools are not
// registered.
// Every shell-like and filesystem tool shares one command/path validator so
// a blocked pattern can't be reached through one tool but not another.
func buildToolRegistry(workDir string, cfg *engineConfig) (*agent.ToolRegistry, jobs.Store) {
	registry := agent.NewToolRegistry()

	validator := sandbox.New(sandbox.Config{
		Strictness: sandbox.Strictness(cfg.Sandbox.Strictness),
	})

	filesCfg := files.Config{Workspace: workDir, MaxReadBytes: 200_000, Validator: validator}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	execManager := exec.NewManager(workDir).WithValidator(validator)
	registry.Register(exec.NewExecTool("bash", execManager))
	registry.Register(exec.NewProcessTool(execManager))

	// Model catalog with disk-cached bedrock discovery; the cache survives
	// process restarts so a fresh run skips the discovery round-trip.
	cat := catalog.NewCatalog()
	refresher := &modelstool.BedrockRefresher{}
	if store, err := kvcache.NewDiskStore(filepath.Join(workDir, ".nexus", "cache"), 64<<20); err == nil {
		refresher.Store = store
	}
	registry.Register(modelstool.NewTool(cat, refresher))

	// Async tool jobs share one store between the status/cancel tools and
	// the loop that queues them.
	jobStore := jobs.NewMemoryStore()
	registry.Register(jobstool.NewStatusTool(jobStore))
	registry.Register(jobstool.NewCancelTool(jobStore))

	return registry, jobStore
}

// registerSubagentTools builds the sub-agent manager over its own runtime
// (children run tools sequentially, never on the parent's executor, with a
// policy-filtered view of the parent's catalog) and registers the
// spawn/status/cancel tools into the parent catalog.
func registerSubagentTools(registry *agent.ToolRegistry, provider agent.LLMProvider, cfg *engineConfig) *subagent.Manager {
	childCfg := agent.DefaultLoopConfig()
	childCfg.ToolExec = agent.ToolExecConfig{Concurrency: 1}
	if cfg.MaxSteps > 0 {
		childCfg.MaxIterations = cfg.MaxSteps
	}
	childRuntime := agent.NewAgenticRuntime(provider, sessions.NewMemoryStore(), childCfg)
	for _, tool := range registry.AsLLMTools() {
		childRuntime.RegisterTool(tool)
	}
	childRuntime.SetDefaultModel(cfg.ModelProviders[cfg.DefaultProvider].Model)

	mgr := subagent.NewManager(childRuntime, 5)
	mgr.SetRegistry(multiagent.NewSubagentRegistry(nil))
	if cfg.MaxSteps > 0 {
		mgr.SetMaxSteps(cfg.MaxSteps)
	}

	registry.Register(subagent.NewSpawnTool(mgr))
	registry.Register(subagent.NewStatusTool(mgr))
	registry.Register(subagent.NewCancelTool(mgr))
	return mgr
}

// providerUsageTool reports the guarded provider's accumulated token usage.
type providerUsageTool struct {
	guard *agent.GuardedProvider
}

func (t *providerUsageTool) Name() string        { return "provider_usage" }
func (t *providerUsageTool) Description() string { return "Report token usage accumulated by the LLM provider this session." }
func (t *providerUsageTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *providerUsageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: usage.FormatProviderUsage(t.guard.Usage())}, nil
}

// registerUsageTool exposes provider token accounting to the model when the
// provider is the guarded kind (always, in the CLI paths).
func registerUsageTool(registry *agent.ToolRegistry, provider agent.LLMProvider) {
	if guard, ok := provider.(*agent.GuardedProvider); ok {
		registry.Register(&providerUsageTool{guard: guard})
	}
}

// agenticRunner is the subset of *agent.AgenticLoop the CLI commands drive;
// narrowing to an interface keeps run/chat/ipc testable without a live
// provider.
type agenticRunner interface {
	Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error)
}

// providerSummaryModel adapts an LLMProvider to the compactor's single
// summarization call.
type providerSummaryModel struct {
	provider agent.LLMProvider
	model    string
}

func (m providerSummaryModel) Summarize(ctx context.Context, prompt string) (string, error) {
	chunks, err := m.provider.Complete(ctx, &agent.CompletionRequest{
		Model:     m.model,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("summarization produced no text")
	}
	return sb.String(), nil
}

// buildLoopConfig maps the resolved engine config onto the step loop:
// step/token budgets, boundary compaction over the same provider, the
// shared job store, and the audit log under the working directory.
func buildLoopConfig(provider agent.LLMProvider, pc modelProviderConfig, cfg *engineConfig, workDir string, jobStore jobs.Store) *agent.LoopConfig {
	loopCfg := agent.DefaultLoopConfig()
	loopCfg.MaxIterations = cfg.MaxSteps
	loopCfg.TotalTokenBudget = cfg.TotalTokenBudget

	// The token budget may not exceed what the model's context window can
	// actually hold; a window below the hard floor refuses to run at all.
	window := 0
	for _, m := range provider.Models() {
		if m.ID == pc.Model {
			window = m.ContextSize
			break
		}
	}
	info := agents.ResolveContextWindowInfo(nil, nil, cfg.DefaultProvider, pc.Model, window, cfg.TotalTokenBudget)
	guard := agents.EvaluateContextWindowGuard(info, nil)
	if guard.ShouldBlock {
		slog.Error("context window below hard minimum; runs will likely fail", "tokens", info.Tokens, "source", info.Source)
	} else if guard.ShouldWarn {
		slog.Warn("context window is small; compaction will run aggressively", "tokens", info.Tokens, "source", info.Source)
	}
	if info.Tokens > 0 && loopCfg.TotalTokenBudget > info.Tokens {
		loopCfg.TotalTokenBudget = info.Tokens
	}
	loopCfg.Compactor = compaction.NewCompactor(providerSummaryModel{provider: provider, model: pc.Model})
	loopCfg.JobStore = jobStore

	// The permission gate runs every call through the static policy and the
	// per-tool checkers; without an interactive handler an Ask resolves to
	// its declared default.
	loopCfg.Gate = policy.NewGate(policy.NewResolver(), policy.NewPolicy(policy.ProfileFull))
	loopCfg.GateContext = policy.PermissionContext{WorkingDir: workDir}

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled: true,
		Output:  "file:" + filepath.Join(workDir, ".nexus", "audit.log"),
	})
	if err == nil {
		loopCfg.Audit = auditLogger
	}
	return loopCfg
}

// buildLoop constructs the agentic loop wired to the given provider, tool
// registry, and budgets from the resolved config.
func buildLoop(provider agent.LLMProvider, registry *agent.ToolRegistry, store sessions.Store, cfg *engineConfig, workDir string, jobStore jobs.Store) *agent.AgenticLoop {
	pc := cfg.ModelProviders[cfg.DefaultProvider]
	loop := agent.NewAgenticLoop(provider, registry, store, buildLoopConfig(provider, pc, cfg, workDir, jobStore))
	return loop
}
