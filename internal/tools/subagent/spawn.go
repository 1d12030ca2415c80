// Package subagent provides tools for spawning and managing sub-agents.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/multiagent"
	"github.com/agentcore/engine/internal/tools/policy"
	"github.com/agentcore/engine/pkg/models"
)

// SubAgent represents a spawned sub-agent.
type SubAgent struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parent_id"`
	SessionID    string    `json:"session_id"`
	AgentType    AgentType `json:"agent_type"`
	Name         string    `json:"name"`
	Task         string    `json:"task"`
	ParentSession string   `json:"parent_session,omitempty"`
	Status       string    `json:"status"` // pending, running, completed, failed, killed
	CreatedAt    time.Time `json:"created_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Result       string    `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	AllowedTools []string  `json:"allowed_tools,omitempty"`
	DeniedTools  []string  `json:"denied_tools,omitempty"`

	// Steps and ToolUses are progress counters updated while running.
	Steps    int `json:"steps,omitempty"`
	ToolUses int `json:"tool_uses,omitempty"`

	cancel context.CancelFunc
}

func (sa *SubAgent) terminal() bool {
	switch sa.Status {
	case "completed", "failed", "killed":
		return true
	}
	return false
}

// Manager manages sub-agent lifecycle. It drives child runs on its own
// runtime (tools execute sequentially, never on the parent's executor),
// and mirrors run records into the shared registry when one is attached.
type Manager struct {
	mu          sync.RWMutex
	agents      map[string]*SubAgent
	defs        *Definitions
	runtime     *agent.AgenticRuntime
	registry    *multiagent.SubagentRegistry
	queue       *AnnounceQueue
	maxActive   int
	maxSteps    int
	activeCount int64
	announcer   func(ctx context.Context, parentSession string, msg string) error
}

// NewManager creates a new sub-agent manager over a dedicated runtime.
// The runtime should be configured for sequential tool execution.
func NewManager(runtime *agent.AgenticRuntime, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	return &Manager{
		agents:    make(map[string]*SubAgent),
		defs:      NewDefinitions(),
		runtime:   runtime,
		queue:     NewAnnounceQueue(),
		maxActive: maxActive,
		maxSteps:  10,
	}
}

// Definitions exposes the definition registry for custom registrations.
func (m *Manager) Definitions() *Definitions { return m.defs }

// SetRegistry attaches the shared run registry; every spawn is mirrored
// into it so external callers can observe and kill runs.
func (m *Manager) SetRegistry(registry *multiagent.SubagentRegistry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry = registry
}

// SetMaxSteps caps the child step loop.
func (m *Manager) SetMaxSteps(n int) {
	if n > 0 {
		m.mu.Lock()
		m.maxSteps = n
		m.mu.Unlock()
	}
}

// SetAnnouncer sets the function to announce sub-agent lifecycle events.
func (m *Manager) SetAnnouncer(fn func(ctx context.Context, parentSession string, msg string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcer = fn
}

// Queue returns the per-session announcement queue fed on completion.
func (m *Manager) Queue() *AnnounceQueue { return m.queue }

// SpawnParams describes one spawn request.
type SpawnParams struct {
	ParentID      string
	ParentSession string
	AgentType     AgentType
	Name          string
	Task          string
	AllowedTools  []string
	DeniedTools   []string
}

// Spawn creates and starts a new sub-agent from its definition's template.
func (m *Manager) Spawn(ctx context.Context, params SpawnParams) (*SubAgent, error) {
	if atomic.LoadInt64(&m.activeCount) >= int64(m.maxActive) {
		return nil, fmt.Errorf("max active sub-agents reached (%d)", m.maxActive)
	}

	agentType := params.AgentType
	if agentType == "" {
		agentType = AgentGeneral
	}
	def, ok := m.defs.Get(agentType)
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}

	allowed, denied := toolACL(def, params.AllowedTools, params.DeniedTools)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sa := &SubAgent{
		ID:           uuid.NewString(),
		ParentID:     params.ParentID,
		SessionID:    params.ParentSession + "-" + uuid.NewString()[:8],
		ParentSession: params.ParentSession,
		AgentType:    agentType,
		Name:         params.Name,
		Task:         params.Task,
		Status:       "running",
		CreatedAt:    time.Now(),
		AllowedTools: allowed,
		DeniedTools:  denied,
		cancel:       cancel,
	}

	m.mu.Lock()
	m.agents[sa.ID] = sa
	announcer := m.announcer
	registry := m.registry
	m.mu.Unlock()

	if registry != nil {
		registry.Register(multiagent.RegisterSubagentParams{
			RunID:               sa.ID,
			ChildSessionKey:     sa.SessionID,
			RequesterSessionKey: params.ParentSession,
			Task:                params.Task,
			Label:               params.Name,
			Cleanup:             "keep",
		})
		registry.AttachCancel(sa.ID, cancel)
		_ = registry.Start(sa.ID)
	}

	atomic.AddInt64(&m.activeCount, 1)

	if announcer != nil {
		announcement := fmt.Sprintf("Spawning %s sub-agent %q: %s", agentType, params.Name, params.Task)
		_ = announcer(ctx, params.ParentSession, announcement)
	}

	go m.runSubAgent(runCtx, sa, def)

	return sa, nil
}

// toolACL resolves the definition's tool access plus per-spawn overrides
// into allow/deny lists for the child's tool policy.
func toolACL(def *Definition, extraAllow, extraDeny []string) (allowed, denied []string) {
	switch def.Tools {
	case ToolsNone:
		return nil, []string{"*"}
	case ToolsSpecific:
		allowed = append(allowed, def.SpecificTools...)
	}
	allowed = append(allowed, extraAllow...)
	denied = append(denied, extraDeny...)
	// A spawn must never lend tools the catalog denies to sub-agents.
	denied = append(denied, "spawn_subagent")
	return allowed, denied
}

// runSubAgent executes the sub-agent's isolated step loop: system prompt
// plus task, sequential tools, its own cancellation token.
func (m *Manager) runSubAgent(ctx context.Context, sa *SubAgent, def *Definition) {
	defer atomic.AddInt64(&m.activeCount, -1)
	defer sa.cancel()

	session := &models.Session{
		ID:        sa.SessionID,
		AgentID:   sa.ID,
		CreatedAt: sa.CreatedAt,
		UpdatedAt: sa.CreatedAt,
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sa.SessionID,
		Role:      models.RoleUser,
		Content:   sa.Task,
		CreatedAt: time.Now(),
	}

	resolver := policy.NewResolver()
	toolPolicy := &policy.Policy{Profile: policy.ProfileFull, Allow: sa.AllowedTools, Deny: sa.DeniedTools}
	if len(sa.AllowedTools) > 0 {
		// An explicit allow list narrows the profile to exactly those tools.
		toolPolicy.Profile = ""
	}
	ctx = agent.WithToolPolicy(ctx, resolver, toolPolicy)

	if def.SystemPrompt != "" {
		ctx = agent.WithSystemPrompt(ctx, def.SystemPrompt)
	}
	if def.ModelOverride != "" {
		ctx = agent.WithModel(ctx, def.ModelOverride)
	}

	chunks, err := m.runtime.Process(ctx, session, msg)
	if err != nil {
		m.completeSubAgent(sa.ID, "", err.Error())
		return
	}

	var result string
	for chunk := range chunks {
		if chunk.Error != nil {
			m.completeSubAgent(sa.ID, "", chunk.Error.Error())
			return
		}
		if chunk.ToolEvent != nil && chunk.ToolEvent.Stage == models.ToolEventStarted {
			m.mu.Lock()
			sa.ToolUses++
			m.mu.Unlock()
		}
		if chunk.Event != nil && chunk.Event.Type == models.EventIterationStart {
			m.mu.Lock()
			sa.Steps++
			m.mu.Unlock()
		}
		if chunk.Text != "" {
			result += chunk.Text
		}
	}

	m.completeSubAgent(sa.ID, result, "")
}

// completeSubAgent records a terminal status exactly once.
func (m *Manager) completeSubAgent(id, result, errMsg string) {
	m.mu.Lock()

	sa, ok := m.agents[id]
	if !ok || sa.terminal() {
		m.mu.Unlock()
		return
	}

	sa.CompletedAt = time.Now()
	var status multiagent.SubagentRunStatus
	if errMsg != "" {
		sa.Status = "failed"
		sa.Error = errMsg
		status = multiagent.SubagentStatusError
	} else {
		sa.Status = "completed"
		sa.Result = result
		status = multiagent.SubagentStatusCompleted
	}
	registry := m.registry
	parentSession := sa.ParentSession
	announcer := m.announcer
	name := sa.Name
	m.mu.Unlock()

	if registry != nil {
		_ = registry.Complete(id, &multiagent.SubagentOutcome{
			Status: status,
			Error:  errMsg,
			Result: result,
		})
	}

	m.queue.Enqueue(parentSession, &AnnounceQueueItem{
		Prompt:      fmt.Sprintf("sub-agent %q finished: %s", name, firstNonEmpty(errMsg, "ok")),
		SummaryLine: fmt.Sprintf("%s: %s", name, firstNonEmpty(errMsg, "completed")),
		EnqueuedAt:  time.Now(),
		SessionKey:  parentSession,
	}, nil)
	if announcer != nil {
		_ = announcer(context.Background(), parentSession, fmt.Sprintf("Sub-agent %q finished", name))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Get returns a sub-agent by ID.
func (m *Manager) Get(id string) (*SubAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sa, ok := m.agents[id]
	return sa, ok
}

// List returns all sub-agents for a parent.
func (m *Manager) List(parentID string) []*SubAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*SubAgent
	for _, sa := range m.agents {
		if sa.ParentID == parentID {
			result = append(result, sa)
		}
	}
	return result
}

// Kill cancels a running sub-agent via its token. The record stays.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()

	sa, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("sub-agent not found: %s", id)
	}
	if sa.terminal() {
		m.mu.Unlock()
		return fmt.Errorf("sub-agent already %s: %s", sa.Status, id)
	}

	sa.Status = "killed"
	sa.CompletedAt = time.Now()
	sa.Error = "killed by request"
	cancel := sa.cancel
	registry := m.registry
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if registry != nil {
		_ = registry.Kill(id)
	}
	return nil
}

// Remove deletes a terminal sub-agent record.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sa, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("sub-agent not found: %s", id)
	}
	if !sa.terminal() {
		return fmt.Errorf("sub-agent still running: %s", id)
	}
	delete(m.agents, id)
	if m.registry != nil {
		m.registry.Delete(id)
	}
	return nil
}

// ActiveCount returns the number of active sub-agents.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.activeCount))
}

// SpawnTool is a tool for spawning sub-agents.
type SpawnTool struct {
	manager *Manager
}

// NewSpawnTool creates a new spawn tool.
func NewSpawnTool(manager *Manager) *SpawnTool {
	return &SpawnTool{manager: manager}
}

func (t *SpawnTool) Name() string {
	return "spawn_subagent"
}

func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent to work on a specific task. Returns the sub-agent ID for tracking."
}

func (t *SpawnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_type": {"type": "string", "enum": ["general", "explore", "plan", "custom"], "description": "Which sub-agent template to use (default: general)"},
			"name": {"type": "string", "description": "A short name for the sub-agent (e.g., 'researcher', 'coder')"},
			"task": {"type": "string", "description": "The task for the sub-agent to complete"},
			"allowed_tools": {"type": "array", "items": {"type": "string"}, "description": "Extra tools to lend beyond the template's access"},
			"denied_tools": {"type": "array", "items": {"type": "string"}, "description": "Tools the sub-agent must not use"}
		},
		"required": ["name", "task"]
	}`)
}

// Execute spawns a sub-agent.
func (t *SpawnTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		AgentType    string   `json:"agent_type"`
		Name         string   `json:"name"`
		Task         string   `json:"task"`
		AllowedTools []string `json:"allowed_tools"`
		DeniedTools  []string `json:"denied_tools"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if params.Name == "" {
		return &agent.ToolResult{Content: "name is required", IsError: true}, nil
	}
	if params.Task == "" {
		return &agent.ToolResult{Content: "task is required", IsError: true}, nil
	}

	parentID := ""
	parentSession := ""
	if session := agent.SessionFromContext(ctx); session != nil {
		parentID = session.AgentID
		parentSession = session.ID
	}

	sa, err := t.manager.Spawn(ctx, SpawnParams{
		ParentID:      parentID,
		ParentSession: parentSession,
		AgentType:     AgentType(params.AgentType),
		Name:          params.Name,
		Task:          params.Task,
		AllowedTools:  params.AllowedTools,
		DeniedTools:   params.DeniedTools,
	})
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Sub-agent '%s' spawned with ID: %s\nTask: %s\nUse subagent_status to check progress.", params.Name, sa.ID, params.Task),
	}, nil
}

// StatusTool is a tool for checking sub-agent status.
type StatusTool struct {
	manager *Manager
}

// NewStatusTool creates a new status tool.
func NewStatusTool(manager *Manager) *StatusTool {
	return &StatusTool{manager: manager}
}

func (t *StatusTool) Name() string {
	return "subagent_status"
}

func (t *StatusTool) Description() string {
	return "Check the status of a sub-agent or list all sub-agents."
}

func (t *StatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Sub-agent ID to check (optional, omit to list all)"}
		}
	}`)
}

// Execute checks sub-agent status.
func (t *StatusTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}

	if params.ID != "" {
		sa, ok := t.manager.Get(params.ID)
		if !ok {
			return &agent.ToolResult{Content: "sub-agent not found: " + params.ID, IsError: true}, nil
		}

		result := fmt.Sprintf("Sub-agent: %s (%s)\nStatus: %s\nTask: %s\nSteps: %d, tool uses: %d\n",
			sa.Name, sa.ID, sa.Status, sa.Task, sa.Steps, sa.ToolUses)
		if sa.Status == "completed" {
			result += fmt.Sprintf("Result: %s\n", sa.Result)
		}
		if sa.Status == "failed" || sa.Status == "killed" {
			result += fmt.Sprintf("Error: %s\n", sa.Error)
		}
		return &agent.ToolResult{Content: result}, nil
	}

	parentID := ""
	if session := agent.SessionFromContext(ctx); session != nil {
		parentID = session.AgentID
	}

	agents := t.manager.List(parentID)
	if len(agents) == 0 {
		return &agent.ToolResult{Content: "No sub-agents found."}, nil
	}

	result := fmt.Sprintf("Active sub-agents: %d/%d\n\n", t.manager.ActiveCount(), t.manager.maxActive)
	for _, sa := range agents {
		result += fmt.Sprintf("- %s (%s): %s - %s\n", sa.Name, sa.ID, sa.Status, truncate(sa.Task, 50))
	}
	return &agent.ToolResult{Content: result}, nil
}

// CancelTool is a tool for cancelling sub-agents.
type CancelTool struct {
	manager *Manager
}

// NewCancelTool creates a new cancel tool.
func NewCancelTool(manager *Manager) *CancelTool {
	return &CancelTool{manager: manager}
}

func (t *CancelTool) Name() string {
	return "subagent_cancel"
}

func (t *CancelTool) Description() string {
	return "Cancel a running sub-agent."
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Sub-agent ID to cancel"}
		},
		"required": ["id"]
	}`)
}

// Execute cancels a sub-agent.
func (t *CancelTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if params.ID == "" {
		return &agent.ToolResult{Content: "id is required", IsError: true}, nil
	}

	if err := t.manager.Kill(params.ID); err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf("Sub-agent %s cancelled.", params.ID)}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
