package subagent

import (
	"sort"
	"sync"
)

// AgentType names a sub-agent definition.
type AgentType string

const (
	AgentGeneral AgentType = "general"
	AgentExplore AgentType = "explore"
	AgentPlan    AgentType = "plan"
	AgentCustom  AgentType = "custom"
)

// ToolAccess declares which of the parent's tools a definition lends to
// its children.
type ToolAccess string

const (
	ToolsAll      ToolAccess = "all"
	ToolsSpecific ToolAccess = "specific"
	ToolsNone     ToolAccess = "none"
)

// Definition is a reusable sub-agent template: what it's for, which tools
// it may borrow, and how it's prompted.
type Definition struct {
	AgentType     AgentType `json:"agent_type" yaml:"agent_type"`
	Name          string    `json:"name" yaml:"name"`
	Description   string    `json:"description" yaml:"description"`
	Tools         ToolAccess `json:"tools" yaml:"tools"`
	SpecificTools []string  `json:"specific_tools,omitempty" yaml:"specific_tools,omitempty"`
	ModelOverride string    `json:"model_override,omitempty" yaml:"model_override,omitempty"`
	SystemPrompt  string    `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// Definitions is a registry of sub-agent templates keyed by agent type.
type Definitions struct {
	mu   sync.RWMutex
	defs map[AgentType]*Definition
}

// NewDefinitions returns a registry pre-seeded with the built-in types.
// Registering builtins twice yields the same set.
func NewDefinitions() *Definitions {
	d := &Definitions{defs: make(map[AgentType]*Definition)}
	d.RegisterBuiltins()
	return d
}

// RegisterBuiltins installs the built-in general/explore/plan definitions.
// Idempotent.
func (d *Definitions) RegisterBuiltins() {
	d.Register(&Definition{
		AgentType:   AgentGeneral,
		Name:        "general",
		Description: "Full-capability worker for self-contained tasks.",
		Tools:       ToolsAll,
		SystemPrompt: "You are a capable autonomous worker. Complete the assigned task " +
			"and reply with the result; your final message is returned to the requester verbatim.",
	})
	d.Register(&Definition{
		AgentType:     AgentExplore,
		Name:          "explore",
		Description:   "Read-only codebase and filesystem exploration.",
		Tools:         ToolsSpecific,
		SpecificTools: []string{"read", "exec"},
		SystemPrompt: "You explore and report. Read files and run read-only commands, " +
			"then summarize what you found. Never modify anything.",
	})
	d.Register(&Definition{
		AgentType:   AgentPlan,
		Name:        "plan",
		Description: "Produces a plan without touching any tools.",
		Tools:       ToolsNone,
		SystemPrompt: "You write implementation plans. Think through the task and reply " +
			"with a concrete, ordered plan. You have no tools.",
	})
}

// Register adds or replaces a definition.
func (d *Definitions) Register(def *Definition) {
	if def == nil || def.AgentType == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs[def.AgentType] = def
}

// Get resolves a definition by agent type.
func (d *Definitions) Get(agentType AgentType) (*Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[agentType]
	return def, ok
}

// Types lists the registered agent types in stable order.
func (d *Definitions) Types() []AgentType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]AgentType, 0, len(d.defs))
	for t := range d.defs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
