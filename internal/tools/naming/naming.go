// Package naming gives every tool in the catalog, built-in or proxied in
// from an MCP server, one canonical, collision-checked name.
package naming

import (
	"fmt"
	"strings"
	"sync"
)

// ToolSource identifies where a tool identity originated.
type ToolSource string

const (
	SourceCore ToolSource = "core"
	SourceMCP  ToolSource = "mcp"
)

// ToolIdentity is the canonical record for one named tool.
type ToolIdentity struct {
	CanonicalName string
	Source        ToolSource
	ServerID      string // MCP server id; empty for core tools
	LocalName     string // the tool's own name, unqualified
}

// CoreTool builds the identity for a built-in tool.
func CoreTool(name string) ToolIdentity {
	return ToolIdentity{CanonicalName: "core." + name, Source: SourceCore, LocalName: name}
}

// MCPTool builds the identity for a tool proxied from an MCP server.
func MCPTool(serverID, toolName string) ToolIdentity {
	return ToolIdentity{
		CanonicalName: fmt.Sprintf("mcp:%s.%s", serverID, toolName),
		Source:        SourceMCP,
		ServerID:      serverID,
		LocalName:     toolName,
	}
}

// CollisionError is returned when a canonical name is already registered.
type CollisionError struct {
	CanonicalName string
}

func (e CollisionError) Error() string {
	return fmt.Sprintf("tool name collision: %q is already registered", e.CanonicalName)
}

// DefaultCoreAliases returns the short names core tools are commonly called
// by, mapped to their canonical "core.<name>" form.
func DefaultCoreAliases() map[string]string {
	return map[string]string{
		"read":    "core.read",
		"write":   "core.write",
		"edit":    "core.edit",
		"bash":    "core.bash",
		"exec":    "core.exec",
		"browser": "core.browser",
		"sandbox": "core.sandbox",
	}
}

// ToolRegistry maps aliases and canonical names to tool identities.
type ToolRegistry struct {
	mu       sync.RWMutex
	byName   map[string]ToolIdentity // canonical name -> identity
	aliases  map[string]string       // alias -> canonical name
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		byName:  make(map[string]ToolIdentity),
		aliases: make(map[string]string),
	}
}

// Register adds an identity, rejecting a name that already exists.
func (r *ToolRegistry) Register(identity ToolIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[identity.CanonicalName]; exists {
		return CollisionError{CanonicalName: identity.CanonicalName}
	}
	r.byName[identity.CanonicalName] = identity
	return nil
}

// Unregister removes a canonical name.
func (r *ToolRegistry) Unregister(canonicalName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, canonicalName)
}

// RegisterAlias maps a short alias to a canonical name.
func (r *ToolRegistry) RegisterAlias(alias, canonical string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.aliases[alias]; ok && existing != canonical {
		return CollisionError{CanonicalName: alias}
	}
	r.aliases[alias] = canonical
	return nil
}

// Resolve looks up an identity by canonical name or alias.
func (r *ToolRegistry) Resolve(name string) (ToolIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if identity, ok := r.byName[name]; ok {
		return identity, true
	}
	if canonical, ok := r.aliases[name]; ok {
		identity, ok := r.byName[canonical]
		return identity, ok
	}
	return ToolIdentity{}, false
}

// ResolveCanonical returns the canonical name for an alias or name, or the
// input unchanged if it resolves to nothing known.
func (r *ToolRegistry) ResolveCanonical(name string) string {
	if identity, ok := r.Resolve(name); ok {
		return identity.CanonicalName
	}
	return name
}

// All returns every registered identity.
func (r *ToolRegistry) All() []ToolIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolIdentity, 0, len(r.byName))
	for _, identity := range r.byName {
		out = append(out, identity)
	}
	return out
}

// BySource filters registered identities by source.
func (r *ToolRegistry) BySource(source ToolSource) []ToolIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ToolIdentity
	for _, identity := range r.byName {
		if identity.Source == source {
			out = append(out, identity)
		}
	}
	return out
}

// Matching returns identities whose canonical name contains pattern.
func (r *ToolRegistry) Matching(pattern string) []ToolIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ToolIdentity
	for _, identity := range r.byName {
		if strings.Contains(identity.CanonicalName, pattern) {
			out = append(out, identity)
		}
	}
	return out
}
