// Package policy provides tool authorization and access control.
// This file implements the per-call permission gate: a tool self-assesses
// what a call requires, and the gate resolves that against cached decisions
// and an interactive handler.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"github.com/agentcore/engine/pkg/models"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoAskHandler     = errors.New("no handler available for permission prompt")
)

// RiskLevel grades how much damage a tool call could do if it goes wrong.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PermissionKind is a tool's self-assessed requirement for one call.
type PermissionKind string

const (
	PermissionAllow PermissionKind = "allow"
	PermissionDeny  PermissionKind = "deny"
	PermissionAsk   PermissionKind = "ask"
)

// PermissionResult is what a tool's CheckPermission returns: allow the call,
// deny it with a reason, or ask the user with a question and a default.
type PermissionResult struct {
	Kind     PermissionKind
	Reason   string       // set when Kind == PermissionDeny
	Question string       // set when Kind == PermissionAsk
	Default  DecisionKind // what Ask resolves to when nobody answers
	Risk     RiskLevel
}

// AllowResult reports that the call needs no interaction.
func AllowResult() PermissionResult {
	return PermissionResult{Kind: PermissionAllow}
}

// DenyResult reports that the call must not run.
func DenyResult(reason string) PermissionResult {
	return PermissionResult{Kind: PermissionDeny, Reason: reason}
}

// AskResult reports that the call needs a user decision before running.
func AskResult(question string, def DecisionKind, risk RiskLevel) PermissionResult {
	return PermissionResult{Kind: PermissionAsk, Question: question, Default: def, Risk: risk}
}

// DecisionKind is the resolved verdict after the handler (or cache) weighs in.
type DecisionKind string

const (
	DecisionAllow       DecisionKind = "allow"
	DecisionAllowAlways DecisionKind = "allow_always"
	DecisionDeny        DecisionKind = "deny"
	DecisionDenyAlways  DecisionKind = "deny_always"
	DecisionModify      DecisionKind = "modify"
)

// PermissionDecision is the handler's answer to an Ask, or a cached verdict.
// NewCall is set only for DecisionModify: the gate substitutes it for the
// original call and re-checks.
type PermissionDecision struct {
	Kind    DecisionKind
	Reason  string
	NewCall *models.ToolCall
}

// Allowed reports whether the decided call may execute.
func (d PermissionDecision) Allowed() bool {
	return d.Kind == DecisionAllow || d.Kind == DecisionAllowAlways || d.Kind == DecisionModify
}

// PermissionContext carries the environment a permission check runs in.
type PermissionContext struct {
	WorkingDir string
	SessionID  string
	AgentID    string
	Sandboxed  bool
	AllowPaths []string
	DenyPaths  []string
	Flags      map[string]bool
}

// Flag returns the named custom boolean, false when unset.
func (c PermissionContext) Flag(name string) bool {
	return c.Flags[name]
}

// PermissionChecker is implemented by tools that self-assess calls. Tools
// that don't implement it are treated as PermissionAllow and gated only by
// the static policy lists.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, call models.ToolCall, pctx PermissionContext) PermissionResult
}

// AskHandler turns an Ask result into a decision, typically by prompting the
// user. A nil handler resolves to the Ask's declared default.
type AskHandler func(ctx context.Context, call models.ToolCall, ask PermissionResult) PermissionDecision

// Gate resolves per-call permissions. Decisions are cached keyed on
// (tool name, argument digest); only the sticky kinds (AllowAlways,
// DenyAlways) survive past the call that produced them.
type Gate struct {
	mu       sync.RWMutex
	resolver *Resolver
	policy   *Policy
	handler  AskHandler
	checkers map[string]PermissionChecker
	sticky   map[string]PermissionDecision
}

// NewGate builds a gate over the given static policy. resolver and policy
// may be nil, in which case only per-tool checkers and the handler apply.
func NewGate(resolver *Resolver, policy *Policy) *Gate {
	return &Gate{
		resolver: resolver,
		policy:   policy,
		checkers: make(map[string]PermissionChecker),
		sticky:   make(map[string]PermissionDecision),
	}
}

// SetAskHandler installs the interactive handler. Safe to call while the
// gate is in use.
func (g *Gate) SetAskHandler(fn AskHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = fn
}

// RegisterChecker attaches a self-assessment checker for one tool.
func (g *Gate) RegisterChecker(toolName string, checker PermissionChecker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkers[NormalizeTool(toolName)] = checker
}

// CacheKey is the decision-cache key for one concrete call: the normalized
// tool name plus an FNV-64a digest of its normalized arguments.
func CacheKey(call models.ToolCall) string {
	return NormalizeTool(call.Name) + ":" + strconv.FormatUint(ArgsDigest(call.Input), 10)
}

// ArgsDigest hashes a call's raw JSON arguments after normalizing object key
// order, so two calls with the same arguments digest identically regardless
// of how the provider serialized them.
func ArgsDigest(input json.RawMessage) uint64 {
	h := fnv.New64a()
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		// Not a JSON object (or empty); digest the raw bytes as-is.
		h.Write(input)
		return h.Sum64()
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		b, err := json.Marshal(args[k])
		if err != nil {
			b = []byte(fmt.Sprintf("%v", args[k]))
		}
		h.Write(b)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Authorize runs the full two-step handshake for one call: static policy,
// cached sticky decision, the tool's own check, then the handler for Ask.
// The returned decision is final; callers must not execute a call whose
// decision is not Allowed.
func (g *Gate) Authorize(ctx context.Context, call models.ToolCall, pctx PermissionContext) PermissionDecision {
	name := NormalizeTool(call.Name)

	// Static policy first: an explicit deny is not negotiable.
	g.mu.RLock()
	resolver, pol := g.resolver, g.policy
	g.mu.RUnlock()
	if resolver != nil && pol != nil {
		if d := resolver.Decide(pol, name); !d.Allowed {
			return PermissionDecision{Kind: DecisionDeny, Reason: d.Reason}
		}
	}

	key := CacheKey(call)
	g.mu.RLock()
	cached, hit := g.sticky[key]
	checker := g.checkers[name]
	handler := g.handler
	g.mu.RUnlock()
	if hit {
		return cached
	}

	result := AllowResult()
	if checker != nil {
		result = checker.CheckPermission(ctx, call, pctx)
	}

	var decision PermissionDecision
	switch result.Kind {
	case PermissionAllow:
		decision = PermissionDecision{Kind: DecisionAllow}
	case PermissionDeny:
		decision = PermissionDecision{Kind: DecisionDeny, Reason: result.Reason}
	case PermissionAsk:
		decision = g.resolveAsk(ctx, call, result, handler)
	default:
		decision = PermissionDecision{Kind: DecisionDeny, Reason: fmt.Sprintf("unknown permission kind %q", result.Kind)}
	}

	if decision.Kind == DecisionModify {
		if decision.NewCall == nil {
			return PermissionDecision{Kind: DecisionDeny, Reason: "modify decision carried no replacement call"}
		}
		// Re-check the substituted call; a handler cannot modify its way
		// past the static policy or a second Ask.
		replaced := *decision.NewCall
		inner := g.Authorize(ctx, replaced, pctx)
		if !inner.Allowed() {
			return inner
		}
		return decision
	}

	switch decision.Kind {
	case DecisionAllowAlways, DecisionDenyAlways:
		g.mu.Lock()
		g.sticky[key] = decision
		g.mu.Unlock()
	}
	return decision
}

func (g *Gate) resolveAsk(ctx context.Context, call models.ToolCall, ask PermissionResult, handler AskHandler) PermissionDecision {
	if handler == nil {
		def := ask.Default
		if def == "" {
			def = DecisionDeny
		}
		return PermissionDecision{Kind: def, Reason: "no interactive handler; applied prompt default"}
	}
	return handler(ctx, call, ask)
}

// ResetSession clears the sticky decision cache, e.g. when a new session
// begins and AllowAlways grants should not carry over.
func (g *Gate) ResetSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sticky = make(map[string]PermissionDecision)
}

// StickyCount reports how many always-decisions are currently cached.
func (g *Gate) StickyCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sticky)
}
