// Package routing selects a provider binding per request when more than
// one is configured, using content heuristics and a failure cooldown.
package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/engine/internal/agent"
)

// Target names a destination binding and optional model override.
type Target struct {
	Provider string
	Model    string
}

// Classifier assigns content tags ("code", "reasoning", "quick") to a
// request.
type Classifier interface {
	Classify(req *agent.CompletionRequest) []string
}

// Config configures a Router.
type Config struct {
	// DefaultProvider answers requests no tag routes elsewhere.
	DefaultProvider string

	// TagTargets routes a classifier tag to a binding; first matching tag
	// in classification order wins.
	TagTargets map[string]Target

	// Fallback is tried when the routed binding fails.
	Fallback Target

	// FailureCooldown sidelines a binding after a failed call. Zero
	// disables health tracking.
	FailureCooldown time.Duration

	Classifier Classifier
}

// Router is itself an LLMProvider: it fans one request across the
// configured bindings until one accepts.
type Router struct {
	defaultProvider string
	providers       map[string]agent.LLMProvider
	tagTargets      map[string]Target
	fallback        Target
	classifier      Classifier
	failureCooldown time.Duration

	healthMu  sync.Mutex
	unhealthy map[string]time.Time
}

// NewRouter creates a Router over the given bindings.
func NewRouter(cfg Config, providers map[string]agent.LLMProvider) *Router {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = &HeuristicClassifier{}
	}
	normalized := make(map[string]agent.LLMProvider, len(providers))
	for name, p := range providers {
		normalized[normalizeID(name)] = p
	}
	return &Router{
		defaultProvider: normalizeID(cfg.DefaultProvider),
		providers:       normalized,
		tagTargets:      cfg.TagTargets,
		fallback:        cfg.Fallback,
		classifier:      classifier,
		failureCooldown: cfg.FailureCooldown,
		unhealthy:       make(map[string]time.Time),
	}
}

// Complete routes the request: tag target first, then fallback, then the
// default binding. A binding that fails is sidelined for the cooldown.
func (r *Router) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, errInvalidRequest("request is nil")
	}

	var lastErr error
	for _, c := range r.candidates(req) {
		copyReq := *req
		if copyReq.Model == "" && c.model != "" {
			copyReq.Model = c.model
		}
		stream, err := c.provider.Complete(ctx, &copyReq)
		if err == nil {
			return stream, nil
		}
		r.markUnhealthy(c.name)
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errInvalidRequest("no providers configured")
}

// Name identifies the router binding.
func (r *Router) Name() string {
	if r.defaultProvider == "" {
		return "router"
	}
	return "router:" + r.defaultProvider
}

// Models returns the union of models across bindings.
func (r *Router) Models() []agent.Model {
	var models []agent.Model
	seen := make(map[string]struct{})
	for _, provider := range r.providers {
		for _, model := range provider.Models() {
			if _, ok := seen[model.ID]; ok {
				continue
			}
			seen[model.ID] = struct{}{}
			models = append(models, model)
		}
	}
	return models
}

// SupportsTools reports whether any binding carries tools.
func (r *Router) SupportsTools() bool {
	for _, provider := range r.providers {
		if provider.SupportsTools() {
			return true
		}
	}
	return false
}

type candidate struct {
	provider agent.LLMProvider
	model    string
	name     string
}

// candidates orders the healthy bindings to try. Requests carrying tools
// only consider tool-capable bindings.
func (r *Router) candidates(req *agent.CompletionRequest) []candidate {
	seen := make(map[string]struct{})
	var out []candidate

	add := func(name, model string) {
		name = normalizeID(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		if !r.isHealthy(name) {
			return
		}
		provider := r.providers[name]
		if provider == nil {
			return
		}
		if len(req.Tools) > 0 && !provider.SupportsTools() {
			return
		}
		seen[name] = struct{}{}
		out = append(out, candidate{provider: provider, model: model, name: name})
	}

	if target, ok := r.targetForTags(req); ok {
		add(target.Provider, target.Model)
	} else {
		add(r.defaultProvider, "")
	}
	add(r.fallback.Provider, r.fallback.Model)
	add(r.defaultProvider, "")

	// Last resort for tool-carrying requests: any tool-capable binding.
	if len(out) == 0 && len(req.Tools) > 0 {
		for name := range r.providers {
			add(name, "")
		}
	}
	return out
}

// targetForTags returns the first configured target whose tag the
// classifier assigned.
func (r *Router) targetForTags(req *agent.CompletionRequest) (Target, bool) {
	if len(r.tagTargets) == 0 {
		return Target{}, false
	}
	for _, tag := range r.classifier.Classify(req) {
		if target, ok := r.tagTargets[strings.ToLower(tag)]; ok {
			return target, true
		}
	}
	return Target{}, false
}

func (r *Router) isHealthy(name string) bool {
	if r.failureCooldown <= 0 {
		return true
	}
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	until, ok := r.unhealthy[name]
	if !ok {
		return true
	}
	if time.Now().After(until) {
		delete(r.unhealthy, name)
		return true
	}
	return false
}

func (r *Router) markUnhealthy(name string) {
	if r.failureCooldown <= 0 {
		return
	}
	r.healthMu.Lock()
	r.unhealthy[name] = time.Now().Add(r.failureCooldown)
	r.healthMu.Unlock()
}

func lastUserContent(req *agent.CompletionRequest) string {
	if req == nil {
		return ""
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func errInvalidRequest(msg string) error {
	return fmt.Errorf("routing: %s", msg)
}
