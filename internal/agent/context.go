package agent

import (
	"context"

	"github.com/agentcore/engine/internal/tools/policy"
	"github.com/agentcore/engine/pkg/models"
)

type sessionKey struct{}
type systemPromptKey struct{}
type modelKey struct{}
type toolPolicyKey struct{}
type toolResolverKey struct{}

// WithSession attaches the owning session so tools can learn who spawned
// them.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the session attached by WithSession, or nil.
func SessionFromContext(ctx context.Context) *models.Session {
	session, _ := ctx.Value(sessionKey{}).(*models.Session)
	return session
}

// WithSystemPrompt overrides the loop's default system prompt for this run.
func WithSystemPrompt(ctx context.Context, prompt string) context.Context {
	return context.WithValue(ctx, systemPromptKey{}, prompt)
}

func systemPromptFromContext(ctx context.Context) (string, bool) {
	prompt, ok := ctx.Value(systemPromptKey{}).(string)
	return prompt, ok
}

// WithModel overrides the loop's default model for this run.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey{}, model)
}

func modelFromContext(ctx context.Context) (string, bool) {
	model, ok := ctx.Value(modelKey{}).(string)
	return model, ok
}

// WithToolPolicy scopes this run's tool view: the loop filters the catalog
// and rejects calls the policy denies.
func WithToolPolicy(ctx context.Context, resolver *policy.Resolver, toolPolicy *policy.Policy) context.Context {
	ctx = context.WithValue(ctx, toolResolverKey{}, resolver)
	return context.WithValue(ctx, toolPolicyKey{}, toolPolicy)
}

func toolPolicyFromContext(ctx context.Context) (*policy.Resolver, *policy.Policy, bool) {
	resolver, ok1 := ctx.Value(toolResolverKey{}).(*policy.Resolver)
	toolPolicy, ok2 := ctx.Value(toolPolicyKey{}).(*policy.Policy)
	return resolver, toolPolicy, ok1 && ok2 && resolver != nil && toolPolicy != nil
}
