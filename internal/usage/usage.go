// Package usage tracks per-provider token accounting surfaced by the
// LLM Orchestrator's Usage field (prompt/completion/cache tokens) and
// exposed to the agent through the provider_usage tool.
package usage

import "fmt"

// ProviderUsage is a point-in-time snapshot of one provider's accumulated
// token usage for the running session.
type ProviderUsage struct {
	Provider           string `json:"provider"`
	PromptTokens       int64  `json:"prompt_tokens"`
	CompletionTokens   int64  `json:"completion_tokens"`
	TotalTokens        int64  `json:"total_tokens"`
	CacheReadTokens    int64  `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int64 `json:"cache_creation_tokens,omitempty"`
	FetchedAt          int64  `json:"fetched_at"`
}

// FormatProviderUsage renders a usage snapshot as human-readable text for
// the provider_usage tool's response content.
func FormatProviderUsage(u *ProviderUsage) string {
	if u == nil {
		return "No usage data."
	}
	return fmt.Sprintf(
		"Provider: %s\nPrompt tokens: %d\nCompletion tokens: %d\nTotal tokens: %d\nCache read tokens: %d\nCache creation tokens: %d",
		u.Provider, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.CacheReadTokens, u.CacheCreationTokens,
	)
}
