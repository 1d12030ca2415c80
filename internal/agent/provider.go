package agent

import (
	"context"

	"github.com/agentcore/engine/pkg/models"
)

// LLMProvider is the capability every provider binding implements. All
// bindings normalize their wire format into CompletionChunk before anything
// downstream sees it; the step loop never learns which provider it is on.
type LLMProvider interface {
	// Complete streams one completion. The returned channel closes when the
	// stream ends; a terminal failure arrives as a chunk with Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name identifies the binding ("anthropic", "openai", ...).
	Name() string

	// Models lists the models this binding can serve.
	Models() []Model

	// SupportsTools reports whether the binding can carry tool schemas.
	SupportsTools() bool
}

// CompletionRequest is one LLM call: system prompt, history slice, tool
// schemas, and model parameters.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []Tool              `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`

	// EnableThinking asks for extended reasoning on models that support it;
	// ThinkingBudgetTokens bounds it.
	EnableThinking       bool `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is one turn as sent to a provider: text, tool calls the
// assistant issued, results for those calls, or attachments for vision
// models. Role is "system", "user", "assistant", or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one streamed increment. Text chunks arrive repeatedly;
// a ToolCall arrives complete; Done carries the final token counts when the
// provider reports them. Thinking deltas stream between ThinkingStart and
// ThinkingEnd markers.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`

	// Populated on the Done chunk only, zero when the provider is silent.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes one servable model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	ContextSize    int    `json:"context_size,omitempty"`
	SupportsVision bool   `json:"supports_vision,omitempty"`
}

// ResponseChunk is what the step loop streams to its caller: text and
// thinking deltas, tool lifecycle events, sequenced runtime events, and
// terminal errors.
type ResponseChunk struct {
	Text          string               `json:"text,omitempty"`
	Thinking      string               `json:"thinking,omitempty"`
	ThinkingStart bool                 `json:"thinking_start,omitempty"`
	ThinkingEnd   bool                 `json:"thinking_end,omitempty"`
	ToolResult    *models.ToolResult   `json:"tool_result,omitempty"`
	ToolEvent     *models.ToolEvent    `json:"tool_event,omitempty"`
	Event         *models.RuntimeEvent `json:"event,omitempty"`
	Error         error                `json:"-"`

	// Artifacts carries files/media produced by tool executions, for
	// callers that convert them to attachments.
	Artifacts []Artifact `json:"artifacts,omitempty"`
}
