// Package models defines the wire- and history-level data types shared
// across the executor, orchestrator, tool executor, and sub-agent packages.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageDirection distinguishes messages entering the engine from messages
// it produced. Only surfaces that persist transcripts care; the step loop
// itself never branches on it.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Message is one turn in a conversation history. Mutation is confined to
// the owning executor's history list; nothing else may hold a writable
// reference to a history slice.
type Message struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id,omitempty"`
	SequenceNum int64            `json:"sequence_num,omitempty"`
	Role        Role             `json:"role"`
	Content     string           `json:"content"`
	ToolCalls   []ToolCall       `json:"tool_calls,omitempty"`
	ToolCallID  string           `json:"tool_call_id,omitempty"`
	ToolResults []ToolResult     `json:"tool_results,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Channel     ChannelType      `json:"channel,omitempty"`
	ChannelID   string           `json:"channel_id,omitempty"`
	Direction   MessageDirection `json:"direction,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Compaction boundary/summary metadata keys. See internal/compaction.
const (
	MetaCompactBoundary  = "compact_boundary"
	MetaCompactSummary   = "compact_summary"
	MetaCompactID        = "compact_id"
	MetaCompactTimestamp = "compact_timestamp"
	MetaMessagesCompact  = "messages_compacted"
	MetaTokensBefore     = "tokens_before"
	MetaTokensAfter      = "tokens_after"
)

// IsCompactBoundary reports whether m is a boundary marker message.
func (m Message) IsCompactBoundary() bool {
	if m.Metadata == nil {
		return false
	}
	v, _ := m.Metadata[MetaCompactBoundary].(bool)
	return v
}

// ToolCall is an LLM's request to execute a named tool with structured
// arguments. ID is provider-assigned when the provider supplies one,
// otherwise generated.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool invocation. Exactly one of
// Output/Error is non-empty when Success is false; Output may be empty on
// success.
type ToolResult struct {
	ToolCallID  string         `json:"call_id"`
	ToolName    string         `json:"tool_name"`
	Success     bool           `json:"success"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToolOutput builds a successful result.
func ToolOutput(callID, toolName, output string) ToolResult {
	return ToolResult{ToolCallID: callID, ToolName: toolName, Success: true, Output: output}
}

// ToolFailure builds a failed result carrying the error text.
func ToolFailure(callID, toolName, errText string) ToolResult {
	return ToolResult{ToolCallID: callID, ToolName: toolName, Success: false, Error: errText}
}

// Text returns whichever of Output/Error this result carries. Tool-role
// history messages and provider adapters render this.
func (r ToolResult) Text() string {
	if !r.Success && r.Error != "" {
		return r.Error
	}
	return r.Output
}

// Failed reports the inverse of Success.
func (r ToolResult) Failed() bool { return !r.Success }

// SetText replaces whichever of Output/Error this result carries. Context
// pruning uses it to trim bulky results in place without flipping outcome.
func (r *ToolResult) SetText(s string) {
	if !r.Success && r.Error != "" {
		r.Error = s
		return
	}
	r.Output = s
}

// WithMeta attaches a metadata key, allocating the map on first use.
func (r ToolResult) WithMeta(key string, value any) ToolResult {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// Attachment is a file or media reference carried on a message or tool
// result, already resolved to a URL (possibly a data: URL).
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ToolSchema describes a tool's name, human description, and JSON-Schema
// parameter shape. Validated before dispatch by internal/toolexec.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage carries token accounting extracted from a provider response. Zero
// value means the provider did not report usage for this call; the
// orchestrator never synthesises missing fields.
type Usage struct {
	PromptTokens      int `json:"prompt_tokens,omitempty"`
	CompletionTokens  int `json:"completion_tokens,omitempty"`
	CacheReadTokens   int `json:"cache_read_tokens,omitempty"`
	CacheCreateTokens int `json:"cache_creation_tokens,omitempty"`
}

// ChannelType identifies the surface a session was opened on. The core
// engine only ever needs to compare/store this tag; it does not interpret
// channel semantics itself (that belongs to a collaborator).
type ChannelType string

const (
	ChannelAPI ChannelType = "api"
	ChannelCLI ChannelType = "cli"
)

// Session identifies one conversation thread owned by a Unified Executor run.
type Session struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Channel   ChannelType    `json:"channel,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Key       string         `json:"key,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
