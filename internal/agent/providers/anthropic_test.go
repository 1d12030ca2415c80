package providers

import (
	"encoding/json"
	"testing"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/pkg/models"
)

func TestAnthropicMessagesSkipSystem(t *testing.T) {
	msgs, err := anthropicMessages([]agent.CompletionMessage{
		{Role: "system", Content: "hoisted elsewhere"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (system skipped)", len(msgs))
	}
}

func TestAnthropicMessagesToolRound(t *testing.T) {
	history := []agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "read", Input: json.RawMessage(`{"path":"/tmp/a"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			models.ToolFailure("tc-1", "read", "no such file"),
		}},
	}
	msgs, err := anthropicMessages(history)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// Tool-role turns ride as user messages in the Messages API.
	if string(msgs[1].Role) != "user" {
		t.Errorf("tool result message role = %s, want user", msgs[1].Role)
	}
}

func TestAnthropicMessagesRejectBadToolInput(t *testing.T) {
	_, err := anthropicMessages([]agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "read", Input: json.RawMessage(`not json`)},
		}},
	})
	if err == nil {
		t.Fatal("expected error for invalid tool input")
	}
}

func TestAnthropicToolsMapping(t *testing.T) {
	tools, err := anthropicTools([]agent.Tool{stubTool{}})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].OfTool.Name != "stub" {
		t.Errorf("tool name = %q", tools[0].OfTool.Name)
	}
}

func TestAnthropicProviderIdentity(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "key"})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if p.Name() != "anthropic" || !p.SupportsTools() {
		t.Errorf("identity: name=%s tools=%v", p.Name(), p.SupportsTools())
	}
	if len(p.Models()) == 0 {
		t.Error("expected a model catalog")
	}
}
