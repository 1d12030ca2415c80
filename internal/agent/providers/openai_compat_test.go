package providers

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/pkg/models"
)

func TestOpenAIMessagesSystemLeads(t *testing.T) {
	msgs, err := openAIMessages([]agent.CompletionMessage{
		{Role: "user", Content: "hi"},
	}, "be terse")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be terse" {
		t.Errorf("system message = %+v", msgs[0])
	}
}

func TestOpenAIMessagesToolRound(t *testing.T) {
	history := []agent.CompletionMessage{
		{Role: "user", Content: "read it"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "read", Input: json.RawMessage(`{"path":"/tmp/a"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			models.ToolOutput("tc-1", "read", "abcdef"),
		}},
	}

	msgs, err := openAIMessages(history, "")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Function.Name != "read" {
		t.Errorf("assistant tool calls = %+v", msgs[1].ToolCalls)
	}
	if msgs[2].Role != openai.ChatMessageRoleTool || msgs[2].ToolCallID != "tc-1" || msgs[2].Content != "abcdef" {
		t.Errorf("tool message = %+v", msgs[2])
	}
}

func TestOpenAIMessagesFailedResultCarriesError(t *testing.T) {
	history := []agent.CompletionMessage{
		{Role: "tool", ToolResults: []models.ToolResult{
			models.ToolFailure("tc-9", "exec", "permission denied"),
		}},
	}
	msgs, err := openAIMessages(history, "")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if msgs[0].Content != "permission denied" {
		t.Errorf("failed result content = %q", msgs[0].Content)
	}
}

func TestOpenAIImageParts(t *testing.T) {
	msg := agent.CompletionMessage{
		Role:    "user",
		Content: "what is this?",
		Attachments: []models.Attachment{
			{Type: "image", URL: "https://example.com/x.png"},
			{Type: "file", URL: "https://example.com/doc.pdf"},
		},
	}
	parts := openAIImageParts(msg)
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want text + one image", len(parts))
	}
	if parts[0].Type != openai.ChatMessagePartTypeText {
		t.Errorf("first part should be text, got %s", parts[0].Type)
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "https://example.com/x.png" {
		t.Errorf("image part = %+v", parts[1])
	}

	if got := openAIImageParts(agent.CompletionMessage{Role: "user", Content: "plain"}); got != nil {
		t.Errorf("text-only turn should have no parts, got %v", got)
	}
}

func TestOpenAIToolsMapping(t *testing.T) {
	tools := openAITools([]agent.Tool{stubTool{}})
	if len(tools) != 1 {
		t.Fatalf("got %d tools", len(tools))
	}
	fn := tools[0].Function
	if fn.Name != "stub" || fn.Description == "" {
		t.Errorf("function = %+v", fn)
	}
}

func TestCompatConstructors(t *testing.T) {
	cases := []struct {
		name     string
		provider agent.LLMProvider
	}{
		{"openai", NewOpenAIProvider("key")},
		{"glm", NewGLMProvider(GLMConfig{APIKey: "key"})},
		{"ollama", NewOllamaProvider(OllamaConfig{})},
	}
	for _, tc := range cases {
		if tc.provider.Name() != tc.name {
			t.Errorf("Name() = %q, want %q", tc.provider.Name(), tc.name)
		}
		if !tc.provider.SupportsTools() {
			t.Errorf("%s should support tools", tc.name)
		}
		if len(tc.provider.Models()) == 0 {
			t.Errorf("%s should list models", tc.name)
		}
	}

	if _, err := NewAzureOpenAIProvider(AzureOpenAIConfig{APIKey: "key"}); err == nil {
		t.Error("azure without endpoint must fail")
	}
	azure, err := NewAzureOpenAIProvider(AzureOpenAIConfig{APIKey: "key", Endpoint: "https://example.openai.azure.com"})
	if err != nil || azure.Name() != "azure" {
		t.Errorf("azure constructor: %v %v", azure, err)
	}
	router, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "key"})
	if err != nil || router.Name() != "openrouter" {
		t.Errorf("openrouter constructor: %v %v", router, err)
	}
}

type stubTool struct{}

func (stubTool) Name() string            { return "stub" }
func (stubTool) Description() string     { return "stub tool" }
func (stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (stubTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}
