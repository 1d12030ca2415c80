package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/pkg/models"
)

// GoogleConfig configures the Gemini binding.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GoogleProvider streams completions from the Gemini API. Gemini has no
// provider-side tool call ids, so the binding mints them and maps results
// back to function names when rendering history.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
	base         BaseProvider
}

// NewGoogleProvider builds the binding against the Gemini API backend.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &GoogleProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		base:         NewBaseProvider("google", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *GoogleProvider) Name() string        { return "google" }
func (p *GoogleProvider) SupportsTools() bool { return true }

func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000, SupportsVision: true},
	}
}

// Complete streams one generation under the retry policy.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents, err := geminiContents(req.Messages)
	if err != nil {
		return nil, NewProviderError("google", model, err)
	}
	config := geminiConfig(req)

	chunks := make(chan *agent.CompletionChunk, 16)
	go func() {
		defer close(chunks)

		err := p.base.Retry(ctx, IsRetryable, func() error {
			return p.decodeStream(ctx, model, contents, config, chunks)
		})
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: NewProviderError("google", model, err)}
			return
		}
		chunks <- &agent.CompletionChunk{Done: true}
	}()
	return chunks, nil
}

func (p *GoogleProvider) decodeStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- *agent.CompletionChunk) error {
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- &agent.CompletionChunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						args = []byte(`{}`)
					}
					chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
						ID:    mintToolCallID(part.FunctionCall.Name),
						Name:  part.FunctionCall.Name,
						Input: args,
					}}
				}
			}
		}
	}
	return nil
}

// geminiContents renders history into Gemini content turns. Tool results
// become function responses addressed by name, recovered from the call id
// this binding minted.
func geminiContents(messages []agent.CompletionMessage) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == "assistant" {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Text()), &response); err != nil {
				response = map[string]any{"result": tr.Text(), "error": tr.Failed()}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameFromCallID(tr.ToolCallID, tr.ToolName, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func geminiConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = geminiTools(req.Tools)
	}
	return config
}

func geminiTools(tools []agent.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema maps a JSON-Schema object onto Gemini's typed schema.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

// mintToolCallID fabricates a stable-format call id for a function call,
// since Gemini doesn't assign one.
func mintToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// toolNameFromCallID recovers the function name a result answers: the
// result's own tool name when recorded, else the matching call in history,
// else the name encoded in the minted id.
func toolNameFromCallID(callID, recordedName string, messages []agent.CompletionMessage) string {
	if recordedName != "" {
		return recordedName
	}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(callID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
