package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/pkg/models"
)

// openAICompatProvider serves every binding that speaks the OpenAI chat
// wire format: OpenAI itself, Azure deployments, OpenRouter, GLM, and
// Ollama's OpenAI-compatible endpoint. One decoder, five constructors;
// the bindings differ only in base URL, auth, and model catalog.
type openAICompatProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	catalog      []agent.Model
	base         BaseProvider
}

func newOpenAICompat(name string, clientCfg openai.ClientConfig, defaultModel string, catalog []agent.Model) *openAICompatProvider {
	return &openAICompatProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		name:         name,
		defaultModel: defaultModel,
		catalog:      catalog,
		base:         NewBaseProvider(name, 3, time.Second),
	}
}

func (p *openAICompatProvider) Name() string        { return p.name }
func (p *openAICompatProvider) SupportsTools() bool { return true }
func (p *openAICompatProvider) Models() []agent.Model {
	return append([]agent.Model(nil), p.catalog...)
}

// NewOpenAIProvider binds api.openai.com.
func NewOpenAIProvider(apiKey string) agent.LLMProvider {
	return newOpenAICompat("openai", openai.DefaultConfig(apiKey), "gpt-4o", []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "o3-mini", Name: "o3-mini", ContextSize: 200000},
	})
}

// AzureOpenAIConfig configures an Azure OpenAI deployment.
type AzureOpenAIConfig struct {
	APIKey       string
	Endpoint     string
	DefaultModel string
}

// NewAzureOpenAIProvider binds an Azure OpenAI endpoint; the deployment
// name doubles as the model id.
func NewAzureOpenAIProvider(cfg AzureOpenAIConfig) (agent.LLMProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o"
	}
	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	return newOpenAICompat("azure", clientCfg, model, []agent.Model{
		{ID: model, Name: model + " (Azure)", ContextSize: 128000},
	}), nil
}

// OpenRouterConfig configures the OpenRouter aggregator binding.
type OpenRouterConfig struct {
	APIKey       string
	DefaultModel string
}

// NewOpenRouterProvider binds openrouter.ai's OpenAI-compatible API.
func NewOpenRouterProvider(cfg OpenRouterConfig) (agent.LLMProvider, error) {
	model := cfg.DefaultModel
	if model == "" {
		model = "anthropic/claude-sonnet-4"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = "https://openrouter.ai/api/v1"
	return newOpenAICompat("openrouter", clientCfg, model, []agent.Model{
		{ID: model, Name: model, ContextSize: 128000},
	}), nil
}

// GLMConfig configures the Zhipu GLM binding.
type GLMConfig struct {
	APIKey       string
	DefaultModel string
}

// NewGLMProvider binds the GLM open platform's OpenAI-compatible API.
func NewGLMProvider(cfg GLMConfig) agent.LLMProvider {
	model := cfg.DefaultModel
	if model == "" {
		model = "glm-4-plus"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
	return newOpenAICompat("glm", clientCfg, model, []agent.Model{
		{ID: model, Name: model, ContextSize: 128000},
	})
}

// OllamaConfig configures a local Ollama daemon.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
}

// NewOllamaProvider binds a local Ollama daemon through its
// OpenAI-compatible endpoint, so local models ride the same decoder as
// the hosted bindings.
func NewOllamaProvider(cfg OllamaConfig) agent.LLMProvider {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "llama3.2"
	}
	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = baseURL + "/v1"
	return newOpenAICompat("ollama", clientCfg, model, []agent.Model{
		{ID: model, Name: model + " (local)", ContextSize: 32768},
	})
}

// Complete opens a streaming chat completion under the retry policy.
func (p *openAICompatProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := openAIMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("%s: convert messages: %w", p.name, err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err = p.base.Retry(ctx, IsRetryable, func() error {
		var openErr error
		stream, openErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return openErr
	})
	if err != nil {
		return nil, NewProviderError(p.name, model, err)
	}

	chunks := make(chan *agent.CompletionChunk, 16)
	go p.decodeStream(ctx, stream, chunks, model)
	return chunks, nil
}

// decodeStream folds delta frames into chunks. Tool call arguments arrive
// fragmented across frames keyed by index and are emitted once the finish
// reason (or stream end) says they are complete.
func (p *openAICompatProvider) decodeStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	var order []int
	var inputTokens, outputTokens int

	flushToolCalls := func() {
		for _, idx := range order {
			tc := pending[idx]
			if tc != nil && tc.ID != "" && tc.Name != "" {
				if len(tc.Input) == 0 {
					tc.Input = json.RawMessage(`{}`)
				}
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		pending = make(map[int]*models.ToolCall)
		order = order[:0]
	}

	for {
		if ctx.Err() != nil {
			chunks <- &agent.CompletionChunk{Error: ctx.Err()}
			return
		}

		frame, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &agent.CompletionChunk{Error: NewProviderError(p.name, model, err)}
			return
		}

		if frame.Usage != nil {
			inputTokens = frame.Usage.PromptTokens
			outputTokens = frame.Usage.CompletionTokens
		}
		if len(frame.Choices) == 0 {
			continue
		}
		choice := frame.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if pending[idx] == nil {
				pending[idx] = &models.ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				pending[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[idx].Input = json.RawMessage(string(pending[idx].Input) + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			// A stream that ends here is a complete assistant turn with
			// pending tool execution, never an error.
			flushToolCalls()
		}
	}
}

// openAIMessages renders history into the chat wire shape: the system
// prompt leads, assistant tool calls carry function payloads, and each
// tool result becomes its own tool-role message.
func openAIMessages(messages []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			out := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, out)

		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Text(),
					ToolCallID: tr.ToolCallID,
				})
			}

		case "system":
			// Already hoisted into the leading system message by the loop.
			if msg.Content != "" {
				result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
			}

		default: // user
			out := openai.ChatCompletionMessage{Role: msg.Role}
			if parts := openAIImageParts(msg); len(parts) > 0 {
				out.MultiContent = parts
			} else {
				out.Content = msg.Content
			}
			// Tool results occasionally ride user-role turns; keep their
			// pairing with the originating calls.
			result = append(result, out)
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Text(),
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}
	return result, nil
}

// openAIImageParts builds the multi-content form for turns carrying image
// attachments; nil when the turn is text-only.
func openAIImageParts(msg agent.CompletionMessage) []openai.ChatMessagePart {
	hasImage := false
	for _, att := range msg.Attachments {
		if att.Type == "image" && att.URL != "" {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return nil
	}

	var parts []openai.ChatMessagePart
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Content})
	}
	for _, att := range msg.Attachments {
		if att.Type == "image" && att.URL != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: att.URL, Detail: openai.ImageURLDetailAuto},
			})
		}
	}
	return parts
}

// openAITools maps tool schemas onto function definitions.
func openAITools(tools []agent.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  json.RawMessage(tool.Schema()),
			},
		})
	}
	return out
}
