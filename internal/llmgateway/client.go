// Package llmgateway drives an LLM with an optional system prompt, an
// optional tool catalog, and an optional structured target type. It owns the
// tool-use loop and the best-effort JSON extraction chain used to recover a
// structured object from free-form model output.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ClientConfig configures a single provider-backed AgentClient.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AgentClient is the provider-agnostic chat-with-tools backend the Gateway
// drives. OpenAI and Anthropic each implement it.
type AgentClient interface {
	ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error)
	Model() string
}

// AgentRequest is one turn of the conversation sent to a provider.
type AgentRequest struct {
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
}

// Message is one entry of the running conversation history the Gateway
// maintains across tool-loop iterations.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // assistant messages requesting tool calls
	ToolCallID string     // tool-result messages: references the call
}

// Tool is the provider-facing shape of one Tool Catalog entry.
type Tool struct {
	Name        string
	Description string
	Parameters  any // JSON Schema
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

// AgentResponse is a provider's answer for one turn.
type AgentResponse struct {
	Content          string
	ToolCalls        []ToolCall
	FinishReason     string // "stop", "tool_calls", "length"
	PromptTokens     int
	CompletionTokens int
}

type openAIAgentClient struct {
	openai openai.Client
	model  string
}

// NewOpenAIAgentClient builds an AgentClient backed by the OpenAI chat
// completions API. The service wires it to the classification model slot;
// the generation slot uses the Anthropic client.
func NewOpenAIAgentClient(cfg ClientConfig) (AgentClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmgateway: openai api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &openAIAgentClient{
		openai: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (c *openAIAgentClient) ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            convertMessagesOpenAI(req.Messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}

	if tools := convertToolsOpenAI(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llmgateway: openai chat: %w", err)
	}

	slog.DebugContext(ctx, "llm gateway turn completed",
		"provider", "openai",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llmgateway: openai response had no choices")
	}

	choice := resp.Choices[0]
	result := &AgentResponse{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

func (c *openAIAgentClient) Model() string { return c.model }

func convertMessagesOpenAI(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			result = append(result, openai.SystemMessage(msg.Content))
		case "user":
			result = append(result, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					}
				}
				result = append(result, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)},
						ToolCalls: toolCalls,
					},
				})
			} else {
				result = append(result, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return result
}

func convertToolsOpenAI(tools []Tool) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		var params shared.FunctionParameters
		if t.Parameters != nil {
			data, _ := json.Marshal(t.Parameters)
			_ = json.Unmarshal(data, &params)
		}
		result[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		}
	}
	return result
}

// ParseToolArguments unmarshals a tool call's JSON-encoded arguments into T.
func ParseToolArguments[T any](arguments string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return result, fmt.Errorf("llmgateway: parse tool arguments: %w", err)
	}
	return result, nil
}

// GenerateSchemaFrom produces a JSON Schema describing v's type, used to
// declare both tool parameter schemas and structured-target schemas.
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// SanitizeName restricts a free-form string to the charset some providers
// require for a message's optional participant name.
func SanitizeName(name string) string {
	sanitized := nameInvalidChars.ReplaceAllString(name, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
