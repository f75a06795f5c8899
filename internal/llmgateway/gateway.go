package llmgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// ModelSlot selects which configured model a call uses: the fast/cheap
// classification model, or the high-quality generation model.
type ModelSlot string

const (
	SlotClassification ModelSlot = "classification"
	SlotGeneration     ModelSlot = "generation"
)

const defaultMaxToolSteps = 8

// ToolExecutor is the Tool Catalog's gateway-facing surface: the set of
// tools the model may call during the tool-use loop, and a dispatcher that
// runs one by name. Implementations are structurally read-only (see the
// tools package): there is no variant of this interface that can reach a
// mutating call.
type ToolExecutor interface {
	Declarations() []Tool
	Execute(ctx context.Context, name string, argumentsJSON string) (string, error)
}

// Options configures one Invoke call.
type Options struct {
	ModelSlot    ModelSlot
	Temperature  *float64
	SystemPrompt string
	History      []Message
	ToolExecutor ToolExecutor // nil disables the tool-use loop
	MaxToolSteps int          // 0 = defaultMaxToolSteps
	CallTimeout  time.Duration
	MaxTokens    int
}

// Gateway drives a configured AgentClient through an optional tool-use loop
// and extracts a structured result from its final message. It is the only
// thing in this module with LLM-provider-shaped knowledge; every other
// package depends on llmgateway.Invoke, not on openai-go/anthropic-sdk-go
// directly.
type Gateway struct {
	clients map[ModelSlot]AgentClient
	sem     chan struct{}
}

// NewGateway wires the classification and generation model clients behind a
// process-wide concurrency cap (spec default 16 outstanding calls).
func NewGateway(classification, generation AgentClient, maxConcurrent int) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &Gateway{
		clients: map[ModelSlot]AgentClient{
			SlotClassification: classification,
			SlotGeneration:     generation,
		},
		sem: make(chan struct{}, maxConcurrent),
	}
}

// Invoke drives the configured model through any tool calls it requests,
// then extracts a value of T from its terminal message. T == string is
// treated as the "raw text" structured target; any other T is treated as a
// named record type (or map[string]any for the "json-object" target) parsed
// via the best-effort JSON extraction chain.
func Invoke[T any](ctx context.Context, gw *Gateway, prompt string, opts Options) (T, error) {
	var zero T

	client, ok := gw.clients[opts.ModelSlot]
	if !ok || client == nil {
		return zero, fmt.Errorf("llmgateway: no client configured for slot %q", opts.ModelSlot)
	}

	if opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.CallTimeout)
		defer cancel()
	}

	select {
	case gw.sem <- struct{}{}:
		defer func() { <-gw.sem }()
	case <-ctx.Done():
		return zero, &Timeout{Cause: ctx.Err()}
	}

	messages := make([]Message, 0, len(opts.History)+2)
	if opts.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, opts.History...)
	messages = append(messages, Message{Role: "user", Content: prompt})

	content, err := gw.runToolLoop(ctx, client, messages, opts)
	if err != nil {
		return zero, err
	}

	if _, isString := any(zero).(string); isString {
		return any(content).(T), nil
	}

	return extractStructured[T](content)
}

func (gw *Gateway) runToolLoop(ctx context.Context, client AgentClient, messages []Message, opts Options) (string, error) {
	maxSteps := opts.MaxToolSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxToolSteps
	}

	var declared []Tool
	var executor ToolExecutor
	if opts.ToolExecutor != nil {
		executor = opts.ToolExecutor
		declared = executor.Declarations()
	}
	declaredByName := make(map[string]bool, len(declared))
	for _, t := range declared {
		declaredByName[t.Name] = true
	}

	for step := 0; step < maxSteps; step++ {
		resp, err := client.ChatWithTools(ctx, AgentRequest{
			Messages:    messages,
			Tools:       declared,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", &Timeout{Cause: err}
			}
			if !isRetryable(ctx, err) {
				return "", &ProviderUnavailable{Provider: "llm", Cause: err}
			}
			return "", &Timeout{Cause: err}
		}

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if !declaredByName[call.Name] {
				return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
			}
			result, err := executor.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				result = fmt.Sprintf(`{"error":%q}`, err.Error())
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", ErrToolStepsExhausted
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractStructured applies the best-effort JSON extraction chain: direct
// parse, then a greedy brace-pattern substring containing T's field names,
// then a fenced code block, then the whole response trimmed.
func extractStructured[T any](raw string) (T, error) {
	var zero T
	trimmed := strings.TrimSpace(raw)

	var direct T
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
		return direct, nil
	}

	if braced, ok := greedyBraceSubstring(raw, fieldNames[T]()); ok {
		var v T
		if err := json.Unmarshal([]byte(braced), &v); err == nil {
			return v, nil
		}
	}

	if m := fencedBlockPattern.FindStringSubmatch(raw); m != nil {
		var v T
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &v); err == nil {
			return v, nil
		}
	}

	var last T
	if err := json.Unmarshal([]byte(trimmed), &last); err == nil {
		return last, nil
	}

	return zero, &ParseError{Raw: raw, Reason: "no extraction strategy produced valid JSON for the target type"}
}

// greedyBraceSubstring finds the first '{' through the last '}' in raw and
// returns it only if it mentions at least one of the target type's expected
// top-level field names — a cheap guard against matching an unrelated brace
// pair the model emitted as prose.
func greedyBraceSubstring(raw string, fields []string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	candidate := raw[start : end+1]
	if len(fields) == 0 {
		return candidate, true
	}
	for _, f := range fields {
		if strings.Contains(candidate, f) {
			return candidate, true
		}
	}
	return "", false
}

// fieldNames returns the JSON field names of T (via its struct tags, falling
// back to field names) for structs, or nil for any other kind.
func fieldNames[T any]() []string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" {
			name = f.Name
		}
		names = append(names, fmt.Sprintf("%q", name))
	}
	return names
}
