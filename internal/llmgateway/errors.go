package llmgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ParseError reports that LLM output could not be parsed into the requested
// structured type after every best-effort extraction strategy was tried.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llmgateway: parse error: %s", e.Reason)
}

// ProviderUnavailable reports a provider failure classified as non-retryable
// (auth, bad request, other 4xx, cancellation, ...).
type ProviderUnavailable struct {
	Provider string
	Cause    error
}

func (e *ProviderUnavailable) Error() string {
	return fmt.Sprintf("llmgateway: %s provider unavailable: %v", e.Provider, e.Cause)
}

func (e *ProviderUnavailable) Unwrap() error { return e.Cause }

// Timeout reports that a call's deadline elapsed before the provider
// responded, or that the provider failed with an error classified as
// transient (429, 5xx, network), which the gateway does not retry itself.
type Timeout struct {
	Cause error
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("llmgateway: call timed out: %v", e.Cause)
}

func (e *Timeout) Unwrap() error { return e.Cause }

// ErrToolStepsExhausted is returned when the tool-use loop reaches
// N_tool_steps without the model emitting a terminal message.
var ErrToolStepsExhausted = errors.New("llmgateway: tool-use loop exhausted its step budget")

// ErrUnknownTool is returned when a model requests a tool name outside the
// declared set for the call — the tool catalog closure invariant.
var ErrUnknownTool = errors.New("llmgateway: model requested an undeclared tool")

// isRetryable classifies an error from either provider client as
// retryable (rate-limited, 5xx, network) or fatal (bad request, auth,
// cancellation). Mirrors the classification every provider SDK exposes
// through its own typed error, adapted to the two backends this gateway
// drives.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm call not retryable: context cancelled or deadline exceeded")
		return false
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		switch {
		case openaiErr.StatusCode == 429, openaiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm call retryable", "provider", "openai", "status_code", openaiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm call not retryable", "provider", "openai", "status_code", openaiErr.StatusCode)
			return false
		}
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		switch {
		case anthropicErr.StatusCode == 429, anthropicErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm call retryable", "provider", "anthropic", "status_code", anthropicErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm call not retryable", "provider", "anthropic", "status_code", anthropicErr.StatusCode)
			return false
		}
	}

	// No typed API error: a network-level failure. Treat as retryable,
	// matching the provider clients' own transient-error convention.
	slog.WarnContext(ctx, "llm call network error, treating as retryable", "error", err)
	return true
}
