// Package embedding produces fixed-dimension vectors from text via a local
// Ollama server, used both for indexing code at rest (embedDocument) and for
// querying the vector store at search time (embedQuery).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"homebrain.dev/planner/internal/domain"
)

// queryPrefix is prepended to every embedQuery call so the model produces a
// query-shaped vector distinguishable from a document-shaped one.
const queryPrefix = "Represent this query for searching relevant code: "

// ErrModelNotReady is returned by every embedding call once isReady() is
// false — the caller is expected to degrade (search returns empty, sync
// surfaces the error) rather than treat this as a retryable transport fault.
var ErrModelNotReady = errors.New("embedding: model not ready")

// ErrModelLoadError reports that NewClient could not load the tokenizer used
// for truncation. An unreachable embedding backend is not this error: it
// leaves the client not ready (see IsReady).
var ErrModelLoadError = errors.New("embedding: model failed to load")

// Config configures the Ollama-backed Client.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	MaxTokens int
	Timeout   time.Duration
}

// Client is the Embedding Model Client (C1): embedDocument/embedQuery backed
// by a local Ollama server reached over plain HTTP, with client-side token
// truncation and a serialized-call guard (a local Ollama runner can crash
// under concurrent embedding requests).
type Client struct {
	http      *http.Client
	baseURL   string
	model     string
	dimension int
	maxTokens int
	encoding  *tiktoken.Tiktoken

	mu    sync.Mutex // serializes calls to the Ollama runner
	ready bool
}

// NewClient constructs a Client and performs a best-effort readiness probe
// against the Ollama server; isReady() reflects the probe's outcome rather
// than failing construction outright, since Ollama may start after this
// process does.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 768
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}

	c := &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		maxTokens: maxTokens,
		encoding:  encoding,
	}

	c.ready = c.probe(ctx)
	return c, nil
}

func (c *Client) probe(ctx context.Context) bool {
	_, err := c.embed(ctx, "ping")
	if err != nil {
		slog.WarnContext(ctx, "embedding model not ready at start-up", "error", err)
		return false
	}
	return true
}

// IsReady reports whether the model and tokenizer are loaded.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// EmbedDocument embeds text with no prefix, for indexing.
func (c *Client) EmbedDocument(ctx context.Context, text string) (domain.Embedding, error) {
	return c.embedChecked(ctx, c.truncate(text))
}

// EmbedQuery embeds text with the query prefix prepended, for search.
func (c *Client) EmbedQuery(ctx context.Context, text string) (domain.Embedding, error) {
	return c.embedChecked(ctx, queryPrefix+c.truncate(text))
}

func (c *Client) embedChecked(ctx context.Context, text string) (domain.Embedding, error) {
	if !c.IsReady() {
		return nil, ErrModelNotReady
	}
	return c.embed(ctx, text)
}

// truncate tokenizes text and truncates to maxTokens, preserving prefix
// tokens (i.e. truncating from the tail).
func (c *Client) truncate(text string) string {
	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= c.maxTokens {
		return text
	}
	return c.encoding.Decode(tokens[:c.maxTokens])
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) embed(ctx context.Context, text string) (domain.Embedding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(ollamaEmbedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding: ollama returned %d: %s", resp.StatusCode, string(b))
	}

	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}

	return shapeOutput(decoded.Embeddings, c.dimension)
}

// shapeOutput normalizes the three output-shape cases spec.md §4.1
// describes: [D] already flat, [1,D] pooled, [1,seq,D] — take position 0.
// Ollama's /api/embed always returns [][]float32 (one row per input), so
// shape handling here is limited to the row count and its vector length.
func shapeOutput(rows [][]float32, dimension int) (domain.Embedding, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("embedding: model returned no vectors")
	}
	vec := rows[0]
	if len(vec) != dimension {
		return nil, fmt.Errorf("embedding: model returned dimension %d, want %d", len(vec), dimension)
	}
	return domain.Embedding(vec), nil
}

// Dimension returns the configured vector size D.
func (c *Client) Dimension() int { return c.dimension }
