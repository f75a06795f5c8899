// Package tools implements the Tool Catalog (C5): the fixed, allow-listed
// set of context-gathering functions the LLM Gateway may invoke mid-
// reasoning. Every entry is backed by a read-only External Engine Adapter
// or Code Index Service call. Handlers take the call's JSON arguments and
// return a JSON result (func(context.Context, string) (string, error)), and
// registration is unexported, so the seven tools New registers are the whole
// catalog and none of them calls Validate or any other mutating method,
// structurally enforcing spec.md §9's "all tools are read-only" resolution.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"homebrain.dev/planner/internal/codeindex"
	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/engine"
	"homebrain.dev/planner/internal/llmgateway"
)

// libraryModuleOut mirrors the stable getLibraryModules wire shape.
type libraryModuleOut struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Functions   []string `json:"functions"`
}

type automationOut struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type searchResultOut struct {
	Kind       domain.FileKind `json:"kind"`
	Name       string          `json:"name"`
	SourceCode string          `json:"sourceCode"`
	Similarity float64         `json:"similarity"`
}

type searchTopicsIn struct {
	Pattern string `json:"pattern"`
}

type getLibraryCodeIn struct {
	ModuleName string `json:"moduleName"`
}

type searchSimilarCodeIn struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// notFoundSentinel is returned by getLibraryCode when no module with the
// given name exists, per spec.md §4.6.
const notFoundSentinel = "not found"

// entry pairs a tool's provider-facing declaration with the handler the
// Catalog dispatches to. handler is unexported to the package and always
// reads, never writes.
type entry struct {
	tool    llmgateway.Tool
	handler func(ctx context.Context, argumentsJSON string) (string, error)
}

// Catalog is the Tool Catalog (C5): a registered, ordered set of read-only
// tools presented to the LLM Gateway's tool-use loop.
type Catalog struct {
	entries []entry
	byName  map[string]entry
}

// New builds the fixed seven-tool catalog over the given collaborators.
func New(adapter *engine.Adapter, index *codeindex.Service) *Catalog {
	c := &Catalog{byName: make(map[string]entry)}

	c.register("getAllTopics", "List every MQTT topic the smart-home currently exposes.", struct{}{},
		func(ctx context.Context, _ string) (string, error) {
			return marshal(adapter.Topics(ctx))
		})

	c.register("searchTopics", "Find topics whose name contains a case-insensitive substring.", searchTopicsIn{},
		func(ctx context.Context, argumentsJSON string) (string, error) {
			in, err := llmgateway.ParseToolArguments[searchTopicsIn](argumentsJSON)
			if err != nil {
				return "", err
			}
			topics := adapter.Topics(ctx)
			matched := make([]string, 0, len(topics))
			pattern := strings.ToLower(in.Pattern)
			for _, t := range topics {
				if strings.Contains(strings.ToLower(t), pattern) {
					matched = append(matched, t)
				}
			}
			return marshal(matched)
		})

	c.register("getAutomations", "List every deployed automation, with its name, description, and enabled state.", struct{}{},
		func(ctx context.Context, _ string) (string, error) {
			automations := adapter.Automations(ctx)
			out := make([]automationOut, 0, len(automations))
			for _, a := range automations {
				out = append(out, automationOut{Name: a.Name, Description: a.Description, Enabled: a.Enabled})
			}
			return marshal(out)
		})

	c.register("getLibraryModules", "List every reusable library module, with its name, description, and exported functions.", struct{}{},
		func(ctx context.Context, _ string) (string, error) {
			modules := adapter.LibraryModules(ctx)
			out := make([]libraryModuleOut, 0, len(modules))
			for _, m := range modules {
				out = append(out, libraryModuleOut{Name: m.Name, Description: m.Description, Functions: m.Functions})
			}
			return marshal(out)
		})

	c.register("getLibraryCode", "Fetch a library module's source by name.", getLibraryCodeIn{},
		func(ctx context.Context, argumentsJSON string) (string, error) {
			in, err := llmgateway.ParseToolArguments[getLibraryCodeIn](argumentsJSON)
			if err != nil {
				return "", err
			}
			code, ok := adapter.LibraryCode(ctx, in.ModuleName)
			if !ok {
				return marshal(notFoundSentinel)
			}
			return marshal(code)
		})

	c.register("getGlobalStateSchema", "Fetch the mapping from global-state key pattern to the automation ids that read or write it.", struct{}{},
		func(ctx context.Context, _ string) (string, error) {
			return marshal(adapter.GlobalStateSchema(ctx))
		})

	c.register("searchSimilarCode", "Semantic search over indexed automation and library code; empty if the index is not ready.", searchSimilarCodeIn{},
		func(ctx context.Context, argumentsJSON string) (string, error) {
			in, err := llmgateway.ParseToolArguments[searchSimilarCodeIn](argumentsJSON)
			if err != nil {
				return "", err
			}
			topK := in.TopK
			if topK == 0 {
				topK = 5
			}
			results := index.Search(ctx, in.Query, topK)
			out := make([]searchResultOut, 0, len(results))
			for _, r := range results {
				out = append(out, searchResultOut{Kind: r.Kind, Name: r.Name, SourceCode: r.SourceCode, Similarity: r.Similarity})
			}
			return marshal(out)
		})

	return c
}

func (c *Catalog) register(name, description string, schemaShape any, handler func(context.Context, string) (string, error)) {
	t := llmgateway.Tool{
		Name:        name,
		Description: description,
		Parameters:  llmgateway.GenerateSchemaFrom(schemaShape),
	}
	e := entry{tool: t, handler: handler}
	c.entries = append(c.entries, e)
	c.byName[name] = e
}

// Declarations returns the tool signatures presented to the model.
func (c *Catalog) Declarations() []llmgateway.Tool {
	out := make([]llmgateway.Tool, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.tool
	}
	return out
}

// Execute dispatches a model-requested tool call by name. Unknown names are
// rejected by the Gateway before Execute is ever reached (the tool catalog
// closure invariant), so this only needs to guard against the catalog being
// driven directly by something other than the Gateway.
func (c *Catalog) Execute(ctx context.Context, name string, argumentsJSON string) (string, error) {
	e, ok := c.byName[name]
	if !ok {
		return "", fmt.Errorf("tools: unknown tool %q", name)
	}
	return e.handler(ctx, argumentsJSON)
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("tools: marshal result: %w", err)
	}
	return string(b), nil
}
