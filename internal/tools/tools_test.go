package tools_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"homebrain.dev/planner/internal/codeindex"
	"homebrain.dev/planner/internal/embedding"
	"homebrain.dev/planner/internal/engine"
	"homebrain.dev/planner/internal/tools"
	"homebrain.dev/planner/internal/vectorstore"
)

func newCatalog(t *testing.T) (*tools.Catalog, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/topics":
			_ = json.NewEncoder(w).Encode([]string{"zigbee2mqtt/motion_sensor", "zigbee2mqtt/front_door"})
		case "/automations":
			_ = json.NewEncoder(w).Encode([]engine.Automation{{Name: "blink_kitchen", Enabled: true}})
		case "/library":
			_ = json.NewEncoder(w).Encode([]struct {
				Name        string   `json:"name"`
				Description string   `json:"description"`
				Functions   []string `json:"functions"`
			}{{Name: "lights", Description: "light helpers", Functions: []string{"turn_on"}}})
		case "/library/lights":
			_, _ = w.Write([]byte("def turn_on(e): pass"))
		case "/library/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/global-state-schema":
			_ = json.NewEncoder(w).Encode(map[string][]string{"home.mode": {"night_mode"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	adapter := engine.New(engine.Config{BaseURL: srv.URL})
	embedClient, err := embedding.NewClient(context.Background(), embedding.Config{BaseURL: "http://127.0.0.1:0", Dimension: 8})
	if err != nil {
		t.Fatalf("embedding.NewClient: %v", err)
	}
	store, err := vectorstore.New(context.Background(), vectorstore.Config{})
	if err != nil {
		t.Fatalf("vectorstore.New: %v", err)
	}
	index := codeindex.New(t.TempDir(), embedClient, store)

	return tools.New(adapter, index), srv
}

func TestCatalogDeclaresSevenTools(t *testing.T) {
	t.Parallel()

	catalog, srv := newCatalog(t)
	defer srv.Close()

	decls := catalog.Declarations()
	if len(decls) != 7 {
		t.Fatalf("expected 7 tool declarations, got %d", len(decls))
	}
	for _, d := range decls {
		if d.Name == "" || d.Description == "" || d.Parameters == nil {
			t.Fatalf("tool declaration missing a field: %+v", d)
		}
	}
}

func TestExecuteGetAllTopics(t *testing.T) {
	t.Parallel()

	catalog, srv := newCatalog(t)
	defer srv.Close()

	out, err := catalog.Execute(context.Background(), "getAllTopics", "{}")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "motion_sensor") {
		t.Fatalf("expected topics in output, got %q", out)
	}
}

func TestExecuteSearchTopicsFiltersByPattern(t *testing.T) {
	t.Parallel()

	catalog, srv := newCatalog(t)
	defer srv.Close()

	out, err := catalog.Execute(context.Background(), "searchTopics", `{"pattern":"front"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "front_door") || strings.Contains(out, "motion_sensor") {
		t.Fatalf("expected only front_door to match, got %q", out)
	}
}

func TestExecuteGetLibraryCodeNotFound(t *testing.T) {
	t.Parallel()

	catalog, srv := newCatalog(t)
	defer srv.Close()

	out, err := catalog.Execute(context.Background(), "getLibraryCode", `{"moduleName":"missing"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "not found") {
		t.Fatalf("expected not-found sentinel, got %q", out)
	}
}

func TestExecuteGetLibraryCodeFound(t *testing.T) {
	t.Parallel()

	catalog, srv := newCatalog(t)
	defer srv.Close()

	out, err := catalog.Execute(context.Background(), "getLibraryCode", `{"moduleName":"lights"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "turn_on") {
		t.Fatalf("expected library code in output, got %q", out)
	}
}

func TestExecuteUnknownToolErrors(t *testing.T) {
	t.Parallel()

	catalog, srv := newCatalog(t)
	defer srv.Close()

	if _, err := catalog.Execute(context.Background(), "deleteAutomation", "{}"); err == nil {
		t.Fatalf("expected an error for an unregistered tool name")
	}
}

func TestExecuteSearchSimilarCodeDegradesWithoutEmbeddingModel(t *testing.T) {
	t.Parallel()

	catalog, srv := newCatalog(t)
	defer srv.Close()

	out, err := catalog.Execute(context.Background(), "searchSimilarCode", `{"query":"blink","topK":3}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty result array when embedding model is not ready, got %q", out)
	}
}
