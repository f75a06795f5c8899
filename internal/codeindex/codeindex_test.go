package codeindex_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"homebrain.dev/planner/internal/codeindex"
	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/embedding"
	"homebrain.dev/planner/internal/vectorstore"
)

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		vec := make([]float32, 8)
		for i := range vec {
			vec[i] = float32((len(req.Input) + i) % 7)
		}
		_ = json.NewEncoder(w).Encode(map[string][][]float32{"embeddings": {vec}})
	}))
}

func newService(t *testing.T, repoPath string) *codeindex.Service {
	t.Helper()
	srv := fakeOllama(t)
	t.Cleanup(srv.Close)

	embedClient, err := embedding.NewClient(context.Background(), embedding.Config{BaseURL: srv.URL, Dimension: 8})
	if err != nil {
		t.Fatalf("embedding.NewClient: %v", err)
	}
	store, err := vectorstore.New(context.Background(), vectorstore.Config{})
	if err != nil {
		t.Fatalf("vectorstore.New: %v", err)
	}
	return codeindex.New(repoPath, embedClient, store)
}

func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "blink_kitchen.star"), []byte("def on_trigger(): pass"), 0o644); err != nil {
		t.Fatalf("write automation file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "lib"), 0o755); err != nil {
		t.Fatalf("mkdir lib: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib", "lights.lib.star"), []byte("def turn_on(e): pass"), 0o644); err != nil {
		t.Fatalf("write library file: %v", err)
	}
	return dir
}

func TestSyncIndexesAutomationAndLibraryFiles(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t)
	svc := newService(t, repo)

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	results := svc.Search(context.Background(), "blink", 5)
	if len(results) == 0 {
		t.Fatalf("expected at least one search result after sync")
	}
}

func TestSyncRemovesDeletedFiles(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t)
	svc := newService(t, repo)
	ctx := context.Background()

	if err := svc.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := os.Remove(filepath.Join(repo, "blink_kitchen.star")); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	if err := svc.Sync(ctx); err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	results := svc.Search(ctx, "blink_kitchen", 5)
	for _, r := range results {
		if r.ID == "automation:blink_kitchen" {
			t.Fatalf("expected removed file to be dropped from the index")
		}
	}
}

func TestSyncSkipsUnchangedFiles(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t)
	svc := newService(t, repo)
	ctx := context.Background()

	if err := svc.Sync(ctx); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	// A second sync with no file changes should not error and should leave
	// the index in the same state.
	if err := svc.Sync(ctx); err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	results := svc.Search(ctx, "blink", 5)
	if len(results) == 0 {
		t.Fatalf("expected results to survive a no-op resync")
	}
}

func TestOnDeployedUpsertsGivenFiles(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	svc := newService(t, repo)
	ctx := context.Background()

	err := svc.OnDeployed(ctx, []domain.FileProposal{
		{Filename: "night_mode.star", Code: "def on_trigger(): pass", Kind: domain.FileKindAutomation},
	})
	if err != nil {
		t.Fatalf("OnDeployed: %v", err)
	}

	results := svc.Search(ctx, "night_mode", 5)
	if len(results) == 0 {
		t.Fatalf("expected OnDeployed file to be searchable")
	}
}

func TestSearchDegradesToEmptyWhenEmbeddingNotReady(t *testing.T) {
	t.Parallel()

	embedClient, err := embedding.NewClient(context.Background(), embedding.Config{BaseURL: "http://127.0.0.1:0", Dimension: 8})
	if err != nil {
		t.Fatalf("embedding.NewClient: %v", err)
	}
	store, err := vectorstore.New(context.Background(), vectorstore.Config{})
	if err != nil {
		t.Fatalf("vectorstore.New: %v", err)
	}
	svc := codeindex.New(t.TempDir(), embedClient, store)

	if svc.IsReady() {
		t.Fatalf("expected codeindex to report not ready when embedding probe fails")
	}
	results := svc.Search(context.Background(), "anything", 5)
	if len(results) != 0 {
		t.Fatalf("expected empty search results when embedding model is not ready, got %+v", results)
	}
}
