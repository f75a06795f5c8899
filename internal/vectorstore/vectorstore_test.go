package vectorstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/vectorstore"
)

func mustStore(t *testing.T, cfg vectorstore.Config) *vectorstore.Store {
	t.Helper()
	s, err := vectorstore.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveRejectsNilVector(t *testing.T) {
	t.Parallel()

	s := mustStore(t, vectorstore.Config{})
	err := s.Save(context.Background(), domain.IndexedCode{ID: "automation:blink"})
	if err != vectorstore.ErrNoVector {
		t.Fatalf("expected ErrNoVector, got %v", err)
	}
}

func TestSaveFindByIDAndDelete(t *testing.T) {
	t.Parallel()

	s := mustStore(t, vectorstore.Config{})
	ctx := context.Background()

	row := domain.IndexedCode{
		ID:         "automation:blink_kitchen",
		Kind:       domain.FileKindAutomation,
		Name:       "blink_kitchen",
		SourceCode: "load(\"lights.star\", \"blink\")",
		Vector:     domain.Embedding{1, 0, 0},
	}
	if err := s.Save(ctx, row); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := s.FindByID(row.ID)
	if !ok || got.Name != row.Name {
		t.Fatalf("FindByID = %+v, %v", got, ok)
	}
	if s.IsEmpty() {
		t.Fatalf("expected store to be non-empty after Save")
	}

	if err := s.Delete(ctx, row.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.FindByID(row.ID); ok {
		t.Fatalf("expected row gone after Delete")
	}
	if !s.IsEmpty() {
		t.Fatalf("expected store to be empty after deleting the only row")
	}
}

func TestSearchSimilarRanksByCosineSimilarity(t *testing.T) {
	t.Parallel()

	s := mustStore(t, vectorstore.Config{})
	ctx := context.Background()

	rows := []domain.IndexedCode{
		{ID: "automation:a", Kind: domain.FileKindAutomation, Name: "a", SourceCode: "a", Vector: domain.Embedding{1, 0, 0}},
		{ID: "automation:b", Kind: domain.FileKindAutomation, Name: "b", SourceCode: "b", Vector: domain.Embedding{0, 1, 0}},
		{ID: "automation:c", Kind: domain.FileKindAutomation, Name: "c", SourceCode: "c", Vector: domain.Embedding{0.9, 0.1, 0}},
	}
	for _, r := range rows {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save %q: %v", r.ID, err)
		}
	}

	results, err := s.SearchSimilar(ctx, domain.Embedding{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "automation:a" {
		t.Fatalf("expected the exact match first, got %q", results[0].ID)
	}
	for _, r := range results {
		if r.Similarity < 0 || r.Similarity > 1 {
			t.Fatalf("similarity %v out of [0,1] range", r.Similarity)
		}
	}
}

func TestSearchSimilarZeroTopKReturnsNil(t *testing.T) {
	t.Parallel()

	s := mustStore(t, vectorstore.Config{})
	results, err := s.SearchSimilar(context.Background(), domain.Embedding{1, 0}, 0)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results for topK=0, got %+v", results)
	}
}

func TestPersistenceSurvivesReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := vectorstore.Config{PersistPath: filepath.Join(dir, "store")}

	s1 := mustStore(t, cfg)
	row := domain.IndexedCode{
		ID:         "library:lights",
		Kind:       domain.FileKindLibrary,
		Name:       "lights",
		SourceCode: "def turn_on(entity): pass",
		Vector:     domain.Embedding{0.2, 0.4, 0.6},
	}
	if err := s1.Save(context.Background(), row); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2 := mustStore(t, cfg)
	got, ok := s2.FindByID(row.ID)
	if !ok {
		t.Fatalf("expected row to survive reload")
	}
	if got.Name != row.Name || got.SourceCode != row.SourceCode {
		t.Fatalf("reloaded row mismatch: %+v", got)
	}

	all := s2.FindAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 row after reload, got %d", len(all))
	}

	ids := s2.AllIDs()
	if _, ok := ids[row.ID]; !ok {
		t.Fatalf("expected AllIDs to contain %q", row.ID)
	}
}
