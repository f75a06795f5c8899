// Package vectorstore persists IndexedCode rows with a fixed-dimension
// vector column and supports upsert, delete, lookup, and top-K cosine
// search. It is backed by chromem-go, an embedded, in-process, brute-force
// vector database — a closer fit than a remote-server client for this
// spec's "brute-force scan acceptable, no external server" requirement.
//
// Listing/lookup (findById, findAll, allIds) is served from a local
// manifest kept alongside the chromem collection, rather than iterating
// chromem itself: chromem-go's public surface is built around querying by
// embedding, not enumerating a collection, so this module tracks row
// identity and metadata itself and delegates only similarity search to
// chromem.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"

	"homebrain.dev/planner/internal/domain"
)

// ErrNoVector is returned by Save when the given IndexedCode has no vector.
var ErrNoVector = errors.New("vectorstore: save requires a non-nil vector")

// collectionName is fixed: spec.md's persisted-state layout is a single
// flat code_embeddings table, not one collection per kind.
const collectionName = "code_embeddings"

// Store is the Vector Store (C2).
type Store struct {
	db          *chromem.DB
	manifestDir string

	mu      sync.RWMutex
	col     *chromem.Collection
	entries map[string]domain.IndexedCode
}

// Config configures the Store's on-disk persistence. An empty PersistPath
// keeps everything in memory.
type Config struct {
	PersistPath string
}

// identityEmbed is required by chromem-go's collection API even though
// every call in this package supplies a precomputed vector; it is never
// actually invoked.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: embedding function invoked, vectors must be precomputed")
}

// New constructs a Store, replaying a persisted manifest (if one exists at
// cfg.PersistPath) into a fresh in-memory chromem collection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get or create collection: %w", err)
	}

	s := &Store{
		db:          db,
		manifestDir: cfg.PersistPath,
		col:         col,
		entries:     make(map[string]domain.IndexedCode),
	}

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("vectorstore: create persist dir: %w", err)
		}
		loaded, err := loadManifest(cfg.PersistPath)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: load manifest: %w", err)
		}
		for _, e := range loaded {
			if err := s.addToCollection(ctx, e); err != nil {
				return nil, fmt.Errorf("vectorstore: replay manifest row %q: %w", e.ID, err)
			}
			s.entries[e.ID] = e
		}
	}

	return s, nil
}

// Save upserts an IndexedCode row by id: an existing row for the same id is
// replaced atomically (delete-then-insert is an acceptable implementation).
func (s *Store) Save(ctx context.Context, indexed domain.IndexedCode) error {
	if indexed.Vector == nil {
		return ErrNoVector
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.col.Delete(ctx, nil, nil, indexed.ID)
	if err := s.addToCollection(ctx, indexed); err != nil {
		return fmt.Errorf("vectorstore: save %q: %w", indexed.ID, err)
	}
	s.entries[indexed.ID] = indexed

	return s.persist()
}

func (s *Store) addToCollection(ctx context.Context, indexed domain.IndexedCode) error {
	vec := make([]float32, len(indexed.Vector))
	copy(vec, indexed.Vector)

	doc := chromem.Document{
		ID:      indexed.ID,
		Content: indexed.SourceCode,
		Metadata: map[string]string{
			"kind": string(indexed.Kind),
			"name": indexed.Name,
		},
		Embedding: vec,
	}
	return s.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU())
}

// Delete removes a row by id; deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.col.Delete(ctx, nil, nil, id)
	delete(s.entries, id)
	return s.persist()
}

// FindByID returns the row for id, if present.
func (s *Store) FindByID(id string) (domain.IndexedCode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// FindAll returns every row currently stored, ordered by id.
func (s *Store) FindAll() []domain.IndexedCode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IndexedCode, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllIDs returns the set of ids currently stored.
func (s *Store) AllIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{}, len(s.entries))
	for id := range s.entries {
		out[id] = struct{}{}
	}
	return out
}

// IsEmpty reports whether the store holds any rows.
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries) == 0
}

// SearchSimilar runs cosine-similarity top-K search. Results are descending
// by similarity and clamped to [0,1]; a topK of 0 returns no results.
func (s *Store) SearchSimilar(ctx context.Context, query domain.Embedding, topK int) ([]domain.CodeSearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	results, err := s.col.QueryEmbedding(ctx, []float32(query), topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	out := make([]domain.CodeSearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, domain.NewCodeSearchResult(
			r.ID,
			domain.FileKind(r.Metadata["kind"]),
			r.Metadata["name"],
			r.Content,
			float64(r.Similarity),
		))
	}
	return out, nil
}

// persist writes the manifest to disk if a persistence path is configured.
// chromem's own in-memory collection is rebuilt from this manifest on the
// next New(), so only the manifest (not a chromem export) needs to survive
// a restart.
func (s *Store) persist() error {
	if s.manifestDir == "" {
		return nil
	}
	rows := make([]domain.IndexedCode, 0, len(s.entries))
	for _, e := range s.entries {
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(s.manifestDir, "manifest.json"), data, 0o644)
}

func loadManifest(dir string) ([]domain.IndexedCode, error) {
	path := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows []domain.IndexedCode
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
