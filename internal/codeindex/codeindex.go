// Package codeindex keeps the vector store aligned with a file-backed
// repository of automation files (*.star) and library files
// (lib/*.lib.star), and exposes semantic search over that repository.
package codeindex

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/embedding"
	"homebrain.dev/planner/internal/vectorstore"
)

// Service is the Code Index Service (C3).
type Service struct {
	repoPath string
	embed    *embedding.Client
	store    *vectorstore.Store

	// syncMu serializes sync() with itself and with onDeployed(), per
	// spec.md §5's "Code Index Service: sync() is serialised with itself;
	// onDeployed is serialised with sync()".
	syncMu sync.Mutex
}

// New constructs a Service over a repository rooted at repoPath.
func New(repoPath string, embed *embedding.Client, store *vectorstore.Store) *Service {
	return &Service{repoPath: repoPath, embed: embed, store: store}
}

// IsReady reports whether the embedding model is ready.
func (s *Service) IsReady() bool {
	return s.embed.IsReady()
}

// Search computes a query embedding and delegates to the vector store.
// Degrades to an empty sequence when the embedding model is not ready.
func (s *Service) Search(ctx context.Context, queryText string, topK int) []domain.CodeSearchResult {
	if !s.IsReady() {
		return []domain.CodeSearchResult{}
	}

	vec, err := s.embed.EmbedQuery(ctx, queryText)
	if err != nil {
		slog.WarnContext(ctx, "codeindex: query embedding failed, degrading to empty search", "error", err)
		return []domain.CodeSearchResult{}
	}

	results, err := s.store.SearchSimilar(ctx, vec, topK)
	if err != nil {
		slog.WarnContext(ctx, "codeindex: vector search failed, degrading to empty search", "error", err)
		return []domain.CodeSearchResult{}
	}
	return results
}

// repoFile is one file read off disk, prior to embedding.
type repoFile struct {
	kind domain.FileKind
	name string
	path string
	code string
	hash string
}

// Sync reads every current file, (re-)embeds any that are new or whose
// content hash changed since the last sync, and deletes store entries for
// files that no longer exist. Surfaces its error rather than degrading.
func (s *Service) Sync(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	files, err := s.readRepo()
	if err != nil {
		return fmt.Errorf("codeindex: sync: %w", err)
	}

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		id := domain.IndexedCodeID(f.kind, f.name)
		seen[id] = struct{}{}

		existing, ok := s.store.FindByID(id)
		if ok && existing.SourceHash == f.hash {
			continue
		}

		if err := s.embedAndSave(ctx, f); err != nil {
			return fmt.Errorf("codeindex: sync: embed %q: %w", id, err)
		}
	}

	for id := range s.store.AllIDs() {
		if _, ok := seen[id]; !ok {
			if err := s.store.Delete(ctx, id); err != nil {
				return fmt.Errorf("codeindex: sync: delete stale %q: %w", id, err)
			}
		}
	}

	return nil
}

// OnDeployed upserts just the given files, bypassing a full repository
// scan — used right after a deploy when the caller already knows what
// changed.
func (s *Service) OnDeployed(ctx context.Context, files []domain.FileProposal) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	for _, fp := range files {
		f := repoFile{
			kind: fp.Kind,
			name: moduleName(fp.Filename, fp.Kind),
			code: fp.Code,
			hash: contentHash(fp.Code),
		}
		if err := s.embedAndSave(ctx, f); err != nil {
			return fmt.Errorf("codeindex: onDeployed: %w", err)
		}
	}
	return nil
}

func (s *Service) embedAndSave(ctx context.Context, f repoFile) error {
	vec, err := s.embed.EmbedDocument(ctx, f.code)
	if err != nil {
		return err
	}
	return s.store.Save(ctx, domain.IndexedCode{
		ID:         domain.IndexedCodeID(f.kind, f.name),
		Kind:       f.kind,
		Name:       f.name,
		SourceCode: f.code,
		Vector:     vec,
		SourceHash: f.hash,
	})
}

// readRepo walks repoPath for automation files (*.star at the root) and
// library files (lib/*.lib.star).
func (s *Service) readRepo() ([]repoFile, error) {
	var files []repoFile

	entries, err := os.ReadDir(s.repoPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read repo dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".star") || strings.HasSuffix(e.Name(), ".lib.star") {
			continue
		}
		f, err := readFile(s.repoPath, e.Name(), domain.FileKindAutomation)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	libDir := filepath.Join(s.repoPath, "lib")
	libEntries, err := os.ReadDir(libDir)
	if err == nil {
		for _, e := range libEntries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".lib.star") {
				continue
			}
			f, err := readFile(libDir, e.Name(), domain.FileKindLibrary)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read lib dir: %w", err)
	}

	return files, nil
}

func readFile(dir, filename string, kind domain.FileKind) (repoFile, error) {
	path := filepath.Join(dir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return repoFile{}, fmt.Errorf("read %q: %w", path, err)
	}
	code := string(data)
	return repoFile{
		kind: kind,
		name: moduleName(filename, kind),
		path: path,
		code: code,
		hash: contentHash(code),
	}, nil
}

func moduleName(filename string, kind domain.FileKind) string {
	name := filepath.Base(filename)
	if kind == domain.FileKindLibrary {
		return strings.TrimSuffix(name, ".lib.star")
	}
	return strings.TrimSuffix(name, ".star")
}

// contentHash is an FNV-1a hash of the file bytes, used to detect files
// that changed since the last sync without re-embedding unchanged content.
func contentHash(content string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return strconv.FormatUint(h.Sum64(), 16)
}
