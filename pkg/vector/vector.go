// Package vector maintains the semantic index of life records on an embedded
// chromem-go database. Embeddings are computed externally and passed in
// pre-computed; the collection never calls out to a model on its own.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// CollectionName is the single collection holding life record documents.
const CollectionName = "life_records"

// Result is one similarity hit.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Store wraps a chromem database holding the life record collection.
//
// chromem is single-process and memory-bound, which fits a personal
// deployment; swapping in an external vector database would only touch this
// file.
type Store struct {
	mu  sync.Mutex
	db  *chromem.DB
	col *chromem.Collection

	persistDir string
}

// identityEmbed guards against accidental text-only adds; every document
// must arrive with a pre-computed embedding.
func identityEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors must be pre-computed")
}

// NewStore opens (or creates) the persistent database under persistDir. An
// empty persistDir keeps everything in memory, used by tests.
func NewStore(persistDir string) (*Store, error) {
	var db *chromem.DB
	var err error
	if persistDir != "" {
		if err := os.MkdirAll(persistDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(persistDir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
		slog.Info("opened vector database", "path", persistDir)
	} else {
		db = chromem.NewDB()
	}

	s := &Store{db: db, persistDir: persistDir}
	if err := s.resetCollectionRef(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) resetCollectionRef() error {
	col, err := s.db.GetOrCreateCollection(CollectionName, nil, identityEmbed)
	if err != nil {
		return fmt.Errorf("failed to open collection %q: %w", CollectionName, err)
	}
	s.col = col
	return nil
}

// Upsert writes one document with its pre-computed embedding, replacing any
// existing document with the same id.
func (s *Store) Upsert(ctx context.Context, id, content string, vector []float32, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// chromem has no native upsert; drop the stale version first.
	_ = s.col.Delete(ctx, nil, nil, id)

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: vector,
	}
	if err := s.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Delete removes one document. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Search returns the topK most similar documents, optionally filtered by
// metadata equality.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, where map[string]string) ([]Result, error) {
	s.mu.Lock()
	col := s.col
	s.mu.Unlock()

	if topK < 1 {
		topK = 5
	}
	// chromem rejects topK larger than the collection size.
	if n := col.Count(); n < topK {
		if n == 0 {
			return nil, nil
		}
		topK = n
	}

	hits, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: h.Metadata,
		})
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.Count()
}

// Clear drops and recreates the collection.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(CollectionName); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return s.resetCollectionRef()
}
