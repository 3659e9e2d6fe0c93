// Package memory is an in-process document store for the CLI and tests.
package memory

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/store"
)

// Storage keeps one retrieval.MemoryVectorIndex per collection.
type Storage struct {
	embedder retrieval.Embedder

	mu          sync.Mutex
	collections map[string]*retrieval.MemoryVectorIndex
}

// NewStorage returns an empty store. e embeds search queries and must
// match the embedder used at ingest.
func NewStorage(e retrieval.Embedder) *Storage {
	return &Storage{embedder: e, collections: make(map[string]*retrieval.MemoryVectorIndex)}
}

// Collection returns the index of name, creating it on first use.
func (s *Storage) Collection(name string) *retrieval.MemoryVectorIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.collections[name]
	if !ok {
		idx = retrieval.NewMemoryVectorIndex(s.embedder)
		s.collections[name] = idx
	}
	return idx
}

func (s *Storage) Upsert(_ context.Context, collection string, docs []rag.Document, vectors [][]float32) error {
	return s.Collection(collection).Put(docs, vectors)
}

func (s *Storage) DeleteIDs(_ context.Context, collection string, ids []string) error {
	s.Collection(collection).Delete(ids)
	return nil
}

func (s *Storage) DeleteMissing(_ context.Context, collection string, keep []string) (int64, error) {
	idx := s.Collection(collection)
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var stale []string
	for _, d := range idx.All() {
		if id := rag.DocID(d); !kept[id] {
			stale = append(stale, id)
		}
	}
	idx.Delete(stale)
	return int64(len(stale)), nil
}

func (s *Storage) All(_ context.Context, collection string) ([]rag.Document, error) {
	return s.Collection(collection).All(), nil
}

func (s *Storage) Count(_ context.Context, collection string) (int, error) {
	return s.Collection(collection).Len(), nil
}

var _ store.DocumentStore = (*Storage)(nil)
