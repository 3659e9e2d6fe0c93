package store

import (
	"context"

	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
)

// DocumentStore persists indexed portfolio documents with their
// embeddings. Documents are partitioned by collection and keyed by id
// within it.
type DocumentStore interface {
	// Upsert replaces documents by id. vectors[i] belongs to docs[i].
	Upsert(ctx context.Context, collection string, docs []rag.Document, vectors [][]float32) error
	DeleteIDs(ctx context.Context, collection string, ids []string) error
	// DeleteMissing removes every document of collection whose id is not in keep.
	DeleteMissing(ctx context.Context, collection string, keep []string) (int64, error)
	// All returns every document of collection.
	All(ctx context.Context, collection string) ([]rag.Document, error)
	Count(ctx context.Context, collection string) (int, error)
}
