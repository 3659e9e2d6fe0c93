package memory

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
)

func TestStorage(t *testing.T) {
	ctx := context.Background()
	emb := retrieval.HashEmbedder{Dim: 32}
	s := NewStorage(emb)

	docs := []rag.Document{
		{ID: "project:1", Text: "Atlas поиск"},
		{ID: "project:2", Text: "Gateway платежи"},
		{ID: "technology:1", Text: "Go"},
	}
	vecs := make([][]float32, len(docs))
	for i, d := range docs {
		v, _ := emb.GenerateEmbedding(ctx, []byte(d.Text))
		vecs[i] = v
	}
	if err := s.Upsert(ctx, "portfolio", docs, vecs); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "portfolio", docs[:1], nil); err == nil {
		t.Fatalf("expected an error for missing vectors")
	}

	if n, _ := s.Count(ctx, "portfolio"); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	if n, _ := s.Count(ctx, "other"); n != 0 {
		t.Fatalf("other collection count = %d, want 0", n)
	}

	hits, err := s.Collection("portfolio").SimilaritySearch(ctx, "Atlas поиск", 1, retrieval.Filter{})
	if err != nil || len(hits) != 1 || hits[0].ID != "project:1" {
		t.Fatalf("search = %v, %v", hits, err)
	}

	removed, err := s.DeleteMissing(ctx, "portfolio", []string{"project:1", "technology:1"})
	if err != nil || removed != 1 {
		t.Fatalf("delete missing = %d, %v", removed, err)
	}
	if err := s.DeleteIDs(ctx, "portfolio", []string{"technology:1"}); err != nil {
		t.Fatalf("delete ids: %v", err)
	}
	all, _ := s.All(ctx, "portfolio")
	if len(all) != 1 || all[0].ID != "project:1" {
		t.Fatalf("all = %v", all)
	}
}
