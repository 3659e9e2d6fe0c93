package pgx

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/pgvector/pgvector-go"
)

func TestSimilaritySQL_NoFilter(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 0})
	sql, args := similaritySQL("portfolio", vec, 5, retrieval.Filter{})

	want := `SELECT id, content, metadata FROM documents WHERE collection = $1 ORDER BY embedding <=> $2 LIMIT $3`
	if sql != want {
		t.Fatalf("unexpected sql:\n%s", sql)
	}
	if len(args) != 3 || args[0] != "portfolio" || args[2] != 5 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestSimilaritySQL_Filters(t *testing.T) {
	vec := pgvector.NewVector([]float32{1})
	filter := retrieval.Filter{
		Types:      []string{"project", "achievement"},
		ProjectIDs: []string{"p1"},
		Where:      map[string]any{"company_slug": "alfa"},
	}
	sql, args := similaritySQL("c", vec, 4, filter)

	if !strings.Contains(sql, `doc_type = ANY($3)`) {
		t.Fatalf("type filter missing: %s", sql)
	}
	if !strings.Contains(sql, `metadata->>'project_id' = ANY($4) OR metadata->'project_ids' ?| $4`) {
		t.Fatalf("project filter missing: %s", sql)
	}
	if !strings.HasSuffix(sql, `LIMIT $5`) {
		t.Fatalf("limit placeholder wrong: %s", sql)
	}
	if !reflect.DeepEqual(args[2], filter.Types) {
		t.Fatalf("types arg: %v", args[2])
	}
	if args[4] != 16 {
		t.Fatalf("expected over-fetch limit 16, got %v", args[4])
	}
}

func TestSimilaritySQL_DefaultLimit(t *testing.T) {
	_, args := similaritySQL("c", pgvector.NewVector([]float32{1}), 0, retrieval.Filter{})
	if args[len(args)-1] != 10 {
		t.Fatalf("expected default limit 10, got %v", args[len(args)-1])
	}
}

func TestSimilaritySearch_RejectsEmptyQuery(t *testing.T) {
	idx := NewDocumentStorageWithConnection(nil).Collection("c")
	if _, err := idx.SimilaritySearch(context.Background(), "  ", 3, retrieval.Filter{}); err != retrieval.ErrEmptyQuery {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := idx.SimilaritySearch(context.Background(), "go", 3, retrieval.Filter{}); err == nil {
		t.Fatalf("expected error without embedder")
	}
}

func TestUpsert_LengthMismatch(t *testing.T) {
	s := NewDocumentStorageWithConnection(nil)
	if err := s.Upsert(context.Background(), "c", nil, [][]float32{{1}}); err == nil {
		t.Fatalf("expected error for mismatched vectors")
	}
	if err := s.Upsert(context.Background(), "c", nil, nil); err != nil {
		t.Fatalf("empty upsert should be a no-op, got %v", err)
	}
}
