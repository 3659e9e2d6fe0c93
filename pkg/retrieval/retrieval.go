// Package retrieval implements hybrid document retrieval: a dense vector
// index and a BM25 lexical index are queried side by side and fused with
// reciprocal rank fusion.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
)

// ErrEmptyQuery is returned by indexes asked to search for nothing.
var ErrEmptyQuery = errors.New("retrieval: empty query")

// VectorIndex is a dense similarity index.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, query string, k int, filter Filter) ([]rag.Document, error)
	FetchByIDs(ctx context.Context, ids []string) ([]rag.Document, error)
}

// Hit is one lexical search result.
type Hit struct {
	ID    string
	Score float64
}

// LexicalIndex is a keyword index partitioned by collection.
type LexicalIndex interface {
	AddTexts(collection string, ids, texts []string)
	DeleteIDs(collection string, ids []string)
	Search(collection, query string, k int) []Hit
}

// Embedder turns text into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// Filter restricts candidate documents.
//
// Types lists allowed document types; documents without a type always pass.
// Where maps metadata keys to a value, a list of values, or {"$in": [...]}.
// The key must be present on the document and a list value on either side
// matches when any element matches. ProjectIDs keeps documents that reference
// one of the given projects.
type Filter struct {
	Types      []string
	Where      map[string]any
	ProjectIDs []string
}

// IsZero reports whether f lets everything through.
func (f Filter) IsZero() bool {
	return len(f.Types) == 0 && len(f.Where) == 0 && len(f.ProjectIDs) == 0
}

// Match reports whether md passes the filter.
func (f Filter) Match(md rag.Metadata) bool {
	if len(f.Types) > 0 && md.Type != "" && !slices.Contains(f.Types, md.Type) {
		return false
	}
	for key, cond := range f.Where {
		if key == "type" {
			continue
		}
		v, ok := md.Get(key)
		if !ok || !matchWhereValue(v, cond) {
			return false
		}
	}
	if len(f.ProjectIDs) > 0 {
		hit := slices.Contains(f.ProjectIDs, md.ProjectID)
		for _, id := range md.ProjectIDs {
			hit = hit || slices.Contains(f.ProjectIDs, id)
		}
		if !hit {
			return false
		}
	}
	return true
}

func matchWhereValue(value, cond any) bool {
	var targets []string
	switch c := cond.(type) {
	case map[string]any:
		in, ok := c["$in"]
		if !ok {
			return false
		}
		targets = stringList(in)
	case []string, []any:
		targets = stringList(c)
	default:
		targets = []string{fmt.Sprint(c)}
	}
	for _, v := range stringList(value) {
		if slices.Contains(targets, v) {
			return true
		}
	}
	return false
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(t)}
	}
}

// FilterDocs returns the documents of docs that pass f.
func FilterDocs(docs []rag.Document, f Filter) []rag.Document {
	if f.IsZero() {
		return docs
	}
	out := make([]rag.Document, 0, len(docs))
	for _, d := range docs {
		if f.Match(d.Metadata) {
			out = append(out, d)
		}
	}
	return out
}
