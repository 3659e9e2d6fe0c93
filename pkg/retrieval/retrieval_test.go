package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id, typ, text string) rag.Document {
	return rag.Document{ID: id, Text: text, Metadata: rag.Metadata{Type: typ, DocID: id}}
}

func TestRRFMergeFavoursAgreement(t *testing.T) {
	// "b" sits in both lists and must outrank ids ranked first in only one.
	got := RRFMerge(0, []string{"a", "b", "c"}, []string{"d", "b", "e"})
	require.Equal(t, "b", got[0])
	assert.Equal(t, []string{"b", "a", "d", "c", "e"}, got)
}

func TestRRFMergeSwappedLeaders(t *testing.T) {
	// a and b trade places, so their scores are equal and first-seen order
	// decides. c and d tie the same way.
	got := RRFMerge(10, []string{"a", "b", "c"}, []string{"b", "a", "d"})
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestRRFMergeStableTiesAndLimit(t *testing.T) {
	got := RRFMerge(2, []string{"x"}, []string{"y"})
	assert.Equal(t, []string{"x"}, got[:1])
	assert.Len(t, got, 2)
	assert.Empty(t, RRFMerge(10))
}

func TestBM25Search(t *testing.T) {
	idx := NewBM25Index()
	idx.AddTexts("c", []string{"1", "2", "3"}, []string{
		"Python и PostgreSQL в проекте AI-Portfolio",
		"Go сервис на Kubernetes",
		"Python для ML пайплайнов и Python скриптов",
	})

	hits := idx.Search("c", "python", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "3", hits[0].ID)
	assert.Empty(t, idx.Search("c", "rust", 10))
	assert.Empty(t, idx.Search("other", "python", 10))

	idx.DeleteIDs("c", []string{"3"})
	hits = idx.Search("c", "python", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
	assert.Equal(t, 2, idx.Stats()["c"].Documents)

	idx.Reset("c")
	assert.Empty(t, idx.Search("c", "go", 10))

	idx.Replace("c", []string{"4"}, []string{"Rust и Go"})
	hits = idx.Search("c", "go", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "4", hits[0].ID)
	idx.Replace("c", nil, nil)
	assert.Empty(t, idx.Search("c", "go", 10))
}

func TestTokenizeKeepsSymbols(t *testing.T) {
	assert.Equal(t, []string{"c++", "c#", "net"}, Tokenize("C++ и C#.NET"))
	assert.Equal(t, []string{"ci-cd", "на", "gitlab"}, Tokenize("CI-CD на GitLab, a b"))
}

func TestBM25SearchSymbolTerms(t *testing.T) {
	idx := NewBM25Index()
	idx.AddTexts("c", []string{"1", "2", "3"}, []string{
		"Игровой движок на C++",
		"Сервисы на C# и .NET",
		"Настроил CI-CD в GitLab",
	})

	hits := idx.Search("c", "c++", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)

	hits = idx.Search("c", "C#", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "2", hits[0].ID)

	hits = idx.Search("c", "ci-cd", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "3", hits[0].ID)

	assert.Empty(t, idx.Search("c", "c", 10))
	stats := idx.Stats()["c"]
	assert.Equal(t, 3, stats.Documents)
	assert.Positive(t, stats.Terms)
}

func TestFilterMatch(t *testing.T) {
	md := rag.Metadata{Type: "project", ProjectID: "7", Technologies: []string{"Python", "Go"}}

	assert.True(t, Filter{Types: []string{"project"}}.Match(md))
	assert.False(t, Filter{Types: []string{"technology"}}.Match(md))
	assert.True(t, Filter{Types: []string{"technology"}}.Match(rag.Metadata{}), "untyped docs pass")
	assert.True(t, Filter{Where: map[string]any{"technologies": map[string]any{"$in": []any{"Go"}}}}.Match(md))
	assert.False(t, Filter{Where: map[string]any{"company_slug": "x"}}.Match(md), "missing key")
	assert.True(t, Filter{Where: map[string]any{"project_id": 7}}.Match(md))
	assert.True(t, Filter{ProjectIDs: []string{"7"}}.Match(md))
	assert.False(t, Filter{ProjectIDs: []string{"8"}}.Match(md))
}

func newCorpus(t *testing.T) (*MemoryVectorIndex, *BM25Index) {
	t.Helper()
	docs := []rag.Document{
		doc("project:1", "project", "AI-Portfolio: RAG ассистент на Python"),
		doc("technology:1", "technology", "Python язык программирования"),
		doc("experience:1", "experience", "Lead Engineer @ Alfa"),
	}
	docs[0].Metadata.ProjectID = "1"
	related := doc("experience_project:5", "experience_project", "Интеграция RAG в поиск компании")
	related.Metadata.ProjectID = "1"
	docs = append(docs, related)

	vec := NewMemoryVectorIndex(HashEmbedder{Dim: 64})
	require.NoError(t, vec.Upsert(context.Background(), docs))
	lex := NewBM25Index()
	for _, d := range docs {
		lex.AddTexts("c", []string{d.ID}, []string{d.Text})
	}
	return vec, lex
}

func TestHybridRetrieveEmpty(t *testing.T) {
	vec, lex := newCorpus(t)
	h := NewHybridRetriever(vec, lex, "c")
	docs, err := h.Retrieve(context.Background(), Request{Query: "   ", KFinal: 5})
	require.NoError(t, err)
	assert.Empty(t, docs)

	empty := NewHybridRetriever(NewMemoryVectorIndex(HashEmbedder{}), NewBM25Index(), "c")
	docs, err = empty.Retrieve(context.Background(), Request{Query: "python", KFinal: 5})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestHybridRetrieveTypesAndExpansion(t *testing.T) {
	vec, lex := newCorpus(t)
	h := NewHybridRetriever(vec, lex, "c")

	docs, err := h.Retrieve(context.Background(), Request{
		Query:  "RAG Python",
		KFinal: 1,
		Filter: Filter{Types: []string{"project"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "project:1", rag.DocID(docs[0]))
	assert.False(t, docs[0].Metadata.Expanded)

	var expanded []string
	for _, d := range docs[1:] {
		if d.Metadata.Expanded {
			expanded = append(expanded, rag.DocID(d))
		}
	}
	assert.Contains(t, expanded, "experience_project:5")
	for _, d := range docs {
		assert.NotEqual(t, "experience:1", rag.DocID(d))
	}

	strict, err := h.Retrieve(context.Background(), Request{
		Query:  "RAG Python",
		KFinal: 1,
		Filter: Filter{Types: []string{"project"}},
		Strict: true,
	})
	require.NoError(t, err)
	for _, d := range strict {
		assert.Equal(t, "project", d.Metadata.Type)
	}
}

type failingIndex struct{ *MemoryVectorIndex }

func (failingIndex) SimilaritySearch(context.Context, string, int, Filter) ([]rag.Document, error) {
	return nil, errors.New("boom")
}

func TestHybridRetrieveSurvivesDenseFailure(t *testing.T) {
	vec, lex := newCorpus(t)
	h := NewHybridRetriever(failingIndex{vec}, lex, "c")
	docs, err := h.Retrieve(context.Background(), Request{Query: "Alfa", KFinal: 3})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "experience:1", rag.DocID(docs[0]), "lexical hit backfilled by id")
}

func TestDedupSections(t *testing.T) {
	a := doc("p:1:c1", "project", "a")
	a.Metadata.ParentID, a.Metadata.Part = "p:1", 1
	b := a
	b.ID = "p:1:c1-copy"
	c := a
	c.ID, c.Metadata.Part = "p:1:c2", 2
	got := dedupSections([]rag.Document{a, b, c}, 10)
	assert.Len(t, got, 2)
}
