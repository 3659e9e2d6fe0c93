package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
)

type memoryEntry struct {
	doc    rag.Document
	vector []float32
}

// MemoryVectorIndex is a cosine-similarity index held in memory. It backs
// the CLI and tests; the server uses the Postgres store.
type MemoryVectorIndex struct {
	embedder Embedder

	mu      sync.RWMutex
	entries map[string]memoryEntry
	order   []string
}

// NewMemoryVectorIndex returns an empty index embedding through e.
func NewMemoryVectorIndex(e Embedder) *MemoryVectorIndex {
	return &MemoryVectorIndex{embedder: e, entries: make(map[string]memoryEntry)}
}

// Upsert embeds and stores docs, replacing documents with the same id.
func (m *MemoryVectorIndex) Upsert(ctx context.Context, docs []rag.Document) error {
	vectors := make([][]float32, 0, len(docs))
	for _, d := range docs {
		if rag.DocID(d) == "" {
			return fmt.Errorf("document without id: %q", truncate(d.Text, 40))
		}
		vec, err := m.embedder.GenerateEmbedding(ctx, []byte(d.Text))
		if err != nil {
			return fmt.Errorf("failed to embed %s: %w", rag.DocID(d), err)
		}
		vectors = append(vectors, vec)
	}
	return m.Put(docs, vectors)
}

// Put stores already embedded docs, replacing documents with the same id.
func (m *MemoryVectorIndex) Put(docs []rag.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("put: %d documents but %d vectors", len(docs), len(vectors))
	}
	for _, d := range docs {
		if rag.DocID(d) == "" {
			return fmt.Errorf("document without id: %q", truncate(d.Text, 40))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range docs {
		id := rag.DocID(d)
		if _, exists := m.entries[id]; !exists {
			m.order = append(m.order, id)
		}
		m.entries[id] = memoryEntry{doc: d, vector: vectors[i]}
	}
	return nil
}

// All returns the stored documents in insertion order.
func (m *MemoryVectorIndex) All() []rag.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rag.Document, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].doc)
	}
	return out
}

// Delete removes documents by id.
func (m *MemoryVectorIndex) Delete(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(m.entries, id)
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	m.order = kept
}

// Len returns the number of stored documents.
func (m *MemoryVectorIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SimilaritySearch returns the k documents most similar to query among
// those passing filter.
func (m *MemoryVectorIndex) SimilaritySearch(ctx context.Context, query string, k int, filter Filter) ([]rag.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, nil
	}
	qv, err := m.embedder.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		doc   rag.Document
		score float64
	}
	var hits []scored
	for _, id := range m.order {
		e := m.entries[id]
		if !filter.Match(e.doc.Metadata) {
			continue
		}
		hits = append(hits, scored{doc: e.doc, score: cosine(qv, e.vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]rag.Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}

// FetchByIDs returns the stored documents for ids in the given order.
// Unknown ids are skipped.
func (m *MemoryVectorIndex) FetchByIDs(_ context.Context, ids []string) ([]rag.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rag.Document, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			out = append(out, e.doc)
		}
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
