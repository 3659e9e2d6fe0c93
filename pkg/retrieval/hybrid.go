package retrieval

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"golang.org/x/sync/errgroup"
)

var log = logger.For("retrieval")

// expansionTypes are the document types pulled in by project expansion.
var expansionTypes = []string{"project", "experience_project"}

// Request describes one hybrid retrieval.
type Request struct {
	Query      string
	Collection string
	KDense     int
	KBM        int
	KFinal     int
	Filter     Filter
	// Strict re-applies Filter after project expansion.
	Strict bool
}

// HybridRetriever fuses dense and lexical search.
type HybridRetriever struct {
	Vector     VectorIndex
	Lexical    LexicalIndex
	Collection string
}

// NewHybridRetriever returns a retriever over the given indexes. The
// collection is used when a request does not name one.
func NewHybridRetriever(vector VectorIndex, lexical LexicalIndex, collection string) *HybridRetriever {
	return &HybridRetriever{Vector: vector, Lexical: lexical, Collection: collection}
}

// Retrieve returns candidate documents for req.Query:
//
//  1. dense and lexical search run concurrently;
//  2. the id lists are fused with RRF, keeping max(60, 6*KFinal);
//  3. ids only the lexical side knows are fetched from the vector store;
//  4. type and metadata filters apply;
//  5. chunks are deduplicated per section until 2*KFinal remain;
//  6. documents of referenced projects are appended, marked Expanded;
//  7. in strict mode the filters apply once more.
//
// An empty query or corpus yields no documents and no error. A failing
// side is logged and the other side is used alone.
func (h *HybridRetriever) Retrieve(ctx context.Context, req Request) ([]rag.Document, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, nil
	}
	collection := req.Collection
	if collection == "" {
		collection = h.Collection
	}
	kFinal := max(req.KFinal, 1)
	kDense := max(req.KDense, kFinal)
	kBM := max(req.KBM, kFinal)

	var (
		dense    []rag.Document
		hits     []Hit
		denseErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	if h.Vector != nil {
		g.Go(func() error {
			dense, denseErr = h.Vector.SimilaritySearch(gctx, query, kDense, req.Filter)
			if denseErr != nil {
				log.Warn("Dense search failed", "err", denseErr)
			}
			return nil
		})
	}
	if h.Lexical != nil {
		g.Go(func() error {
			hits = h.Lexical.Search(collection, query, kBM)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(dense) == 0 && len(hits) == 0 {
		if denseErr != nil && h.Lexical == nil {
			return nil, denseErr
		}
		return nil, nil
	}

	denseIDs := make([]string, 0, len(dense))
	byID := make(map[string]rag.Document, len(dense))
	for _, d := range dense {
		id := rag.DocID(d)
		if id == "" {
			continue
		}
		denseIDs = append(denseIDs, id)
		byID[id] = d
	}
	lexIDs := make([]string, 0, len(hits))
	for _, hit := range hits {
		lexIDs = append(lexIDs, hit.ID)
	}
	merged := RRFMerge(max(60, kFinal*6), denseIDs, lexIDs)

	var missing []string
	for _, id := range merged {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && h.Vector != nil {
		fetched, err := h.Vector.FetchByIDs(ctx, missing)
		if err != nil {
			log.Warn("Backfill by id failed", "ids", len(missing), "err", err)
		}
		for _, d := range fetched {
			byID[rag.DocID(d)] = d
		}
	}

	candidates := make([]rag.Document, 0, len(merged))
	for _, id := range merged {
		if d, ok := byID[id]; ok {
			candidates = append(candidates, d)
		}
	}

	docs := FilterDocs(candidates, req.Filter)
	docs = dedupSections(docs, max(kFinal*2, kFinal))
	docs = h.expandByProject(ctx, query, docs, max(48, kFinal*6))
	if req.Strict {
		docs = FilterDocs(docs, req.Filter)
	}

	log.Debug("Hybrid retrieval",
		"dense", len(dense),
		"lexical", len(hits),
		"merged", len(merged),
		"returned", len(docs),
	)
	return docs, nil
}

// dedupSections keeps the first chunk of each (parent, part) pair.
func dedupSections(docs []rag.Document, k int) []rag.Document {
	seen := make(map[rag.DedupKey]bool, len(docs))
	out := make([]rag.Document, 0, min(len(docs), k))
	for _, d := range docs {
		key := rag.KeyOf(d)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
		if len(out) >= k {
			break
		}
	}
	return out
}

func (h *HybridRetriever) expandByProject(ctx context.Context, query string, base []rag.Document, k int) []rag.Document {
	if h.Vector == nil {
		return base
	}
	var projectIDs []string
	seen := make(map[string]bool)
	addID := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			projectIDs = append(projectIDs, id)
		}
	}
	for _, d := range base {
		addID(d.Metadata.ProjectID)
		for _, id := range d.Metadata.ProjectIDs {
			addID(id)
		}
	}
	if len(projectIDs) == 0 {
		return base
	}

	related, err := h.Vector.SimilaritySearch(ctx, query, k, Filter{Types: expansionTypes, ProjectIDs: projectIDs})
	if err != nil {
		log.Warn("Project expansion failed", "projects", len(projectIDs), "err", err)
		return base
	}

	have := make(map[string]bool, len(base))
	for _, d := range base {
		have[rag.DocID(d)] = true
	}
	out := append([]rag.Document(nil), base...)
	for _, d := range related {
		id := rag.DocID(d)
		if have[id] {
			continue
		}
		have[id] = true
		d.Metadata.Expanded = true
		out = append(out, d)
	}
	return out
}
