package retrieval

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	bleveregexp "github.com/blevesearch/bleve/v2/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/v2/mapping"
)

// tokenPattern keeps "+", "#" and "-" inside a token so "c++", "c#" and
// "ci-cd" survive. Single characters are dropped.
const tokenPattern = `[a-zA-Zа-яА-Я0-9+#\-]{2,}`

const (
	textField    = "text"
	tokenizerKey = "folio_tokens"
	analyzerKey  = "folio"
)

var tokenRe = regexp.MustCompile(tokenPattern)

// Tokenize lowercases text and splits it into the tokens the lexical index
// stores.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

var lexicalMapping = sync.OnceValue(func() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	err := im.AddCustomTokenizer(tokenizerKey, map[string]any{
		"type":   bleveregexp.Name,
		"regexp": tokenPattern,
	})
	if err != nil {
		panic(fmt.Sprintf("lexical tokenizer: %v", err))
	}
	err = im.AddCustomAnalyzer(analyzerKey, map[string]any{
		"type":          custom.Name,
		"tokenizer":     tokenizerKey,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		panic(fmt.Sprintf("lexical analyzer: %v", err))
	}
	im.DefaultAnalyzer = analyzerKey
	im.ScoringModel = "bm25"

	text := bleve.NewTextFieldMapping()
	text.Analyzer = analyzerKey
	text.Store = false
	text.IncludeInAll = false
	text.IncludeTermVectors = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(textField, text)
	im.DefaultMapping = doc
	return im
})

func newLexicalIndex() (bleve.Index, error) {
	return bleve.NewMemOnly(lexicalMapping())
}

// BM25Index is an in-memory BM25 index with one bleve index per
// collection. It is safe for concurrent use.
type BM25Index struct {
	mu          sync.RWMutex
	collections map[string]bleve.Index
}

// NewBM25Index returns an empty index.
func NewBM25Index() *BM25Index {
	return &BM25Index{collections: make(map[string]bleve.Index)}
}

// AddTexts indexes texts under ids, replacing documents with the same id.
func (x *BM25Index) AddTexts(collection string, ids, texts []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	idx, ok := x.collections[collection]
	if !ok {
		var err error
		if idx, err = newLexicalIndex(); err != nil {
			log.Error("Failed to open lexical index", "collection", collection, "err", err)
			return
		}
		x.collections[collection] = idx
	}
	if err := indexTexts(idx, ids, texts); err != nil {
		log.Error("Failed to index texts", "collection", collection, "err", err)
	}
}

func indexTexts(idx bleve.Index, ids, texts []string) error {
	b := idx.NewBatch()
	for i := range min(len(ids), len(texts)) {
		if err := b.Index(ids[i], map[string]any{textField: texts[i]}); err != nil {
			return err
		}
	}
	if b.Size() == 0 {
		return nil
	}
	return idx.Batch(b)
}

// DeleteIDs removes documents from a collection.
func (x *BM25Index) DeleteIDs(collection string, ids []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	idx, ok := x.collections[collection]
	if !ok || len(ids) == 0 {
		return
	}
	b := idx.NewBatch()
	for _, id := range ids {
		b.Delete(id)
	}
	if err := idx.Batch(b); err != nil {
		log.Error("Failed to delete texts", "collection", collection, "err", err)
	}
}

// Reset drops a whole collection.
func (x *BM25Index) Reset(collection string) {
	x.mu.Lock()
	idx, ok := x.collections[collection]
	delete(x.collections, collection)
	x.mu.Unlock()
	if ok {
		closeIndex(collection, idx)
	}
}

// Replace swaps the contents of a collection in one step, so searches
// never observe a half-filled collection.
func (x *BM25Index) Replace(collection string, ids, texts []string) {
	next, err := newLexicalIndex()
	if err != nil {
		log.Error("Failed to open lexical index", "collection", collection, "err", err)
		return
	}
	if err := indexTexts(next, ids, texts); err != nil {
		log.Error("Failed to index texts", "collection", collection, "err", err)
		closeIndex(collection, next)
		return
	}
	x.mu.Lock()
	prev, ok := x.collections[collection]
	x.collections[collection] = next
	x.mu.Unlock()
	if ok {
		closeIndex(collection, prev)
	}
}

func closeIndex(collection string, idx bleve.Index) {
	if err := idx.Close(); err != nil {
		log.Warn("Failed to close lexical index", "collection", collection, "err", err)
	}
}

// Search returns the k best documents for query, highest score first.
// Documents sharing no term with the query are not returned.
func (x *BM25Index) Search(collection, query string, k int) []Hit {
	if k <= 0 || len(Tokenize(query)) == 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	idx, ok := x.collections[collection]
	if !ok {
		return nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(textField)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.SortBy([]string{"-_score", "_id"})
	res, err := idx.Search(req)
	if err != nil {
		log.Warn("Lexical search failed", "collection", collection, "err", err)
		return nil
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if h.Score <= 0 {
			continue
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits
}

// BM25Stats describes one collection.
type BM25Stats struct {
	Documents int `json:"documents"`
	Terms     int `json:"terms"`
}

// Stats reports the size of every collection.
func (x *BM25Index) Stats() map[string]BM25Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]BM25Stats, len(x.collections))
	for name, idx := range x.collections {
		var s BM25Stats
		if n, err := idx.DocCount(); err == nil {
			s.Documents = int(n)
		}
		s.Terms = countTerms(idx)
		out[name] = s
	}
	return out
}

func countTerms(idx bleve.Index) int {
	dict, err := idx.FieldDict(textField)
	if err != nil {
		return 0
	}
	defer dict.Close()
	n := 0
	for {
		e, err := dict.Next()
		if err != nil || e == nil {
			return n
		}
		if e.Count > 0 {
			n++
		}
	}
}
