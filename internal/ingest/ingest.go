// Package ingest indexes portfolio exports: documents go to the vector
// store and the BM25 index, and the knowledge graph is rebuilt from the
// same export.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/indexing"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

var log = logger.For("ingest")

var (
	ErrNoExport = errors.New("ingest: no export given")
	ErrNoItems  = errors.New("ingest: no items given")
)

const (
	defaultBatchSize = 64
	embedAttempts    = 3
	pageFetchLimit   = 4
)

// PageLoader fetches the readable text of a web page.
type PageLoader interface {
	Text(ctx context.Context, rawURL string) (string, error)
}

// SnapshotSource loads the export a collection was last built from. It
// returns nil when there is none.
type SnapshotSource interface {
	LatestExport(ctx context.Context, collection string) (*export.Payload, error)
}

// Locker holds a lease shared with other processes while fn runs.
type Locker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Config struct {
	Store    store.DocumentStore
	Embedder store.BatchEmbedder
	Lexical  *retrieval.BM25Index
	Graph    *graph.Holder
	// Pages enables fetching publication URLs into extra documents.
	Pages PageLoader
	// Lock serializes writers of a collection across servers and workers.
	Lock Locker

	MaxChars  int
	BatchSize int
	Parallel  int
	// RetryBackoff is the first wait between embedding attempts.
	RetryBackoff time.Duration
}

// Service runs one ingest at a time.
type Service struct {
	cfg Config
	mu  sync.Mutex
}

func NewService(cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Service{cfg: cfg}
}

// Result summarizes an ingest.
type Result struct {
	Collection string         `json:"collection"`
	Documents  int            `json:"documents"`
	Removed    int64          `json:"removed"`
	Pages      int            `json:"pages,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Generation uint64         `json:"generation,omitempty"`
	ExportHash string         `json:"export_hash,omitempty"`
	Took       string         `json:"took"`
}

// Item is a raw document supplied by a client.
type Item struct {
	ID       string         `json:"id"`
	Text     string         `json:"text" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

// Ingest replaces the contents of collection with the documents of p and
// rebuilds the graph. Documents no longer present in p are removed.
func (s *Service) Ingest(ctx context.Context, collection string, p *export.Payload) (Result, error) {
	if p == nil {
		return Result{}, ErrNoExport
	}
	var res Result
	err := s.exclusive(ctx, collection, func(ctx context.Context) error {
		var err error
		res, err = s.ingest(ctx, collection, p)
		return err
	})
	return res, err
}

func (s *Service) ingest(ctx context.Context, collection string, p *export.Payload) (Result, error) {
	start := time.Now()
	docs := indexing.Normalize(p, indexing.Options{MaxChars: s.cfg.MaxChars})
	pages := 0
	if s.cfg.Pages != nil {
		extra := s.publicationPages(ctx, p.Publications)
		pages = len(extra)
		docs = append(docs, extra...)
	}
	log.Info("Indexing export", "collection", collection, "documents", len(docs), "pages", pages)

	if err := s.write(ctx, collection, docs); err != nil {
		return Result{}, err
	}
	keep := make([]string, len(docs))
	for i, d := range docs {
		keep[i] = rag.DocID(d)
	}
	removed, err := s.cfg.Store.DeleteMissing(ctx, collection, keep)
	if err != nil {
		return Result{}, fmt.Errorf("failed to remove stale documents: %w", err)
	}
	if _, err := s.reloadLexical(ctx, collection); err != nil {
		return Result{}, err
	}

	res := Result{
		Collection: collection,
		Documents:  len(docs),
		Removed:    removed,
		Pages:      pages,
		Counts:     p.Counts(),
		ExportHash: p.Hash(),
	}
	if s.cfg.Graph != nil {
		res.Generation = s.cfg.Graph.Rebuild(p).Number
	}
	res.Took = time.Since(start).String()
	log.Info("Export indexed",
		"collection", collection,
		"documents", res.Documents,
		"removed", res.Removed,
		"generation", res.Generation,
		"took", res.Took,
	)
	return res, nil
}

// IngestItems adds or replaces raw documents without touching the rest of
// the collection or the graph. Items without an id get one from their
// metadata.
func (s *Service) IngestItems(ctx context.Context, collection string, items []Item) (Result, error) {
	if len(items) == 0 {
		return Result{}, ErrNoItems
	}
	docs := make([]rag.Document, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			return Result{}, fmt.Errorf("item %d: empty text", i)
		}
		d := rag.Document{ID: strings.TrimSpace(it.ID), Text: text, Metadata: rag.MetadataFromMap(it.Metadata)}
		id := rag.DocID(d)
		if id == "" {
			return Result{}, fmt.Errorf("item %d: no id and no type/ref_id metadata", i)
		}
		if seen[id] {
			return Result{}, fmt.Errorf("item %d: duplicate id %q", i, id)
		}
		seen[id] = true
		d.ID = id
		d.Metadata.DocID = id
		d.Metadata.ContentHash = indexing.ContentHash(text)
		docs = append(docs, d)
	}

	start := time.Now()
	err := s.exclusive(ctx, collection, func(ctx context.Context) error {
		if err := s.write(ctx, collection, docs); err != nil {
			return err
		}
		_, err := s.reloadLexical(ctx, collection)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	res := Result{Collection: collection, Documents: len(docs), Took: time.Since(start).String()}
	log.Info("Items indexed", "collection", collection, "documents", res.Documents, "took", res.Took)
	return res, nil
}

// Reload refills the BM25 index of collection from the store and, when p
// is given, rebuilds the graph from it. Servers call it at boot and when
// another process finished an ingest.
func (s *Service) Reload(ctx context.Context, collection string, p *export.Payload) (int, error) {
	n, err := s.reloadLexical(ctx, collection)
	if err != nil {
		return 0, err
	}
	if p != nil && s.cfg.Graph != nil {
		s.cfg.Graph.Rebuild(p)
	}
	return n, nil
}

// Restore loads the latest snapshot of collection from src and reloads
// from it. A missing snapshot leaves the graph empty.
func (s *Service) Restore(ctx context.Context, collection string, src SnapshotSource) error {
	var p *export.Payload
	if src != nil {
		var err error
		p, err = src.LatestExport(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
	}
	if p == nil {
		log.Warn("No export snapshot found, graph stays empty", "collection", collection)
	}
	n, err := s.Reload(ctx, collection, p)
	if err != nil {
		return err
	}
	log.Info("Collection restored", "collection", collection, "documents", n, "snapshot", p != nil)
	return nil
}

// exclusive runs fn under the service mutex and, when configured, the
// collection lease.
func (s *Service) exclusive(ctx context.Context, collection string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Lock == nil {
		return fn(ctx)
	}
	return s.cfg.Lock.WithLease(ctx, LeaseKey(collection), fn)
}

// LeaseKey names the lease guarding writes to collection.
func LeaseKey(collection string) string {
	return "ingest:" + collection
}

func (s *Service) write(ctx context.Context, collection string, docs []rag.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if s.cfg.Embedder == nil {
		return fmt.Errorf("ingest: no embedder configured")
	}
	inputs := make([][]byte, len(docs))
	for i, d := range docs {
		inputs[i] = []byte(d.Text)
	}
	vectors, err := util.RetryWithContext(ctx, embedAttempts, s.cfg.RetryBackoff, func(ctx context.Context) ([][]float32, error) {
		return store.GenerateEmbeddings(ctx, s.cfg.Embedder, inputs, s.cfg.BatchSize, s.cfg.Parallel)
	})
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if err := s.cfg.Store.Upsert(ctx, collection, docs, vectors); err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	return nil
}

func (s *Service) reloadLexical(ctx context.Context, collection string) (int, error) {
	docs, err := s.cfg.Store.All(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to load documents: %w", err)
	}
	if s.cfg.Lexical == nil {
		return len(docs), nil
	}
	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = rag.DocID(d)
		texts[i] = d.Text
	}
	s.cfg.Lexical.Replace(collection, ids, texts)
	return len(docs), nil
}

// publicationPages fetches publication URLs. Pages that fail to load are
// skipped.
func (s *Service) publicationPages(ctx context.Context, pubs []export.Publication) []rag.Document {
	results := make([][]rag.Document, len(pubs))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(pageFetchLimit)
	for i, pub := range pubs {
		if strings.TrimSpace(pub.URL) == "" {
			continue
		}
		eg.Go(func() error {
			text, err := s.cfg.Pages.Text(ectx, pub.URL)
			if err != nil {
				log.Warn("Publication page skipped", "url", pub.URL, "err", err)
				return nil
			}
			if text == "" {
				return nil
			}
			md := indexing.PublicationMetadata(pub)
			md.RefID = pub.ID.String() + ":page"
			md.Kind = "page"
			results[i] = indexing.Chunk(md, pub.Title+"\n"+text, s.cfg.MaxChars)
			return nil
		})
	}
	_ = eg.Wait()

	var out []rag.Document
	for _, docs := range results {
		out = append(out, docs...)
	}
	return out
}
