package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/store"
	"github.com/OFFIS-RIT/folio/backend/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coll = "portfolio"

type fixture struct {
	svc   *Service
	store *memory.Storage
	lex   *retrieval.BM25Index
	graph *graph.Holder
}

func newFixture(t *testing.T, pages PageLoader) fixture {
	t.Helper()
	emb := retrieval.HashEmbedder{Dim: 64}
	f := fixture{
		store: memory.NewStorage(emb),
		lex:   retrieval.NewBM25Index(),
		graph: graph.NewHolder(nil, graph.BuildOptions{}),
	}
	f.svc = NewService(Config{
		Store:        f.store,
		Embedder:     store.Batched(emb),
		Lexical:      f.lex,
		Graph:        f.graph,
		Pages:        pages,
		BatchSize:    2,
		RetryBackoff: time.Millisecond,
	})
	return f
}

func payload() *export.Payload {
	return &export.Payload{
		Profile: &export.Profile{ID: "1", FullName: "Test Person", Title: "Engineer"},
		Projects: []export.Project{
			{ID: "5", Name: "Atlas", Slug: "atlas", DescriptionMD: "Гибридный поиск", Technologies: []string{"Go"}},
			{ID: "6", Name: "Gateway", Slug: "gateway", DescriptionMD: "Платежный шлюз"},
		},
		Technologies: []export.Technology{{ID: "1", Name: "Go", Slug: "go"}},
		Publications: []export.Publication{
			{ID: "9", Title: "Hybrid RAG", URL: "https://example.org/rag"},
			{ID: "10", Title: "Offline", URL: "https://example.org/broken"},
			{ID: "11", Title: "No link"},
		},
	}
}

type fakePages struct {
	calls atomic.Int32
}

func (f *fakePages) Text(_ context.Context, rawURL string) (string, error) {
	f.calls.Add(1)
	if rawURL == "https://example.org/broken" {
		return "", errors.New("status 500")
	}
	return "Reciprocal rank fusion combines dense and lexical search.", nil
}

func TestIngest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, coll, payload())
	require.NoError(t, err)

	// profile, 2 projects, 1 technology, 3 publications
	assert.Equal(t, 7, res.Documents)
	assert.Zero(t, res.Removed)
	assert.Zero(t, res.Pages)
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 2, res.Counts["projects"])
	assert.Equal(t, payload().Hash(), res.ExportHash)

	n, err := f.store.Count(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	hits := f.lex.Search(coll, "платежный шлюз", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "project:6", hits[0].ID)

	gen, err := f.graph.Latest()
	require.NoError(t, err)
	assert.Equal(t, 2, gen.Registry.Stats()[graph.KindProject])
}

func TestIngestRemovesStaleDocuments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, coll, payload())
	require.NoError(t, err)

	p := payload()
	p.Projects = p.Projects[:1]
	res, err := f.svc.Ingest(ctx, coll, p)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Removed)
	assert.Equal(t, uint64(2), res.Generation)
	assert.Empty(t, f.lex.Search(coll, "платежный шлюз", 5))
	docs, err := f.store.Collection(coll).FetchByIDs(ctx, []string{"project:6", "project:5"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "project:5", docs[0].ID)
}

func TestIngestFetchesPublicationPages(t *testing.T) {
	pages := &fakePages{}
	f := newFixture(t, pages)

	res, err := f.svc.Ingest(context.Background(), coll, payload())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 8, res.Documents)
	assert.Equal(t, int32(2), pages.calls.Load())

	docs, err := f.store.Collection(coll).FetchByIDs(context.Background(), []string{"publication:9:page"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Hybrid RAG\nReciprocal rank fusion combines dense and lexical search.", docs[0].Text)
	assert.Equal(t, "page", docs[0].Metadata.Kind)
	assert.Equal(t, "https://example.org/rag", docs[0].Metadata.URL)
}

func TestIngestNilExport(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Ingest(context.Background(), coll, nil)
	assert.ErrorIs(t, err, ErrNoExport)
}

type failingEmbedder struct {
	calls atomic.Int32
}

func (f *failingEmbedder) GenerateEmbeddings(context.Context, [][]byte) ([][]float32, error) {
	f.calls.Add(1)
	return nil, errors.New("embedding endpoint down")
}

func TestIngestEmbeddingFailure(t *testing.T) {
	emb := &failingEmbedder{}
	st := memory.NewStorage(retrieval.HashEmbedder{})
	h := graph.NewHolder(nil, graph.BuildOptions{})
	svc := NewService(Config{Store: st, Embedder: emb, Graph: h, RetryBackoff: time.Millisecond})

	_, err := svc.Ingest(context.Background(), coll, payload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding endpoint down")
	assert.Equal(t, int32(embedAttempts), emb.calls.Load())

	_, err = h.Latest()
	assert.ErrorIs(t, err, graph.ErrNoGeneration, "graph is not rebuilt when indexing fails")
}

func TestIngestItems(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.IngestItems(ctx, coll, []Item{
		{ID: "note:1", Text: "Заметка про Kubernetes"},
		{Text: "Проект из метаданных", Metadata: map[string]any{"type": "project", "ref_id": 42, "name": "Meta"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.Zero(t, res.Generation)

	docs, err := f.store.All(ctx, coll)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "project:42", docs[1].ID)
	assert.Equal(t, "Meta", docs[1].Metadata.Name)
	assert.NotEmpty(t, docs[1].Metadata.ContentHash)

	hits := f.lex.Search(coll, "kubernetes", 5)
	require.Len(t, hits, 1)
	assert.Equal(t, "note:1", hits[0].ID)
}

func TestIngestItemsValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.IngestItems(ctx, coll, nil)
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = f.svc.IngestItems(ctx, coll, []Item{{ID: "a", Text: " "}})
	assert.ErrorContains(t, err, "empty text")

	_, err = f.svc.IngestItems(ctx, coll, []Item{{Text: "no id"}})
	assert.ErrorContains(t, err, "no id")

	_, err = f.svc.IngestItems(ctx, coll, []Item{{ID: "a", Text: "x"}, {ID: "a", Text: "y"}})
	assert.ErrorContains(t, err, "duplicate id")
}

type snapshotFunc func(ctx context.Context, collection string) (*export.Payload, error)

func (f snapshotFunc) LatestExport(ctx context.Context, collection string) (*export.Payload, error) {
	return f(ctx, collection)
}

func TestRestore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Ingest(ctx, coll, payload())
	require.NoError(t, err)

	// a fresh process sharing the store
	lex := retrieval.NewBM25Index()
	h := graph.NewHolder(nil, graph.BuildOptions{})
	fresh := NewService(Config{Store: f.store, Lexical: lex, Graph: h})

	require.NoError(t, fresh.Restore(ctx, coll, snapshotFunc(func(context.Context, string) (*export.Payload, error) {
		return payload(), nil
	})))
	assert.NotEmpty(t, lex.Search(coll, "платежный шлюз", 5))
	gen, err := h.Latest()
	require.NoError(t, err)
	assert.Equal(t, payload().Hash(), gen.Hash)

	empty := NewService(Config{Store: f.store, Graph: graph.NewHolder(nil, graph.BuildOptions{})})
	require.NoError(t, empty.Restore(ctx, coll, snapshotFunc(func(context.Context, string) (*export.Payload, error) {
		return nil, nil
	})))

	err = empty.Restore(ctx, coll, snapshotFunc(func(context.Context, string) (*export.Payload, error) {
		return nil, errors.New("s3 down")
	}))
	assert.ErrorContains(t, err, "s3 down")
}

type recordingLock struct {
	keys []string
	err  error
}

func (l *recordingLock) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func TestIngestHoldsCollectionLease(t *testing.T) {
	f := newFixture(t, nil)
	lock := &recordingLock{}
	f.svc.cfg.Lock = lock
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, coll, payload())
	require.NoError(t, err)
	_, err = f.svc.IngestItems(ctx, coll, []Item{{ID: "note:1", Text: "text"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest:portfolio", "ingest:portfolio"}, lock.keys)

	lock.err = errors.New("lease busy")
	_, err = f.svc.Ingest(ctx, coll, payload())
	assert.ErrorContains(t, err, "lease busy")
	gen, err := f.graph.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen.Number, "no rebuild without the lease")
}
