package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

var log = logger.For("pgstore")

const upsertChunkSize = 500

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// DocumentStorage keeps documents and their embeddings in the documents
// table. Dense search uses pgvector cosine distance.
type DocumentStorage struct {
	conn     pgxIConn
	embedder retrieval.Embedder
}

type DocumentStorageOption func(*DocumentStorage)

// WithEmbedder sets the embedder used for query vectors in
// SimilaritySearch.
func WithEmbedder(e retrieval.Embedder) DocumentStorageOption {
	return func(s *DocumentStorage) {
		s.embedder = e
	}
}

// NewDocumentStorageWithConnection creates a store over an existing
// connection or pool. The pgvector types must be registered on conn.
func NewDocumentStorageWithConnection(conn pgxIConn, opts ...DocumentStorageOption) *DocumentStorage {
	s := &DocumentStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

const upsertSQL = `
INSERT INTO documents (collection, id, doc_type, parent_id, content, metadata, content_hash, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (collection, id) DO UPDATE SET
	doc_type = EXCLUDED.doc_type,
	parent_id = EXCLUDED.parent_id,
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata,
	content_hash = EXCLUDED.content_hash,
	embedding = EXCLUDED.embedding,
	updated_at = now()`

// Upsert writes docs in transactions of upsertChunkSize rows.
func (s *DocumentStorage) Upsert(ctx context.Context, collection string, docs []rag.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("upsert: %d documents but %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	log.Debug("Upserting documents", "collection", collection, "documents", len(docs))

	return store.ChunkRange(len(docs), upsertChunkSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		batch := &pgxv5.Batch{}
		for i := start; i < end; i++ {
			d := docs[i]
			id := rag.DocID(d)
			if id == "" {
				return fmt.Errorf("upsert: document without id: %q", util.Truncate(d.Text, 40))
			}
			md, err := json.Marshal(d.Metadata)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", id, err)
			}
			batch.Queue(upsertSQL,
				collection,
				id,
				d.Metadata.Type,
				d.Metadata.ParentID,
				util.SanitizePostgresText(d.Text),
				md,
				d.Metadata.ContentHash,
				pgvector.NewVector(vectors[i]),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert documents %d-%d: %w", start, end, err)
		}
		return tx.Commit(ctx)
	})
}

func (s *DocumentStorage) DeleteIDs(ctx context.Context, collection string, ids []string) error {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = ANY($2)`,
		collection, ids,
	)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *DocumentStorage) DeleteMissing(ctx context.Context, collection string, keep []string) (int64, error) {
	keep = store.DedupeStrings(keep)
	if keep == nil {
		// a NULL array would match nothing
		keep = []string{}
	}
	tag, err := s.conn.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND NOT (id = ANY($2))`,
		collection, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *DocumentStorage) All(ctx context.Context, collection string) ([]rag.Document, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, content, metadata FROM documents WHERE collection = $1 ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return scanDocuments(rows)
}

func (s *DocumentStorage) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM documents WHERE collection = $1`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Collection returns a dense index bound to one collection.
func (s *DocumentStorage) Collection(name string) *CollectionIndex {
	return &CollectionIndex{storage: s, collection: name}
}

// CollectionIndex is the retrieval.VectorIndex view of one collection.
type CollectionIndex struct {
	storage    *DocumentStorage
	collection string
}

// SimilaritySearch embeds query and returns the k nearest documents that
// pass the type and project filters. Metadata equality filters are applied
// in Go because the filter values may be lists.
func (c *CollectionIndex) SimilaritySearch(ctx context.Context, query string, k int, filter retrieval.Filter) ([]rag.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, retrieval.ErrEmptyQuery
	}
	if c.storage.embedder == nil {
		return nil, fmt.Errorf("similarity search: no embedder configured")
	}
	vec, err := c.storage.embedder.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sql, args := similaritySQL(c.collection, pgvector.NewVector(vec), k, filter)
	rows, err := c.storage.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	return retrieval.FilterDocs(docs, retrieval.Filter{Where: filter.Where}), nil
}

// similaritySQL builds the nearest neighbour query. Documents without a
// type pass a type filter, as in retrieval.Filter.
func similaritySQL(collection string, vec pgvector.Vector, k int, filter retrieval.Filter) (string, []any) {
	var b strings.Builder
	args := []any{collection, vec}
	b.WriteString(`SELECT id, content, metadata FROM documents WHERE collection = $1`)
	if len(filter.Types) > 0 {
		args = append(args, filter.Types)
		fmt.Fprintf(&b, ` AND (doc_type = '' OR doc_type = ANY($%d))`, len(args))
	}
	if len(filter.ProjectIDs) > 0 {
		args = append(args, filter.ProjectIDs)
		n := len(args)
		fmt.Fprintf(&b, ` AND (metadata->>'project_id' = ANY($%d) OR metadata->'project_ids' ?| $%d)`, n, n)
	}
	if k <= 0 {
		k = 10
	}
	// over-fetch so that Where filtering in Go still leaves k candidates
	limit := k
	if len(filter.Where) > 0 {
		limit = k * 4
	}
	args = append(args, limit)
	fmt.Fprintf(&b, ` ORDER BY embedding <=> $2 LIMIT $%d`, len(args))
	return b.String(), args
}

func (c *CollectionIndex) FetchByIDs(ctx context.Context, ids []string) ([]rag.Document, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.storage.conn.Query(ctx,
		`SELECT id, content, metadata FROM documents WHERE collection = $1 AND id = ANY($2)`,
		c.collection, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	// keep the requested order
	byID := make(map[string]rag.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]rag.Document, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func scanDocuments(rows pgxv5.Rows) ([]rag.Document, error) {
	defer rows.Close()
	var out []rag.Document
	for rows.Next() {
		var (
			d  rag.Document
			md []byte
		)
		if err := rows.Scan(&d.ID, &d.Text, &md); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(md) > 0 {
			if err := json.Unmarshal(md, &d.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	_ store.DocumentStore   = (*DocumentStorage)(nil)
	_ retrieval.VectorIndex = (*CollectionIndex)(nil)
)
