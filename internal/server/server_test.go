package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/folio/backend/internal/ingest"
	"github.com/OFFIS-RIT/folio/backend/internal/queue"
	mid "github.com/OFFIS-RIT/folio/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/folio/backend/internal/storage"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/executor"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/rank"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/store"
	"github.com/OFFIS-RIT/folio/backend/pkg/store/memory"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	masterKey = "master-secret"
	jwtSecret = "jwt-secret"

	exportBody = `{
		"profile": {"id": 1, "full_name": "Test Person", "title": "Engineer"},
		"projects": [{"id": 5, "name": "Atlas", "slug": "atlas", "description_md": "Гибридный поиск по портфолио"}]
	}`
)

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(m.objects[*in.Key]))}, nil
}

func (m *memS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (m *memS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range in.Delete.Objects {
		delete(m.objects, *o.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

type published struct {
	exchange, key string
	body          []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{exchange, key, msg.Body})
	return nil
}

func newTestApp() *mid.App {
	emb := retrieval.HashEmbedder{Dim: 32}
	docs := memory.NewStorage(emb)
	lex := retrieval.NewBM25Index()
	holder := graph.NewHolder(nil, graph.BuildOptions{})
	return &mid.App{
		Agent: agent.NewService(agent.Config{
			Graph: holder,
			Search: executor.SearchTool{
				Retriever: retrieval.NewHybridRetriever(docs.Collection("portfolio"), lex, "portfolio"),
				Scorer:    rank.OverlapScorer{},
			},
			Collection: "portfolio",
		}),
		Ingest: ingest.NewService(ingest.Config{
			Store:    docs,
			Embedder: store.Batched(emb),
			Lexical:  lex,
			Graph:    holder,
		}),
		Lexical:      lex,
		Collection:   "portfolio",
		MasterAPIKey: masterKey,
		Key: func(*jwt.Token) (any, error) {
			return []byte(jwtSecret), nil
		},
	}
}

func do(t *testing.T, app *mid.App, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	New(app).ServeHTTP(rec, req)
	return rec
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(mid.RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(mid.RequestIDHeader, "abc123")
	rec := httptest.NewRecorder()
	New(newTestApp()).ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get(mid.RequestIDHeader))
}

func TestAskValidation(t *testing.T) {
	app := newTestApp()
	tests := []struct {
		name string
		body string
	}{
		{"missing question", `{}`},
		{"k too large", `{"question": "q", "k": 100}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, app, http.MethodPost, "/api/ask", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAskOnEmptyIndex(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodPost, "/api/ask", "", `{"question": "Какие проекты?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp agent.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
	assert.NotEmpty(t, resp.Answer)
	assert.NotNil(t, resp.Sources)
}

func TestIngestRequiresAuth(t *testing.T) {
	app := newTestApp()
	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"user role", signed(t, jwt.MapClaims{"sub": "u1", "role": "user"}), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, app, http.MethodPost, "/api/ingest", tt.token, exportBody)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestIngestThenAsk(t *testing.T) {
	app := newTestApp()

	rec := do(t, app, http.MethodPost, "/api/ingest", masterKey, exportBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "portfolio", res.Collection)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, uint64(1), res.Generation)

	rec = do(t, app, http.MethodGet, "/api/graph/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Generation uint64                         `json:"generation"`
		Lexical    map[string]retrieval.BM25Stats `json:"lexical"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Contains(t, stats.Lexical, "portfolio")

	rec = do(t, app, http.MethodPost, "/api/ask", "", `{"question": "Гибридный поиск по портфолио"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp agent.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Answer)
}

func TestIngestWithAdminToken(t *testing.T) {
	token := signed(t, jwt.MapClaims{"sub": "admin-1", "role": "admin"})
	rec := do(t, newTestApp(), http.MethodPost, "/api/ingest/items", token,
		`{"items": [{"id": "note:1", "text": "Заметка о проекте"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"documents":1`)
}

func TestIngestItemsValidation(t *testing.T) {
	app := newTestApp()
	tests := []struct {
		name string
		body string
		code int
	}{
		{"no items", `{"items": []}`, http.StatusBadRequest},
		{"empty text", `{"items": [{"id": "a", "text": ""}]}`, http.StatusBadRequest},
		{"duplicate ids", `{"items": [{"id": "a", "text": "x"}, {"id": "a", "text": "y"}]}`, http.StatusUnprocessableEntity},
		{"no id", `{"items": [{"text": "x"}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, app, http.MethodPost, "/api/ingest/items", masterKey, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestIngestRejectsInvalidExport(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodPost, "/api/ingest", masterKey, `[1, 2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestAsyncNotConfigured(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodPost, "/api/ingest/async", masterKey, exportBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestAsync(t *testing.T) {
	objects := &memS3{objects: map[string][]byte{}}
	pub := &fakePublisher{}
	app := newTestApp()
	app.Exports = storage.NewExportStore(objects, "bucket")
	app.Queue = pub

	rec := do(t, app, http.MethodPost, "/api/ingest/async?collection=team", masterKey, exportBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Collection    string `json:"collection"`
		ObjectKey     string `json:"object_key"`
		CorrelationID string `json:"correlation_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "team", resp.Collection)
	assert.True(t, strings.HasPrefix(resp.ObjectKey, "exports/team/"))
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Contains(t, objects.objects, resp.ObjectKey)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "", pub.msgs[0].exchange)
	assert.Equal(t, queue.IngestQueue, pub.msgs[0].key)
	var job queue.IngestJob
	require.NoError(t, json.Unmarshal(pub.msgs[0].body, &job))
	assert.Equal(t, resp.ObjectKey, job.ObjectKey)
	assert.Equal(t, resp.CorrelationID, job.CorrelationID)
	assert.Equal(t, "team", job.Collection)
}

func TestSyncIngestAnnouncesRebuild(t *testing.T) {
	objects := &memS3{objects: map[string][]byte{}}
	pub := &fakePublisher{}
	app := newTestApp()
	app.Exports = storage.NewExportStore(objects, "bucket")
	app.Queue = pub

	rec := do(t, app, http.MethodPost, "/api/ingest", masterKey, exportBody)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, objects.objects, 1)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, queue.Exchange, pub.msgs[0].exchange)
	assert.Equal(t, queue.TopicRebuild, pub.msgs[0].key)
	var event queue.RebuildEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].body, &event))
	assert.Equal(t, "portfolio", event.Collection)
	assert.Equal(t, 2, event.Documents)
}

func TestRebuildHandlerReloadsFromSnapshot(t *testing.T) {
	objects := &memS3{objects: map[string][]byte{}}
	exports := storage.NewExportStore(objects, "bucket")
	key, err := exports.PutExport(context.Background(), "portfolio", "c1", []byte(exportBody))
	require.NoError(t, err)

	app := newTestApp()
	handle := rebuildHandler(app.Ingest, exports)
	require.NoError(t, handle(context.Background(), queue.RebuildEvent{Collection: "portfolio", ObjectKey: key}))
	assert.Equal(t, uint64(1), app.Agent.Stats().Generation)
}
