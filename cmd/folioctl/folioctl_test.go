package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testExport = `{
	"profile": {"id": 1, "full_name": "Test Person", "title": "Backend Engineer"},
	"projects": [{"id": 5, "name": "Atlas", "slug": "atlas", "description_md": "Гибридный поиск по документам", "technologies": ["Go"]}],
	"technologies": [{"id": 1, "name": "Go", "slug": "go", "category": "language"}]
}`

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(testExport), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RERANK_URL", "")
	t.Setenv("PIPELINE_RULES_PATH", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAsk(t *testing.T) {
	out, err := run(t, "ask", "--export", writeExport(t), "Гибридный", "поиск")
	require.NoError(t, err)
	assert.Contains(t, out, "confidence:")
}

func TestAskJSON(t *testing.T) {
	out, err := run(t, "ask", "--json", "--export", writeExport(t), "Что за проект Atlas?")
	require.NoError(t, err)
	assert.Contains(t, out, `"answer"`)
	assert.Contains(t, out, `"warnings"`)
}

func TestAskNeedsExport(t *testing.T) {
	_, err := run(t, "ask", "вопрос")
	assert.ErrorContains(t, err, "--export")
}

func TestGraphStats(t *testing.T) {
	out, err := run(t, "graph", "stats", "--export", writeExport(t))
	require.NoError(t, err)
	assert.Contains(t, out, `"generation": 1`)
	assert.Contains(t, out, `"documents"`)
}

func TestIngest(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documents": 3}`))
	}))
	defer srv.Close()

	out, err := run(t, "ingest", "--export", writeExport(t), "--server", srv.URL, "--key", "k1", "--collection", "team")
	require.NoError(t, err)
	assert.Equal(t, "/api/ingest?collection=team", gotPath)
	assert.Equal(t, "Bearer k1", gotAuth)
	assert.JSONEq(t, testExport, gotBody)
	assert.Contains(t, out, `"documents": 3`)
}

func TestIngestAsyncServerError(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		http.Error(w, `{"error":"Async ingest is not configured"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := run(t, "ingest", "--async", "--export", writeExport(t), "--server", srv.URL, "--key", "k1")
	assert.Equal(t, "/api/ingest/async", gotPath)
	assert.ErrorContains(t, err, "503")
}

func TestIngestNeedsKey(t *testing.T) {
	t.Setenv("MASTER_API_KEY", "")
	_, err := run(t, "ingest", "--export", writeExport(t), "--key", "")
	assert.ErrorContains(t, err, "--key")
}
