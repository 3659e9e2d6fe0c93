package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const article = `<!doctype html>
<html><head><title>Hybrid search</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Hybrid search</h1>
<p>%s</p>
<p>%s</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestLoaderText(t *testing.T) {
	paragraph := strings.Repeat("Dense and lexical retrieval are fused with reciprocal rank fusion. ", 12)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, article, paragraph, paragraph)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "  plain text  ")
		case "/binary":
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, "%PDF")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewLoader(WithHTTPClient(srv.Client()))
	ctx := context.Background()

	text, err := l.Text(ctx, srv.URL+"/page")
	if err != nil {
		t.Fatalf("html page: %v", err)
	}
	if !strings.Contains(text, "reciprocal rank fusion") {
		t.Fatalf("article text missing: %q", text)
	}

	if _, err := l.Text(ctx, srv.URL+"/page"); err != nil {
		t.Fatalf("cached page: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one fetch for a cached page, got %d", got)
	}

	plain, err := l.Text(ctx, srv.URL+"/plain")
	if err != nil || plain != "plain text" {
		t.Fatalf("plain text: %q, %v", plain, err)
	}

	if _, err := l.Text(ctx, srv.URL+"/binary"); err == nil {
		t.Fatalf("expected an error for a binary response")
	}
	if _, err := l.Text(ctx, srv.URL+"/missing"); err == nil {
		t.Fatalf("expected an error for a 404")
	}
}

func TestLoaderRejectsBadURLs(t *testing.T) {
	l := NewLoader()
	for _, u := range []string{"", "ftp://example.org/x", "not a url", "/relative"} {
		if _, err := l.Text(context.Background(), u); err == nil {
			t.Fatalf("expected an error for %q", u)
		}
	}
}
