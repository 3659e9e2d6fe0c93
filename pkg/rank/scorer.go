// Package rank scores retrieved documents against a question, applies the
// entity policy and selects the evidence that reaches the answer stage.
package rank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"golang.org/x/sync/semaphore"
)

// Pair is one (question, passage) input of a cross-encoder.
type Pair struct {
	Query string
	Text  string
}

// Scorer returns one relevance score per pair, in input order.
type Scorer interface {
	Predict(ctx context.Context, pairs []Pair) ([]float64, error)
}

// HTTPScorer calls a text-embeddings-inference compatible /rerank endpoint.
// Pairs sharing a query are sent in one request.
type HTTPScorer struct {
	URL    string
	Client *http.Client
}

// NewHTTPScorer returns a scorer for the service at baseURL.
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{
		URL:    strings.TrimRight(baseURL, "/") + "/rerank",
		Client: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (s *HTTPScorer) Predict(ctx context.Context, pairs []Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	groups := make(map[string][]int)
	var queries []string
	for i, p := range pairs {
		if _, ok := groups[p.Query]; !ok {
			queries = append(queries, p.Query)
		}
		groups[p.Query] = append(groups[p.Query], i)
	}
	for _, q := range queries {
		idx := groups[q]
		texts := make([]string, len(idx))
		for j, i := range idx {
			texts[j] = pairs[i].Text
		}
		scores, err := s.call(ctx, q, texts)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			out[i] = scores[j]
		}
	}
	return out, nil
}

func (s *HTTPScorer) call(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	scores := make([]float64, len(texts))
	seen := 0
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank index out of range: %d", r.Index)
		}
		scores[r.Index] = r.Score
		seen++
	}
	if seen != len(texts) {
		return nil, fmt.Errorf("rerank result size mismatch: got %d want %d", seen, len(texts))
	}
	return scores, nil
}

// OverlapScorer scores a pair by the share of query tokens found in the
// passage. It needs no model and is used when no cross-encoder is
// configured.
type OverlapScorer struct{}

func (OverlapScorer) Predict(_ context.Context, pairs []Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		q := uniqueTokens(p.Query)
		if len(q) == 0 {
			continue
		}
		text := uniqueTokens(p.Text)
		hits := 0
		for t := range q {
			if _, ok := text[t]; ok {
				hits++
			}
		}
		out[i] = float64(hits) / float64(len(q))
	}
	return out, nil
}

func uniqueTokens(s string) map[string]struct{} {
	toks := retrieval.Tokenize(s)
	out := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		out[t] = struct{}{}
	}
	return out
}

// PooledScorer bounds the number of concurrent calls into a scorer and
// gives each call its own deadline.
type PooledScorer struct {
	inner   Scorer
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPooledScorer wraps inner with a pool of size slots.
func NewPooledScorer(inner Scorer, size int, timeout time.Duration) *PooledScorer {
	if size <= 0 {
		size = 1
	}
	return &PooledScorer{inner: inner, sem: semaphore.NewWeighted(int64(size)), timeout: timeout}
}

func (p *PooledScorer) Predict(ctx context.Context, pairs []Pair) ([]float64, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.inner.Predict(ctx, pairs)
}
