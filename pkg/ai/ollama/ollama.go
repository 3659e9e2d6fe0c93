// Package ollama implements ai.Client against an Ollama server.
package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/folio/backend/pkg/ai"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/semaphore"
)

// Client implements ai.Client using a locally hosted Ollama.
type Client struct {
	chatModel      string
	embeddingModel string
	embeddingDim   int
	timeout        time.Duration

	reqLock *semaphore.Weighted
	metrics ai.Metrics

	encOnce sync.Once
	enc     *tiktoken.Tiktoken

	Client *api.Client
}

// NewClientParams configures NewClient.
type NewClientParams struct {
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int

	BaseURL string
	APIKey  string

	MaxConcurrentRequests int64
	Timeout               time.Duration
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient connects to the Ollama server at BaseURL, or the default
// address when empty. A non-empty APIKey is sent as a bearer token for
// servers behind an authenticating proxy.
func NewClient(params NewClientParams) (*Client, error) {
	var u *url.URL
	if params.BaseURL != "" {
		parsed, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
		u = parsed
	}

	httpClient := http.DefaultClient
	if params.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{"Authorization": "Bearer " + params.APIKey},
				rt:      http.DefaultTransport,
			},
		}
	}

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 2
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,
		timeout:        timeout,
		reqLock:        semaphore.NewWeighted(maxReq),
		Client:         api.NewClient(u, httpClient),
	}, nil
}

// contextSize returns the num_ctx to request for prompt, or 0 to keep the
// server default. Without a tokenizer the size is estimated from runes.
func (c *Client) contextSize(prompt string) int {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("o200k_base")
		if err != nil {
			logger.Warn("Tokenizer unavailable, estimating context size", "err", err)
			return
		}
		c.enc = enc
	})

	tokens := 200
	if c.enc != nil {
		tokens += len(c.enc.Encode(prompt, nil, nil))
	} else {
		tokens += (len([]rune(prompt)) + 3) / 4
	}
	if tokens > 4096 {
		return tokens
	}
	return 0
}

// ResetMetrics clears the accumulated usage.
func (c *Client) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns the usage accumulated since the last reset.
func (c *Client) GetMetrics() ai.ModelMetrics {
	return c.metrics.Snapshot()
}

var _ ai.Client = (*Client)(nil)
