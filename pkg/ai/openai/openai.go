// Package openai implements ai.Client on top of any OpenAI compatible
// endpoint.
package openai

import (
	"time"

	"github.com/OFFIS-RIT/folio/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// Client talks to one chat endpoint and one embedding endpoint, which may
// be the same server.
//
// A Client should be created using NewClient.
type Client struct {
	chatModel      string
	embeddingModel string
	embeddingDim   int
	chatURL        string
	timeout        time.Duration

	chatLock      *semaphore.Weighted
	embeddingLock *semaphore.Weighted
	metrics       ai.Metrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewClientParams configures NewClient.
//
// ChatURL and EmbeddingURL may be empty for api.openai.com. EmbeddingKey
// falls back to ChatKey. Parallel bounds the number of in-flight requests
// per endpoint.
type NewClientParams struct {
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	Parallel int
	Timeout  time.Duration
}

// NewClient returns a Client for params.
//
// Example:
//
//	client := openai.NewClient(openai.NewClientParams{
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingModel: "text-embedding-3-small",
//		EmbeddingDim:   1536,
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//	})
func NewClient(params NewClientParams) *Client {
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	embedKey := params.EmbeddingKey
	if embedKey == "" {
		embedKey = params.ChatKey
	}
	embedURL := params.EmbeddingURL
	if embedURL == "" {
		embedURL = params.ChatURL
	}

	return &Client{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,
		chatURL:        params.ChatURL,
		timeout:        timeout,

		chatLock:      semaphore.NewWeighted(int64(parallel)),
		embeddingLock: semaphore.NewWeighted(int64(parallel)),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(embedURL, embedKey),
	}
}

func newOpenaiClient(baseURL, apiKey string) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(options...)
	return &client
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
