// Package aitest provides a scripted ai.Client for tests.
package aitest

import (
	"context"
	"errors"
	"sync"

	"github.com/OFFIS-RIT/folio/backend/pkg/ai"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
)

// ErrExhausted is returned once all scripted replies have been consumed.
var ErrExhausted = errors.New("aitest: no scripted reply left")

// Reply is one scripted model answer. Text is returned verbatim by the
// plain completion calls and decoded by GenerateCompletionWithFormat.
type Reply struct {
	Text string
	Err  error
}

// Call records one request made against the fake.
type Call struct {
	Name    string
	Prompt  string
	Options ai.GenerateOptions
}

// Client replays Replies in order and records every call. Embeddings are
// produced by a hashing embedder so that similar texts stay close.
type Client struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
	metrics ai.Metrics

	Embedder retrieval.HashEmbedder
}

// New returns a fake that answers with replies in order.
func New(replies ...Reply) *Client {
	return &Client{replies: replies}
}

// Text is shorthand for a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail is shorthand for a failing reply.
func Fail(err error) Reply { return Reply{Err: err} }

// Push appends more scripted replies.
func (c *Client) Push(replies ...Reply) {
	c.mu.Lock()
	c.replies = append(c.replies, replies...)
	c.mu.Unlock()
}

// Calls returns the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *Client) next(name, prompt string, opts []ai.GenerateOption) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Name: name, Prompt: prompt, Options: ai.Options(ai.GenerateOptions{}, opts...)})
	c.metrics.Add(ai.ModelMetrics{InputTokens: len(prompt) / 4, TotalTokens: len(prompt) / 4})
	if len(c.replies) == 0 {
		return "", ErrExhausted
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.Text, r.Err
}

func (c *Client) GenerateCompletion(_ context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return c.next("completion", prompt, opts)
}

func (c *Client) GenerateCompletionWithFormat(_ context.Context, name, _ string, prompt string, out any, opts ...ai.GenerateOption) error {
	text, err := c.next(name, prompt, opts)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(text, out)
}

func (c *Client) GenerateChat(_ context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Message
	}
	return c.next("chat", prompt, opts)
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return c.Embedder.GenerateEmbedding(ctx, input)
}

func (c *Client) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, err := c.Embedder.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *Client) ResetMetrics()               { c.metrics.Reset() }
func (c *Client) GetMetrics() ai.ModelMetrics { return c.metrics.Snapshot() }

var _ ai.Client = (*Client)(nil)
