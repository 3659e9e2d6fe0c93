package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *Client) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.Options(ai.GenerateOptions{Model: c.chatModel, Temperature: 0.3}, opts...)
	return c.chat(ctx, options, []api.Message{{Role: "user", Content: prompt}}, nil)
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	format, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.Options(ai.GenerateOptions{Model: c.chatModel, Temperature: 0.1}, opts...)
	content, err := c.chat(ctx, options, []api.Message{{Role: "user", Content: prompt}}, format)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(content, out)
}

// GenerateChat sends a multi-turn conversation and returns the reply.
func (c *Client) GenerateChat(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.Options(ai.GenerateOptions{Model: c.chatModel, Temperature: 0.3}, opts...)
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != "assistant" && role != "system" {
			role = "user"
		}
		msgs = append(msgs, api.Message{Role: role, Content: m.Message})
	}
	return c.chat(ctx, options, msgs, nil)
}

func (c *Client) chat(ctx context.Context, options ai.GenerateOptions, msgs []api.Message, format json.RawMessage) (string, error) {
	all := make([]api.Message, 0, len(options.SystemPrompts)+len(msgs))
	for _, sp := range options.SystemPrompts {
		all = append(all, api.Message{Role: "system", Content: sp})
	}
	all = append(all, msgs...)

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: all,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}
	if options.MaxTokens > 0 {
		req.Options["num_predict"] = options.MaxTokens
	}

	var text strings.Builder
	for _, m := range all {
		text.WriteString(m.Content)
		text.WriteByte('\n')
	}
	if n := c.contextSize(text.String()); n > 0 {
		req.Options["num_ctx"] = n
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var content strings.Builder
	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		content.WriteString(cr.Message.Content)
		if cr.Done {
			final = cr
		}
		return nil
	}); err != nil {
		return "", err
	}

	c.metrics.Add(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	out := content.String()
	if strings.TrimSpace(out) == "" {
		return "", errors.New("empty response from model")
	}
	return out, nil
}
