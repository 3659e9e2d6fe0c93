// Package web fetches pages and extracts their readable text.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/folio/backend/pkg/logger"

	"codeberg.org/readeck/go-readability/v2"
	"golang.org/x/sync/singleflight"
)

var log = logger.For("web")

// DefaultMaxBytes caps the body read from one page.
const DefaultMaxBytes = 2 << 20

// Loader fetches URLs and extracts readable text. HTML pages go through
// readability; text responses are returned as is. Results are cached per
// URL for the lifetime of the loader and concurrent fetches of one URL are
// collapsed.
type Loader struct {
	client   *http.Client
	maxBytes int64

	cache   map[string]string
	cacheMu sync.RWMutex
	group   singleflight.Group
}

type Option func(*Loader)

func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		l.client = c
	}
}

func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		l.maxBytes = n
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: 20 * time.Second},
		maxBytes: DefaultMaxBytes,
		cache:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Text returns the readable text of the page at rawURL.
func (l *Loader) Text(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("unsupported url %q", rawURL)
	}
	key := u.String()

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		text, err := l.fetch(ctx, u)
		if err != nil {
			return "", err
		}
		l.cacheMu.Lock()
		l.cache[key] = text
		l.cacheMu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (l *Loader) fetch(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, l.maxBytes)
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/html"):
		article, err := readability.FromReader(body, u)
		if err != nil {
			return "", fmt.Errorf("failed to parse html: %w", err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return "", fmt.Errorf("failed to render article text: %w", err)
		}
		log.Debug("Fetched page", "url", u.String(), "chars", builder.Len())
		return strings.TrimSpace(builder.String()), nil
	case strings.HasPrefix(contentType, "text/"):
		data, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}
