package ai

import (
	"math"
	"sync"
)

// Metrics accumulates ModelMetrics across calls. The zero value is ready
// to use.
type Metrics struct {
	mu      sync.Mutex
	current ModelMetrics
}

// Add folds one call into the totals.
func (m *Metrics) Add(call ModelMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.InputTokens += call.InputTokens
	m.current.OutputTokens += call.OutputTokens
	m.current.TotalTokens += call.TotalTokens
	m.current.DurationMs += call.DurationMs
	m.current.Requests++

	if m.current.DurationMs > 0 {
		tokensPerSecond := (float64(m.current.TotalTokens) * 1000.0) / float64(m.current.DurationMs)
		m.current.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}

// Reset clears all totals.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.current = ModelMetrics{}
	m.mu.Unlock()
}

// Snapshot returns a copy of the totals.
func (m *Metrics) Snapshot() ModelMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
