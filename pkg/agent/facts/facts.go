// Package facts holds the fact model shared by execution, rendering,
// answering and grounding, plus the deterministic normalizer and the
// entity allowlist built from normalized facts.
package facts

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
)

// Item is one atomic retrieved fact.
type Item struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	SourceID string         `json:"source_id,omitempty"`
}

// Str returns Metadata[key] as trimmed text, or "".
func (it Item) Str(key string) string {
	v, ok := it.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	case []string, []any:
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// List returns Metadata[key] as a list. Strings are split on commas.
func (it Item) List(key string) []string {
	var out []string
	switch t := it.Metadata[key].(type) {
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, v := range t {
			if v == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Category returns the lowercase technology category of the fact.
func (it Item) Category() string {
	return strings.ToLower(it.Str("category"))
}

// Source references where facts came from.
type Source struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// Group collects facts of one type for grouped rendering.
type Group struct {
	Type  string `json:"type"`
	Items []Item `json:"items"`
}

// Meta describes how the facts were obtained.
type Meta struct {
	Coverage   float64 `json:"coverage"`
	TotalFacts int     `json:"total_facts"`
	LimitedTo  int     `json:"limited_to"`
	Evidence   string  `json:"evidence,omitempty"`
}

// Payload is the executor output handed to normalization and answering.
type Payload struct {
	Found       bool             `json:"found"`
	Items       []Item           `json:"items"`
	Groups      []Group          `json:"groups,omitempty"`
	Meta        Meta             `json:"meta"`
	Sources     []Source         `json:"sources"`
	Query       string           `json:"query"`
	Intents     []plan.Intent    `json:"intents"`
	RenderStyle plan.RenderStyle `json:"render_style"`
	AnswerStyle plan.AnswerStyle `json:"answer_style"`
	Warnings    []string         `json:"warnings,omitempty"`
	// Degraded is set when a stage failed and the payload is a partial
	// answer to the question.
	Degraded bool `json:"-"`
}

// PrimaryIntent returns the first intent or general_unstructured.
func (p *Payload) PrimaryIntent() plan.Intent {
	if len(p.Intents) == 0 {
		return plan.IntentGeneral
	}
	return p.Intents[0]
}

// Warn appends a warning.
func (p *Payload) Warn(format string, args ...any) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}

// Degrade appends a warning about a failed stage and marks the payload
// degraded.
func (p *Payload) Degrade(format string, args ...any) {
	p.Warn(format, args...)
	p.Degraded = true
}

// GroupByType groups items by type in first-seen order.
func GroupByType(items []Item) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, it := range items {
		i, ok := index[it.Type]
		if !ok {
			i = len(groups)
			index[it.Type] = i
			groups = append(groups, Group{Type: it.Type})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

// MergeSources appends add to base, skipping empty and repeated ids.
func MergeSources(base []Source, add ...Source) []Source {
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]Source, 0, len(base)+len(add))
	for _, s := range append(append([]Source(nil), base...), add...) {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}
