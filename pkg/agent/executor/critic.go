package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/ai"
)

// Decision is the critic verdict on retrieved facts.
type Decision struct {
	Sufficient bool   `json:"sufficient"`
	NeedSearch bool   `json:"need_search"`
	Query      string `json:"query"`
	Reason     string `json:"reason"`
}

// Critic asks a model whether the facts gathered so far answer the
// question.
type Critic struct {
	client ai.Client
	model  string
}

func NewCritic(client ai.Client, model string) *Critic {
	return &Critic{client: client, model: model}
}

type planSummary struct {
	Intents     []plan.Intent    `json:"intents"`
	Tools       []string         `json:"tools"`
	Entities    []string         `json:"entities"`
	RenderStyle plan.RenderStyle `json:"render_style"`
	Confidence  float64          `json:"confidence"`
}

type factPreview struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type retrievalSummary struct {
	Found           bool          `json:"found"`
	Items           int           `json:"items"`
	Sources         int           `json:"sources"`
	Facts           []factPreview `json:"facts"`
	EvidencePreview string        `json:"evidence_preview"`
	Coverage        float64       `json:"coverage"`
}

// Review returns the critic decision. Any failure, including an
// unparsable reply, yields a decision that asks for a search over the
// question itself.
func (c *Critic) Review(ctx context.Context, question string, p plan.QueryPlan, payload *facts.Payload) Decision {
	fallback := func(reason string) Decision {
		return Decision{NeedSearch: true, Query: question, Reason: reason}
	}
	if c == nil || c.client == nil {
		return fallback("critic unavailable")
	}

	prompt := fmt.Sprintf(criticPromptTemplate,
		util.Truncate(question, 800),
		mustJSON(summarizePlan(p)),
		mustJSON(summarizePayload(payload)),
	)
	reply, err := c.client.GenerateCompletion(
		ctx,
		prompt,
		ai.WithModel(c.model),
		ai.WithSystemPrompts(criticSystemPrompt),
		ai.WithTemperature(0),
	)
	if err != nil {
		log.Warn("Critic call failed", "err", err)
		return fallback("critic error: " + err.Error())
	}

	raw := ai.ExtractJSONObject(reply)
	if raw == "" {
		log.Warn("Critic reply has no JSON object", "reply", util.Truncate(reply, 200))
		return fallback("critic reply not parsed")
	}
	var d Decision
	if err := ai.UnmarshalFlexible(raw, &d); err != nil {
		log.Warn("Critic reply not decoded", "err", err)
		return fallback("critic reply not parsed")
	}
	log.Debug("Critic decision",
		"sufficient", d.Sufficient,
		"need_search", d.NeedSearch,
		"reason", d.Reason,
	)
	return d
}

func summarizePlan(p plan.QueryPlan) planSummary {
	s := planSummary{Intents: p.Intents, RenderStyle: p.RenderStyle, Confidence: p.Confidence}
	for _, tc := range p.ToolCalls {
		s.Tools = append(s.Tools, tc.Tool)
	}
	for _, e := range p.Entities {
		s.Entities = append(s.Entities, e.ID)
	}
	return s
}

func summarizePayload(p *facts.Payload) retrievalSummary {
	s := retrievalSummary{
		Found:           p.Found,
		Items:           len(p.Items),
		Sources:         len(p.Sources),
		EvidencePreview: util.Truncate(p.Meta.Evidence, 400),
		Coverage:        p.Meta.Coverage,
		Facts:           []factPreview{},
	}
	for _, it := range p.Items[:min(5, len(p.Items))] {
		s.Facts = append(s.Facts, factPreview{Type: it.Type, Text: util.Truncate(it.Text, 220)})
	}
	return s
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
