package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/ai"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
)

var log = logger.For("planner")

// Planner asks a model for a QueryPlan and validates it, repairing up to
// MaxRetries times before giving up on DefaultPlan.
type Planner struct {
	client     ai.Client
	model      string
	maxRetries int
}

// Option configures a Planner.
type Option func(*Planner)

// WithModel overrides the client's default chat model.
func WithModel(model string) Option {
	return func(p *Planner) { p.model = model }
}

// WithMaxRetries sets the number of repair attempts after the first call.
func WithMaxRetries(n int) Option {
	return func(p *Planner) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

func NewPlanner(client ai.Client, opts ...Option) *Planner {
	p := &Planner{client: client, maxRetries: 2}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan returns a validated plan for question. Entity ids are sanitized
// against reg when it is non-nil. Plan never fails: an empty question, a
// cancelled context or exhausted retries all yield DefaultPlan.
func (p *Planner) Plan(ctx context.Context, question string, reg *graph.Registry) QueryPlan {
	if strings.TrimSpace(question) == "" {
		log.Warn("Empty question, using default plan")
		return DefaultPlan("")
	}
	if p.client == nil {
		return DefaultPlan(question)
	}

	log.Info("Planning", "question", util.Truncate(question, 200))

	prompt := question
	attempts := p.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			log.Warn("Planning aborted", "attempt", attempt, "err", err)
			break
		}

		out := New()
		err := p.client.GenerateCompletionWithFormat(
			ctx,
			"query_plan",
			"Execution plan for a portfolio question",
			prompt,
			&out,
			ai.WithModel(p.model),
			ai.WithSystemPrompts(systemPrompt),
			ai.WithTemperature(0),
		)
		if err == nil {
			err = Validate(&out)
		}
		if err == nil {
			Sanitize(&out, reg)
			log.Info("Plan ready",
				"intents", out.Intents,
				"entities", len(out.Entities),
				"tool_calls", len(out.ToolCalls),
				"confidence", out.Confidence,
				"attempt", attempt,
			)
			return out
		}

		log.Warn("Plan attempt failed", "attempt", attempt, "of", attempts, "err", err)
		prompt = question + "\n\n" + fmt.Sprintf(repairPrompt, util.Truncate(err.Error(), 400))
	}

	log.Error("Planner exhausted, using default plan", "attempts", attempts)
	dp := DefaultPlan(question)
	dp.Degraded = true
	return dp
}

// Sanitize maps entity ids and names in p onto registered entities. Ids
// that do not resolve are kept as given so the graph engine reports them
// as not found.
func Sanitize(p *QueryPlan, reg *graph.Registry) {
	if reg == nil {
		return
	}
	for i, e := range p.Entities {
		if m, ok := resolveEntity(reg, e.ID, e.Name); ok {
			p.Entities[i] = Entity{Type: string(m.Kind), ID: m.CanonicalID(), Name: m.Name, Aliases: m.Aliases, Confidence: e.Confidence}
			if p.Entities[i].Confidence <= 0 {
				p.Entities[i].Confidence = m.Confidence
			}
		}
	}
	for i := range p.ToolCalls {
		args := &p.ToolCalls[i].Args
		for _, id := range []*string{&args.EntityID, &args.CompanyID, &args.ProjectID} {
			if strings.TrimSpace(*id) == "" {
				continue
			}
			if m, ok := reg.Resolve(*id); ok {
				*id = m.CanonicalID()
			}
		}
	}
}

func resolveEntity(reg *graph.Registry, id, name string) (graph.EntityMatch, bool) {
	if m, ok := reg.Resolve(id); ok {
		return m, true
	}
	m, ok := reg.Resolve(name)
	if !ok {
		return graph.EntityMatch{}, false
	}
	// a typed id may only be corrected within its own kind
	if kindPart, _, typed := strings.Cut(id, ":"); typed {
		if kind, known := graph.ParseKind(kindPart); known && kind != m.Kind {
			return graph.EntityMatch{}, false
		}
	}
	return m, true
}
