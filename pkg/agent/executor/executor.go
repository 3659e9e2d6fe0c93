package executor

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
)

var log = logger.For("executor")

const (
	// fallbackWeight scales the confidence of fallback search results.
	fallbackWeight = 0.7
	// lowPlanConfidence forces a self-check search without asking the critic.
	lowPlanConfidence = 0.5
	extraSearchK      = 8
	maxSources        = 10
)

// Executor runs query plans. It holds no request state and is safe for
// concurrent use when its tools are.
type Executor struct {
	tools  map[string]Tool
	critic *Critic
}

// New returns an executor over tools. A nil critic limits the self-check
// to low-confidence plans.
func New(critic *Critic, tools ...Tool) *Executor {
	e := &Executor{tools: make(map[string]Tool, len(tools)), critic: critic}
	for _, t := range tools {
		if t != nil {
			e.tools[t.Name()] = t
		}
	}
	return e
}

// run tracks the state of one plan execution.
type run struct {
	p          plan.QueryPlan
	question   string
	call       Call
	payload    facts.Payload
	coverage   float64
	searchedBy string
}

// Execute runs the tool calls of p in order and returns the merged facts.
// Tool failures are recorded as warnings. When nothing was found and the
// plan allows it, one fallback search runs with reduced confidence. A
// self-check may add exactly one more search round when the plan did not
// search already.
func (e *Executor) Execute(ctx context.Context, p plan.QueryPlan, question string) facts.Payload {
	r := &run{
		p:        p,
		question: question,
		call: Call{
			Question: question,
			Intent:   p.PrimaryIntent(),
			Entities: p.EntityMatches(),
		},
		payload: facts.Payload{
			Query:       question,
			Intents:     p.Intents,
			RenderStyle: p.RenderStyle,
			AnswerStyle: p.AnswerStyle,
		},
		coverage: p.Confidence,
	}

	for _, tc := range p.ToolCalls {
		if err := ctx.Err(); err != nil {
			r.payload.Degrade("Выполнение плана прервано: %v", err)
			break
		}
		tool, ok := e.tools[tc.Tool]
		if !ok {
			log.Warn("Unknown tool skipped", "tool", tc.Tool)
			r.payload.Warn("Инструмент %s недоступен", tc.Tool)
			continue
		}
		call := r.call
		call.Args = tc.Args
		res, err := tool.Execute(ctx, call)
		if err != nil {
			log.Warn("Tool failed", "tool", tc.Tool, "err", err)
			r.payload.Degrade("Инструмент %s не сработал: %v", tc.Tool, err)
			continue
		}
		r.merge(res, 1)
	}

	if !r.payload.Found && p.Fallback.Enabled && ctx.Err() == nil {
		e.fallback(ctx, r)
	}
	e.selfCheck(ctx, r)

	return r.finish()
}

// merge adds a tool result. Confidence counts only for results that found
// something.
func (r *run) merge(res Result, weight float64) {
	r.payload.Items = append(r.payload.Items, res.Facts...)
	r.payload.Sources = facts.MergeSources(r.payload.Sources, res.Sources...)
	if res.Found {
		r.payload.Found = true
		r.coverage = max(r.coverage, res.Confidence*weight)
	}
	if res.Evidence != "" {
		r.payload.Meta.Evidence = res.Evidence
	}
	if res.Degraded {
		r.payload.Degraded = true
	}
}

func (e *Executor) search(ctx context.Context, r *run, query string) (Result, error) {
	tool, ok := e.tools[plan.ToolSearch]
	if !ok {
		return Result{}, ErrNoRetriever
	}
	call := r.call
	call.Args = plan.ToolArgs{Query: query, K: extraSearchK}
	return tool.Execute(ctx, call)
}

func (e *Executor) fallback(ctx context.Context, r *run) {
	r.searchedBy = "fallback"
	res, err := e.search(ctx, r, r.question)
	if err != nil {
		log.Warn("Fallback search failed", "err", err)
		r.payload.Degrade("Резервный поиск не сработал: %v", err)
		return
	}
	r.merge(res, fallbackWeight)
	r.payload.Warn("Использован резервный поиск")
	log.Info("Fallback search", "found", res.Found, "items", len(res.Facts))
}

// selfCheck runs at most one extra search. It is skipped when the plan
// already searched or the fallback did. A plan confidence below 0.5
// forces the search; otherwise the critic decides.
func (e *Executor) selfCheck(ctx context.Context, r *run) {
	if r.p.UsesTool(plan.ToolSearch) || r.searchedBy != "" || ctx.Err() != nil {
		return
	}
	if _, ok := e.tools[plan.ToolSearch]; !ok {
		return
	}

	var d Decision
	if r.p.Confidence < lowPlanConfidence {
		d = Decision{NeedSearch: true, Query: r.question, Reason: "low plan confidence"}
	} else {
		if e.critic == nil {
			return
		}
		r.payload.Meta.Coverage = r.coverage
		d = e.critic.Review(ctx, r.question, r.p, &r.payload)
	}
	if !d.NeedSearch {
		return
	}

	query := strings.TrimSpace(d.Query)
	if query == "" {
		query = r.question
	}
	r.searchedBy = "self_check"
	res, err := e.search(ctx, r, query)
	if err != nil {
		log.Warn("Self-check search failed", "err", err)
		r.payload.Degrade("Self-check: дополнительный поиск не сработал: %v", err)
		return
	}
	if len(res.Facts) == 0 {
		return
	}
	r.merge(res, 1)
	r.payload.Warn("Self-check: использован дополнительный гибридный поиск")
	log.Info("Self-check search", "reason", d.Reason, "items", len(res.Facts))
}

func (r *run) finish() facts.Payload {
	out := r.payload
	total := len(out.Items)
	limit := r.p.Limits.MaxItems
	if limit > 0 && len(out.Items) > limit {
		out.Items = out.Items[:limit]
	}
	if len(r.p.Intents) > 1 || r.p.RenderStyle == plan.RenderGroupedBullets {
		out.Groups = facts.GroupByType(out.Items)
	}
	if len(out.Sources) > maxSources {
		out.Sources = out.Sources[:maxSources]
	}
	coverage := r.coverage
	if !out.Found {
		coverage = 0
	}
	out.Meta = facts.Meta{
		Coverage:   min(1, max(0, coverage)),
		TotalFacts: total,
		LimitedTo:  len(out.Items),
		Evidence:   out.Meta.Evidence,
	}

	log.Info("Plan executed",
		"intents", out.Intents,
		"tool_calls", len(r.p.ToolCalls),
		"items", len(out.Items),
		"total", total,
		"found", out.Found,
		"coverage", out.Meta.Coverage,
	)
	return out
}
