// Package agent answers portfolio questions end to end: plan, execute,
// normalize, render, phrase and verify.
package agent

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/answer"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/executor"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/grounding"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/render"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

var log = logger.For("agent")

// RefuseMessage replaces answers the grounding check refuses.
const RefuseMessage = "На основе имеющихся данных портфолио не удалось найти достоверную информацию по вашему запросу. Попробуйте уточнить вопрос."

// Request is one question.
type Request struct {
	Question          string `json:"question" validate:"required"`
	K                 int    `json:"k,omitempty" validate:"omitempty,min=1,max=50"`
	Collection        string `json:"collection,omitempty"`
	SystemPromptExtra string `json:"system_prompt_extra,omitempty"`
}

// Response is the answer to a Request.
type Response struct {
	Answer     string         `json:"answer"`
	Sources    []facts.Source `json:"sources"`
	Confidence float64        `json:"confidence"`
	Found      bool           `json:"found"`
	Intents    []plan.Intent  `json:"intents"`
	Warnings   []string       `json:"warnings"`
}

// Cache stores answers by key. Cache errors are logged and otherwise
// ignored.
type Cache interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Config wires the pipeline stages. Graph is required. Without a planner
// every question gets the default search plan.
type Config struct {
	Rules   *rules.Rules
	Graph   *graph.Holder
	Planner *plan.Planner
	Critic  *executor.Critic
	Answer  *answer.Generator
	Cache   Cache
	Search  executor.SearchTool
	// Collection is used when a request names none.
	Collection string
	// Timeout bounds a whole request. Zero means no deadline beyond the
	// caller's.
	Timeout time.Duration
}

// Service is safe for concurrent use. Each request reads one graph
// generation for its whole lifetime.
type Service struct {
	cfg      Config
	renderer *render.Renderer
	verifier *grounding.Verifier
}

func NewService(cfg Config) *Service {
	if cfg.Rules == nil {
		cfg.Rules = rules.Default()
	}
	if cfg.Search.Rules == nil {
		cfg.Search.Rules = cfg.Rules
	}
	if cfg.Planner == nil {
		cfg.Planner = plan.NewPlanner(nil)
	}
	if cfg.Answer == nil {
		cfg.Answer = answer.NewGenerator(nil, "", cfg.Rules)
	}
	return &Service{
		cfg:      cfg,
		renderer: render.New(cfg.Rules),
		verifier: grounding.NewVerifier(cfg.Rules),
	}
}

// Answer runs the full pipeline. It never fails: every stage failure is
// absorbed into the response warnings.
func (s *Service) Answer(ctx context.Context, req Request) Response {
	start := time.Now()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	collection := req.Collection
	if collection == "" {
		collection = s.cfg.Collection
	}

	gen, err := s.cfg.Graph.Latest()
	unbuilt := err != nil
	if unbuilt {
		log.Warn("Answering before the first graph build", "err", err)
		gen = s.cfg.Graph.Current()
	}
	key := cacheKey(gen, collection, req)
	if s.cfg.Cache != nil {
		var cached Response
		hit, err := s.cfg.Cache.Get(ctx, key, &cached)
		if err != nil {
			log.Warn("Answer cache read failed", "err", err)
		}
		if hit {
			log.Debug("Answer cache hit", "key", key)
			return cached
		}
	}

	log.Debug("Answering", "question", req.Question, "generation", gen.String())
	p := s.cfg.Planner.Plan(ctx, req.Question, gen.Registry)
	p = withK(p, req.K)

	search := s.cfg.Search
	search.Collection = collection
	exec := executor.New(
		s.cfg.Critic,
		executor.NewGraphTool(graph.NewEngine(gen, s.cfg.Rules)),
		&search,
	)
	payload := exec.Execute(ctx, p, req.Question)

	resp := Response{
		Sources:    payload.Sources,
		Confidence: payload.Meta.Coverage,
		Found:      payload.Found,
		Intents:    p.Intents,
	}
	if resp.Sources == nil {
		resp.Sources = []facts.Source{}
	}

	if !payload.Found && len(payload.Items) == 0 {
		resp.Answer = answer.NotFound(p.PrimaryIntent(), s.cfg.Rules)
		resp.Confidence = 0
		resp.Warnings = nonNil(payload.Warnings)
		s.finish(ctx, key, resp, start, unbuilt || p.Degraded || payload.Degraded)
		return resp
	}

	items, applied := facts.Normalize(&payload, p)
	if len(applied) > 0 {
		payload.Warn("Normalizer: %s", strings.Join(applied, ", "))
	}
	payload.Items = items
	bundle := facts.BuildBundle(items)

	maxItems := p.Limits.MaxItems
	rendered := s.renderer.Render(items, p.RenderStyle, p.Intents, maxItems)
	res := s.cfg.Answer.Generate(ctx, payload, rendered, req.SystemPromptExtra)
	payload.Warnings = append(payload.Warnings, res.Warnings...)
	resp.Answer = res.Text

	if res.Source == answer.SourceModel {
		verdict := s.verifier.Verify(res.Text, bundle)
		switch verdict.Action {
		case grounding.ActionRefuse:
			resp.Answer = RefuseMessage
		case grounding.ActionRewrite:
			resp.Answer = verdict.Rewrite
		}
		if verdict.Action != grounding.ActionAccept {
			payload.Warn("Grounding: %s, ungrounded=[%s]", verdict.Action, strings.Join(verdict.Ungrounded, ", "))
			resp.Confidence = min(resp.Confidence, verdict.Confidence)
		}
	}

	resp.Warnings = nonNil(payload.Warnings)
	s.finish(ctx, key, resp, start, unbuilt || p.Degraded || payload.Degraded || res.Degraded)
	return resp
}

// finish logs the response and caches it. Degraded responses are not
// cached, so the next request retries the failed stage.
func (s *Service) finish(ctx context.Context, key string, resp Response, start time.Time, degraded bool) {
	log.Info("Question answered",
		"intents", resp.Intents,
		"found", resp.Found,
		"sources", len(resp.Sources),
		"confidence", resp.Confidence,
		"warnings", len(resp.Warnings),
		"degraded", degraded,
		"took", time.Since(start).String(),
	)
	if s.cfg.Cache == nil || degraded || ctx.Err() != nil {
		return
	}
	if err := s.cfg.Cache.Set(ctx, key, resp); err != nil {
		log.Warn("Answer cache write failed", "err", err)
	}
}

// withK applies a requested result count to every search call of p.
func withK(p plan.QueryPlan, k int) plan.QueryPlan {
	if k <= 0 {
		return p
	}
	calls := make([]plan.ToolCall, len(p.ToolCalls))
	for i, tc := range p.ToolCalls {
		if tc.Tool == plan.ToolSearch {
			tc.Args.K = k
		}
		calls[i] = tc
	}
	p.ToolCalls = calls
	return p
}

// cacheKey scopes answers to the graph generation so a rebuild invalidates
// them.
func cacheKey(gen *graph.Generation, collection string, req Request) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", util.CollapseSpaces(req.Question), req.SystemPromptExtra, strconv.Itoa(req.K))
	return "answer:" + gen.String() + ":" + collection + ":" + hex.EncodeToString(h.Sum(nil))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Stats reports the live graph generation.
func (s *Service) Stats() GraphStats {
	gen := s.cfg.Graph.Current()
	return GraphStats{
		Generation: gen.Number,
		BuiltAt:    gen.BuiltAt,
		Graph:      gen.Store.Stats(),
		Entities:   gen.Registry.Stats(),
	}
}

// GraphStats describes the live graph generation.
type GraphStats struct {
	Generation uint64                   `json:"generation"`
	BuiltAt    time.Time                `json:"built_at"`
	Graph      graph.Stats              `json:"graph"`
	Entities   map[graph.EntityKind]int `json:"entities"`
}
