package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/rank"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

const (
	defaultSearchK = 8
	maxSearchK     = 50
	defaultBudget  = 900
)

// ErrNoRetriever is returned by a search tool without a retriever.
var ErrNoRetriever = errors.New("retriever not configured")

// Retriever returns candidate documents for a request.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]rag.Document, error)
}

// SearchTool runs hybrid retrieval, reranks the candidates, shapes them by
// the recognized entities and keeps the best evidence.
type SearchTool struct {
	Retriever  Retriever
	Scorer     rank.Scorer
	Rules      *rules.Rules
	Collection string
	// TokenBudget bounds the packed evidence text. Defaults to 900.
	TokenBudget int
	Counter     rank.TokenCounter
}

func (t *SearchTool) Name() string { return plan.ToolSearch }

func (t *SearchTool) Execute(ctx context.Context, call Call) (Result, error) {
	if t.Retriever == nil {
		return Result{}, ErrNoRetriever
	}
	query := strings.TrimSpace(call.Args.Query)
	if query == "" {
		query = strings.TrimSpace(call.Question)
	}
	k := call.Args.K
	if k <= 0 {
		k = defaultSearchK
	}
	k = min(k, maxSearchK)

	filter := retrieval.Filter{Types: call.Args.AllowedTypes, Where: call.Args.Where()}
	docs, err := t.Retriever.Retrieve(ctx, retrieval.Request{
		Query:      query,
		Collection: t.Collection,
		KDense:     max(k*4, 40),
		KBM:        max(k*4, 40),
		KFinal:     max(k*3, k),
		Filter:     filter,
		Strict:     !filter.IsZero(),
	})
	if err != nil {
		return Result{}, err
	}
	if len(docs) == 0 {
		return Result{}, nil
	}

	scored, err := rank.Rerank(ctx, t.Scorer, query, docs)
	rerankFailed := err != nil
	if rerankFailed {
		log.Warn("Rerank degraded", "err", err)
	}
	policy := EntityPolicy(call.Entities, call.Intent)
	scored = rank.ApplyEntityPolicy(scored, call.Entities, policy)
	evidence := rank.SelectEvidence(scored, query, k, max(k, 8), t.Rules)

	budget := t.TokenBudget
	if budget <= 0 {
		budget = defaultBudget
	}
	out := Result{
		Found:      len(evidence) > 0,
		Confidence: rank.Confidence(evidence, k),
		Evidence:   rank.PackContext(evidence, budget, t.Counter),
		Degraded:   rerankFailed,
	}
	for _, sd := range evidence {
		out.Facts = append(out.Facts, docFact(sd.Doc))
	}
	for _, s := range rank.BuildSources(evidence) {
		out.Sources = append(out.Sources, facts.Source{ID: s.ID, Label: s.Title, Type: s.Type})
	}

	log.Debug("Search tool",
		"query", query,
		"candidates", len(docs),
		"evidence", len(evidence),
		"policy", policy,
		"confidence", out.Confidence,
	)
	return out, nil
}

// EntityPolicy picks how entities shape search results: strict for a
// single project entity on a project-scoped intent, boost for any other
// entities, none without entities.
func EntityPolicy(entities []graph.EntityMatch, intent plan.Intent) rank.Policy {
	if len(entities) == 0 {
		return rank.PolicyNone
	}
	if len(entities) == 1 && entities[0].Kind == graph.KindProject && intent.ProjectScoped() {
		return rank.PolicyStrict
	}
	return rank.PolicyBoost
}

func docFact(d rag.Document) facts.Item {
	typ := d.Metadata.Type
	if typ == "" {
		typ = "document"
	}
	return facts.Item{
		Type:     typ,
		Text:     d.Text,
		Metadata: d.Metadata.Map(),
		SourceID: rag.DocID(d),
	}
}
