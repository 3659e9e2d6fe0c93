package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/ai/aitest"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/rank"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name    string
	results []Result
	errs    []error
	calls   []Call
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Execute(_ context.Context, c Call) (Result, error) {
	i := len(s.calls)
	s.calls = append(s.calls, c)
	var res Result
	switch {
	case i < len(s.results):
		res = s.results[i]
	case len(s.results) > 0:
		res = s.results[len(s.results)-1]
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return res, err
}

func items(typ string, texts ...string) []facts.Item {
	out := make([]facts.Item, len(texts))
	for i, t := range texts {
		out[i] = facts.Item{Type: typ, Text: t}
	}
	return out
}

func found(conf float64, fs []facts.Item, sources ...facts.Source) Result {
	return Result{Facts: fs, Sources: sources, Found: true, Confidence: conf}
}

func graphPlan(confidence float64) plan.QueryPlan {
	p := plan.New()
	p.Intents = []plan.Intent{plan.IntentProjectAchievements}
	p.ToolCalls = []plan.ToolCall{{Tool: plan.ToolGraph, Args: plan.ToolArgs{Intent: "project_achievements", EntityID: "project:atlas"}}}
	p.Confidence = confidence
	return p
}

func TestExecuteMergesAndLimits(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, results: []Result{
		found(0.9, items("achievement", "a1", "a2", "a3"), facts.Source{ID: "n1", Label: "Atlas"}),
	}}
	s := &stubTool{name: plan.ToolSearch, results: []Result{{
		Facts:      items("project", "p1", "p2"),
		Sources:    []facts.Source{{ID: "n1", Label: "dup"}, {ID: "d2", Label: "Doc"}},
		Found:      true,
		Confidence: 0.6,
		Evidence:   "Atlas: search platform",
	}}}

	p := graphPlan(0.7)
	p.ToolCalls = append(p.ToolCalls, plan.ToolCall{Tool: plan.ToolSearch, Args: plan.ToolArgs{Query: "atlas", K: 5}})
	p.Limits.MaxItems = 4

	out := New(nil, g, s).Execute(context.Background(), p, "Что сделано в Atlas?")

	assert.True(t, out.Found)
	require.Len(t, out.Items, 4)
	assert.Equal(t, "p1", out.Items[3].Text)
	assert.Equal(t, []facts.Source{{ID: "n1", Label: "Atlas"}, {ID: "d2", Label: "Doc"}}, out.Sources)
	assert.Equal(t, facts.Meta{Coverage: 0.9, TotalFacts: 5, LimitedTo: 4, Evidence: "Atlas: search platform"}, out.Meta)
	assert.Nil(t, out.Groups)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, "Что сделано в Atlas?", out.Query)

	require.Len(t, g.calls, 1)
	assert.Equal(t, "project:atlas", g.calls[0].Args.EntityID)
	assert.Equal(t, plan.IntentProjectAchievements, g.calls[0].Intent)
	require.Len(t, s.calls, 1, "plan search must not be repeated by the self-check")
	assert.Equal(t, "atlas", s.calls[0].Args.Query)
}

func TestExecuteToolFailureBecomesWarning(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, errs: []error{errors.New("boom")}}
	s := &stubTool{name: plan.ToolSearch, results: []Result{found(0.5, items("project", "p1"))}}

	p := graphPlan(0.9)
	p.ToolCalls = append(p.ToolCalls, plan.ToolCall{Tool: plan.ToolSearch, Args: plan.ToolArgs{Query: "q"}})

	out := New(nil, g, s).Execute(context.Background(), p, "q")

	assert.True(t, out.Found)
	assert.Len(t, out.Items, 1)
	assert.Equal(t, []string{"Инструмент graph_query_tool не сработал: boom"}, out.Warnings)
	assert.True(t, out.Degraded)
	assert.InDelta(t, 0.9, out.Meta.Coverage, 1e-9)
}

func TestExecuteUnknownToolIsSkipped(t *testing.T) {
	p := graphPlan(0.9)
	p.ToolCalls = []plan.ToolCall{{Tool: "weather_tool"}}
	p.Fallback.Enabled = false

	out := New(nil).Execute(context.Background(), p, "q")

	assert.False(t, out.Found)
	assert.Equal(t, []string{"Инструмент weather_tool недоступен"}, out.Warnings)
	assert.False(t, out.Degraded)
	assert.Zero(t, out.Meta.Coverage)
}

func TestExecuteFallback(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, results: []Result{{}}}
	s := &stubTool{name: plan.ToolSearch, results: []Result{found(0.8, items("project", "p1"))}}

	out := New(nil, g, s).Execute(context.Background(), graphPlan(0.5), "Какие проекты?")

	assert.True(t, out.Found)
	assert.InDelta(t, 0.56, out.Meta.Coverage, 1e-9)
	assert.Equal(t, []string{"Использован резервный поиск"}, out.Warnings)
	assert.False(t, out.Degraded)
	require.Len(t, s.calls, 1, "self-check must not search after the fallback")
	assert.Equal(t, "Какие проекты?", s.calls[0].Args.Query)
	assert.Equal(t, 8, s.calls[0].Args.K)
}

func TestExecuteFallbackFailure(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, results: []Result{{}}}
	s := &stubTool{name: plan.ToolSearch, errs: []error{errors.New("index down")}}

	out := New(nil, g, s).Execute(context.Background(), graphPlan(0.2), "q")

	assert.False(t, out.Found)
	assert.Zero(t, out.Meta.Coverage)
	assert.Equal(t, []string{"Резервный поиск не сработал: index down"}, out.Warnings)
	assert.True(t, out.Degraded)
	assert.Len(t, s.calls, 1)
}

func TestExecuteNothingFoundWithoutFallback(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, results: []Result{{}}}
	s := &stubTool{name: plan.ToolSearch}
	p := graphPlan(0.9)
	p.Fallback.Enabled = false

	out := New(nil, g, s).Execute(context.Background(), p, "q")

	assert.False(t, out.Found)
	assert.Zero(t, out.Meta.Coverage)
	assert.Empty(t, s.calls)
}

func TestSelfCheckLowPlanConfidenceSkipsCritic(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, results: []Result{found(0.9, items("achievement", "a1"))}}
	s := &stubTool{name: plan.ToolSearch, results: []Result{found(0.95, items("project", "p1"), facts.Source{ID: "d1"})}}
	llm := aitest.New()

	out := New(NewCritic(llm, ""), g, s).Execute(context.Background(), graphPlan(0.3), "Достижения Atlas")

	assert.Empty(t, llm.Calls())
	require.Len(t, s.calls, 1)
	assert.Equal(t, "Достижения Atlas", s.calls[0].Args.Query)
	assert.Len(t, out.Items, 2)
	assert.InDelta(t, 0.95, out.Meta.Coverage, 1e-9)
	assert.Equal(t, []string{"Self-check: использован дополнительный гибридный поиск"}, out.Warnings)
}

func TestSelfCheckFollowsCritic(t *testing.T) {
	tests := []struct {
		name      string
		reply     aitest.Reply
		wantQuery string
	}{
		{
			name:      "critic asks for a rewritten query",
			reply:     aitest.Text("Вердикт: {\"sufficient\": false, \"need_search\": true, \"query\": \"atlas metrics\"}"),
			wantQuery: "atlas metrics",
		},
		{
			name:      "critic reply is garbage",
			reply:     aitest.Text("hello"),
			wantQuery: "Достижения Atlas",
		},
		{
			name:      "critic call fails",
			reply:     aitest.Fail(errors.New("timeout")),
			wantQuery: "Достижения Atlas",
		},
		{
			name:  "critic is satisfied",
			reply: aitest.Text(`{"sufficient": true, "need_search": false, "query": "", "reason": "ok"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &stubTool{name: plan.ToolGraph, results: []Result{found(0.9, items("achievement", "a1"))}}
			s := &stubTool{name: plan.ToolSearch, results: []Result{found(0.4, items("project", "p1"))}}
			llm := aitest.New(tt.reply)

			out := New(NewCritic(llm, "critic"), g, s).Execute(context.Background(), graphPlan(0.8), "Достижения Atlas")

			calls := llm.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "critic", calls[0].Options.Model)
			assert.Contains(t, calls[0].Prompt, "Достижения Atlas")
			assert.Contains(t, calls[0].Prompt, `"text":"a1"`)

			if tt.wantQuery == "" {
				assert.Empty(t, s.calls)
				assert.Len(t, out.Items, 1)
				return
			}
			require.Len(t, s.calls, 1)
			assert.Equal(t, tt.wantQuery, s.calls[0].Args.Query)
			assert.Len(t, out.Items, 2)
			assert.InDelta(t, 0.9, out.Meta.Coverage, 1e-9)
		})
	}
}

func TestSelfCheckEmptySearchAddsNothing(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, results: []Result{found(0.9, items("achievement", "a1"))}}
	s := &stubTool{name: plan.ToolSearch, results: []Result{{}}}

	out := New(nil, g, s).Execute(context.Background(), graphPlan(0.1), "q")

	assert.Len(t, s.calls, 1)
	assert.Len(t, out.Items, 1)
	assert.Empty(t, out.Warnings)
}

func TestExecuteGroupsForSeveralIntents(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph, results: []Result{
		found(0.9, append(items("project", "p1"), items("technology", "Go", "Python")...)),
	}}
	p := graphPlan(0.9)
	p.Intents = append(p.Intents, plan.IntentProjectTechStack)

	out := New(nil, g).Execute(context.Background(), p, "q")

	require.Len(t, out.Groups, 2)
	assert.Equal(t, "project", out.Groups[0].Type)
	assert.Len(t, out.Groups[1].Items, 2)
}

func TestExecuteCapsSources(t *testing.T) {
	var sources []facts.Source
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		sources = append(sources, facts.Source{ID: id})
	}
	g := &stubTool{name: plan.ToolGraph, results: []Result{found(0.9, items("project", "p"), sources...)}}

	out := New(nil, g).Execute(context.Background(), graphPlan(0.9), "q")

	assert.Len(t, out.Sources, 10)
}

func TestExecuteCancelledContext(t *testing.T) {
	g := &stubTool{name: plan.ToolGraph}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := New(nil, g).Execute(ctx, graphPlan(0.9), "q")

	assert.Empty(t, g.calls)
	assert.False(t, out.Found)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "прервано")
}

func TestGraphIntent(t *testing.T) {
	tests := []struct {
		intent   string
		fallback plan.Intent
		want     graph.Intent
	}{
		{"project_achievements", "", graph.IntentAchievements},
		{"project_tech_stack", "", graph.IntentTechnologies},
		{"technology_overview", "", graph.IntentTechnologies},
		{"experience_summary", "", graph.IntentExperience},
		{"current_job", "", graph.IntentCurrentJob},
		{"languages", "", graph.IntentLanguages},
		{"achievements", "", graph.IntentAchievements},
		{"weather", "", graph.IntentGeneral},
		{"", plan.IntentContacts, graph.IntentContacts},
		{"", "", graph.IntentGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GraphIntent(tt.intent, tt.fallback), "intent %q", tt.intent)
	}
}

func TestEntityPolicy(t *testing.T) {
	project := graph.EntityMatch{Kind: graph.KindProject, Slug: "atlas", Confidence: 1}
	tech := graph.EntityMatch{Kind: graph.KindTechnology, Slug: "go", Confidence: 1}

	assert.Equal(t, rank.PolicyNone, EntityPolicy(nil, plan.IntentProjectDetails))
	assert.Equal(t, rank.PolicyStrict, EntityPolicy([]graph.EntityMatch{project}, plan.IntentProjectDetails))
	assert.Equal(t, rank.PolicyBoost, EntityPolicy([]graph.EntityMatch{project}, plan.IntentTechnologyUsage))
	assert.Equal(t, rank.PolicyBoost, EntityPolicy([]graph.EntityMatch{project, tech}, plan.IntentProjectDetails))
	assert.Equal(t, rank.PolicyBoost, EntityPolicy([]graph.EntityMatch{tech}, plan.IntentProjectTechStack))
}

func testEngine(t *testing.T) *graph.Engine {
	t.Helper()
	snapshot := &export.Payload{
		Profile: &export.Profile{ID: "1", FullName: "Test Person", Title: "Engineer"},
		Technologies: []export.Technology{
			{ID: "1", Name: "Go", Slug: "go", Category: "language"},
		},
		Experiences: []export.Experience{{
			ID: "10", Role: "Lead", CompanyName: "Alfa", CompanySlug: "alfa", IsCurrent: true,
			Projects: []export.ExperienceProject{{
				ID: "100", Name: "Atlas", Slug: "atlas",
				AchievementsMD: "- Ускорил поиск в три раза\n- Внедрил гибридный поиск",
			}},
		}},
	}
	holder := graph.NewHolder(nil, graph.BuildOptions{})
	return graph.NewEngine(holder.Rebuild(snapshot), nil)
}

func TestGraphToolAchievements(t *testing.T) {
	tool := NewGraphTool(testEngine(t))

	res, err := tool.Execute(context.Background(), Call{
		Args:   plan.ToolArgs{Intent: "project_achievements", EntityID: "project:atlas"},
		Intent: plan.IntentProjectAchievements,
	})
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	require.Len(t, res.Facts, 2)
	assert.Equal(t, "achievement", res.Facts[0].Type)
	assert.Equal(t, "Atlas", res.Facts[0].Str("project"))
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "achievement", res.Sources[0].Type)
}

func TestGraphToolUnknownKeyAndGeneral(t *testing.T) {
	tool := NewGraphTool(testEngine(t))

	res, err := tool.Execute(context.Background(), Call{
		Args: plan.ToolArgs{Intent: "project_tech_stack", ProjectID: "project:missing"},
	})
	require.NoError(t, err)
	assert.False(t, res.Found)

	res, err = tool.Execute(context.Background(), Call{Intent: plan.IntentGeneral})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Facts)

	_, err = (&GraphTool{}).Execute(context.Background(), Call{})
	assert.ErrorIs(t, err, ErrNoEngine)
}

func searchTool(t *testing.T, docs ...rag.Document) *SearchTool {
	t.Helper()
	vec := retrieval.NewMemoryVectorIndex(retrieval.HashEmbedder{Dim: 64})
	require.NoError(t, vec.Upsert(context.Background(), docs))
	lex := retrieval.NewBM25Index()
	for _, d := range docs {
		lex.AddTexts("c", []string{rag.DocID(d)}, []string{d.Text})
	}
	return &SearchTool{
		Retriever:  retrieval.NewHybridRetriever(vec, lex, "c"),
		Scorer:     rank.OverlapScorer{},
		Collection: "c",
	}
}

func doc(id, typ, name, text string) rag.Document {
	return rag.Document{ID: id, Text: text, Metadata: rag.Metadata{Type: typ, DocID: id, Name: name}}
}

func TestSearchToolFindsEvidence(t *testing.T) {
	tool := searchTool(t,
		doc("project:1", "project", "AI-Portfolio", "AI-Portfolio: RAG ассистент на Python"),
		doc("technology:1", "technology", "Python", "Python язык программирования"),
		doc("experience:1", "experience", "Alfa", "Lead Engineer в компании Alfa"),
	)

	res, err := tool.Execute(context.Background(), Call{Args: plan.ToolArgs{Query: "RAG Python", K: 2}})
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Greater(t, res.Confidence, 0.0)
	assert.NotEmpty(t, res.Evidence)

	var ids []string
	for _, f := range res.Facts {
		ids = append(ids, f.SourceID)
		assert.NotEmpty(t, f.Type)
	}
	assert.Contains(t, ids, "project:1")

	var sourceIDs []string
	for _, s := range res.Sources {
		sourceIDs = append(sourceIDs, s.ID)
	}
	assert.Contains(t, sourceIDs, "project:1")
}

func TestSearchToolUsesQuestionAndHandlesEmptyCorpus(t *testing.T) {
	tool := searchTool(t)

	res, err := tool.Execute(context.Background(), Call{Question: "Python"})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Facts)

	_, err = (&SearchTool{}).Execute(context.Background(), Call{Question: "Python"})
	assert.ErrorIs(t, err, ErrNoRetriever)
}

func TestCriticSummaries(t *testing.T) {
	payload := &facts.Payload{
		Found: true,
		Items: items("project", "p1", "p2", "p3", "p4", "p5", "p6"),
		Meta:  facts.Meta{Evidence: "evidence", Coverage: 0.7},
	}
	s := summarizePayload(payload)
	assert.Len(t, s.Facts, 5)
	assert.Equal(t, 6, s.Items)

	empty := summarizePayload(&facts.Payload{})
	assert.NotNil(t, empty.Facts)

	d := (*Critic)(nil).Review(context.Background(), "q", plan.New(), payload)
	assert.Equal(t, Decision{NeedSearch: true, Query: "q", Reason: "critic unavailable"}, d)
}
