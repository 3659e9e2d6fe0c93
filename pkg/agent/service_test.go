package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/answer"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/executor"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/ai/aitest"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/rank"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const achievementsPlan = `{
	"intents": ["project_achievements"],
	"entities": [{"type": "project", "id": "project:atlas", "name": "Atlas", "confidence": 0.9}],
	"tool_calls": [{"tool": "graph_query_tool", "args": {"intent": "project_achievements", "entity_id": "project:atlas"}}],
	"render_style": "bullets",
	"confidence": 0.9
}`

func testHolder() *graph.Holder {
	h := graph.NewHolder(nil, graph.BuildOptions{})
	h.Rebuild(&export.Payload{
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
	})
	return h
}

func testSearch(t *testing.T, docs ...rag.Document) executor.SearchTool {
	t.Helper()
	vec := retrieval.NewMemoryVectorIndex(retrieval.HashEmbedder{Dim: 64})
	require.NoError(t, vec.Upsert(context.Background(), docs))
	lex := retrieval.NewBM25Index()
	for _, d := range docs {
		lex.AddTexts("portfolio", []string{rag.DocID(d)}, []string{d.Text})
	}
	return executor.SearchTool{
		Retriever: retrieval.NewHybridRetriever(vec, lex, "portfolio"),
		Scorer:    rank.OverlapScorer{},
	}
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (c *memCache) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = raw
	return nil
}

func TestAnswerFromGraph(t *testing.T) {
	client := aitest.New(
		aitest.Text(achievementsPlan),
		aitest.Text("В проекте Atlas он ускорил поиск в три раза и внедрил гибридный поиск."),
	)
	svc := NewService(Config{
		Graph:   testHolder(),
		Planner: plan.NewPlanner(client),
		Answer:  answer.NewGenerator(client, "", nil),
	})

	resp := svc.Answer(context.Background(), Request{Question: "Какие достижения в проекте Atlas?"})

	assert.True(t, resp.Found)
	assert.Equal(t, []plan.Intent{plan.IntentProjectAchievements}, resp.Intents)
	assert.Equal(t, "В проекте Atlas он ускорил поиск в три раза и внедрил гибридный поиск.", resp.Answer)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Len(t, resp.Sources, 2)
	assert.Empty(t, resp.Warnings)
	assert.Len(t, client.Calls(), 2)
}

func TestAnswerRefusesUngroundedAnswer(t *testing.T) {
	client := aitest.New(
		aitest.Text(achievementsPlan),
		aitest.Text("Он использовал MongoDB, ClickHouse, DynamoDB и AWS."),
	)
	svc := NewService(Config{
		Graph:   testHolder(),
		Planner: plan.NewPlanner(client),
		Answer:  answer.NewGenerator(client, "", nil),
	})

	resp := svc.Answer(context.Background(), Request{Question: "Какие достижения в проекте Atlas?"})

	assert.Equal(t, RefuseMessage, resp.Answer)
	assert.True(t, resp.Found)
	assert.Zero(t, resp.Confidence)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[len(resp.Warnings)-1], "Grounding: refuse, ungrounded=[")
}

func TestAnswerNotFound(t *testing.T) {
	svc := NewService(Config{Graph: graph.NewHolder(nil, graph.BuildOptions{})})

	resp := svc.Answer(context.Background(), Request{Question: "Что-нибудь?"})

	assert.False(t, resp.Found)
	assert.Equal(t, rules.Default().Grounding.NotFoundMessage, resp.Answer)
	assert.Zero(t, resp.Confidence)
	assert.NotNil(t, resp.Sources)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], plan.ToolSearch)
}

func TestAnswerFromSearchWithoutModel(t *testing.T) {
	svc := NewService(Config{
		Graph: testHolder(),
		Search: testSearch(t,
			rag.Document{ID: "project:1", Text: "AI-Portfolio: RAG ассистент на Python", Metadata: rag.Metadata{Type: "project", DocID: "project:1", Name: "AI-Portfolio"}},
			rag.Document{ID: "technology:1", Text: "Python язык программирования", Metadata: rag.Metadata{Type: "technology", DocID: "technology:1", Name: "Python"}},
		),
		Collection: "portfolio",
	})

	resp := svc.Answer(context.Background(), Request{Question: "RAG ассистент на Python", K: 3})

	assert.True(t, resp.Found)
	assert.Contains(t, resp.Answer, "- AI-Portfolio: RAG ассистент на Python")
	assert.Greater(t, resp.Confidence, 0.0)
	assert.Equal(t, []plan.Intent{plan.IntentGeneral}, resp.Intents)
}

func TestAnswerUsesCache(t *testing.T) {
	client := aitest.New(aitest.Text(achievementsPlan), aitest.Text("Atlas: ускорил поиск в три раза."))
	cache := &memCache{}
	svc := NewService(Config{
		Graph:   testHolder(),
		Planner: plan.NewPlanner(client),
		Answer:  answer.NewGenerator(client, "", nil),
		Cache:   cache,
	})
	req := Request{Question: "Какие достижения в проекте Atlas?"}

	first := svc.Answer(context.Background(), req)
	second := svc.Answer(context.Background(), req)

	assert.Equal(t, first, second)
	assert.Len(t, client.Calls(), 2)
	assert.Len(t, cache.data, 1)
}

func TestAnswerNotCachedWhenGenerationFails(t *testing.T) {
	client := aitest.New(
		aitest.Text(achievementsPlan),
		aitest.Fail(errors.New("model unavailable")),
		aitest.Text(achievementsPlan),
		aitest.Text("Atlas: ускорил поиск в три раза."),
	)
	cache := &memCache{}
	svc := NewService(Config{
		Graph:   testHolder(),
		Planner: plan.NewPlanner(client),
		Answer:  answer.NewGenerator(client, "", nil),
		Cache:   cache,
	})
	req := Request{Question: "Какие достижения в проекте Atlas?"}

	first := svc.Answer(context.Background(), req)
	assert.Contains(t, first.Answer, "Ускорил поиск в три раза")
	require.NotEmpty(t, first.Warnings)
	assert.Contains(t, first.Warnings[len(first.Warnings)-1], "Генерация ответа не удалась")
	assert.Empty(t, cache.data)

	second := svc.Answer(context.Background(), req)
	assert.Equal(t, "Atlas: ускорил поиск в три раза.", second.Answer)
	assert.Len(t, client.Calls(), 4)
	assert.Len(t, cache.data, 1)
}

func TestAnswerBeforeGraphBuildNotCached(t *testing.T) {
	cache := &memCache{}
	svc := NewService(Config{
		Graph: graph.NewHolder(nil, graph.BuildOptions{}),
		Search: testSearch(t,
			rag.Document{ID: "project:1", Text: "AI-Portfolio: RAG ассистент на Python", Metadata: rag.Metadata{Type: "project", DocID: "project:1", Name: "AI-Portfolio"}},
		),
		Collection: "portfolio",
		Cache:      cache,
	})

	resp := svc.Answer(context.Background(), Request{Question: "RAG ассистент на Python"})

	assert.True(t, resp.Found)
	assert.Empty(t, cache.data)
}

func TestWithK(t *testing.T) {
	p := plan.DefaultPlan("q")
	p.ToolCalls = append(p.ToolCalls, plan.ToolCall{Tool: plan.ToolGraph})

	got := withK(p, 20)
	assert.Equal(t, 20, got.ToolCalls[0].Args.K)
	assert.Zero(t, got.ToolCalls[1].Args.K)
	assert.Equal(t, 8, p.ToolCalls[0].Args.K)
	assert.Equal(t, p, withK(p, 0))
}

func TestCacheKeyTracksGeneration(t *testing.T) {
	h := testHolder()
	req := Request{Question: "q"}
	before := cacheKey(h.Current(), "portfolio", req)

	assert.Equal(t, before, cacheKey(h.Current(), "portfolio", Request{Question: " q "}))
	assert.Equal(t,
		cacheKey(h.Current(), "portfolio", Request{Question: "a b"}),
		cacheKey(h.Current(), "portfolio", Request{Question: "a \n b"}),
	)
	assert.NotEqual(t, before, cacheKey(h.Current(), "other", req))
	assert.NotEqual(t, before, cacheKey(h.Current(), "portfolio", Request{Question: "q", K: 3}))

	h.Rebuild(&export.Payload{Profile: &export.Profile{ID: "2", FullName: "Other"}})
	assert.NotEqual(t, before, cacheKey(h.Current(), "portfolio", req))
}

func TestStats(t *testing.T) {
	s := NewService(Config{Graph: testHolder()}).Stats()
	assert.Equal(t, uint64(1), s.Generation)
	assert.Equal(t, 1, s.Entities[graph.KindProject])
	assert.Positive(t, s.Graph.Nodes)
}
