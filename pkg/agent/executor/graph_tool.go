package executor

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
)

// ErrNoEngine is returned by a graph tool without an engine.
var ErrNoEngine = errors.New("graph engine not configured")

// GraphTool answers structured intents from the knowledge graph.
type GraphTool struct {
	Engine *graph.Engine
}

func NewGraphTool(engine *graph.Engine) *GraphTool {
	return &GraphTool{Engine: engine}
}

func (t *GraphTool) Name() string { return plan.ToolGraph }

func (t *GraphTool) Execute(ctx context.Context, call Call) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if t.Engine == nil {
		return Result{}, ErrNoEngine
	}

	intent := GraphIntent(call.Args.Intent, call.Intent)
	key := firstNonEmpty(call.Args.EntityID, call.Args.ProjectID, call.Args.CompanyID)
	res := t.Engine.Query(intent, key, string(call.Args.TechCategory))

	out := Result{Found: res.Found, Confidence: res.Confidence}
	for _, it := range res.Items {
		out.Facts = append(out.Facts, facts.Item{
			Type:     it.Kind,
			Text:     it.Text,
			Metadata: it.Fields,
			SourceID: it.SourceID,
		})
	}
	for _, s := range res.Sources {
		out.Sources = append(out.Sources, facts.Source{ID: s.ID, Label: s.Title, Type: s.Type})
	}
	log.Debug("Graph tool",
		"intent", intent,
		"key", key,
		"items", len(out.Facts),
		"found", out.Found,
	)
	return out, nil
}

var planToGraph = map[plan.Intent]graph.Intent{
	plan.IntentCurrentJob:          graph.IntentCurrentJob,
	plan.IntentProjectDetails:      graph.IntentProjectDetails,
	plan.IntentProjectAchievements: graph.IntentAchievements,
	plan.IntentProjectTechStack:    graph.IntentTechnologies,
	plan.IntentTechnologyUsage:     graph.IntentTechnologies,
	plan.IntentTechnologyOverview:  graph.IntentTechnologies,
	plan.IntentExperienceSummary:   graph.IntentExperience,
	plan.IntentContacts:            graph.IntentContacts,
	plan.IntentGeneral:             graph.IntentGeneral,
}

var graphIntents = map[graph.Intent]bool{
	graph.IntentAchievements:   true,
	graph.IntentCurrentJob:     true,
	graph.IntentContacts:       true,
	graph.IntentLanguages:      true,
	graph.IntentTechnologies:   true,
	graph.IntentProjectDetails: true,
	graph.IntentExperience:     true,
	graph.IntentGeneral:        true,
}

// GraphIntent maps a tool call intent onto an engine intent. Engine intent
// names pass through unchanged, plan intents are translated, and anything
// else becomes general. An empty intent uses fallback.
func GraphIntent(intent string, fallback plan.Intent) graph.Intent {
	if intent == "" {
		intent = string(fallback)
	}
	if gi := graph.Intent(intent); graphIntents[gi] {
		return gi
	}
	if gi, ok := planToGraph[plan.Intent(intent)]; ok {
		return gi
	}
	return graph.IntentGeneral
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
