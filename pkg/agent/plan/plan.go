// Package plan turns a question into a validated QueryPlan: which intents
// it carries, which tools to call with which arguments, and how the answer
// should be shaped.
package plan

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/invopop/jsonschema"
)

// Intent is a closed set of question kinds.
type Intent string

const (
	IntentCurrentJob          Intent = "current_job"
	IntentProjectDetails      Intent = "project_details"
	IntentProjectAchievements Intent = "project_achievements"
	IntentProjectTechStack    Intent = "project_tech_stack"
	IntentTechnologyOverview  Intent = "technology_overview"
	IntentTechnologyUsage     Intent = "technology_usage"
	IntentExperienceSummary   Intent = "experience_summary"
	IntentContacts            Intent = "contacts"
	IntentGeneral             Intent = "general_unstructured"
)

var intents = []Intent{
	IntentCurrentJob, IntentProjectDetails, IntentProjectAchievements,
	IntentProjectTechStack, IntentTechnologyOverview, IntentTechnologyUsage,
	IntentExperienceSummary, IntentContacts, IntentGeneral,
}

func (i Intent) Valid() bool {
	for _, v := range intents {
		if i == v {
			return true
		}
	}
	return false
}

// ProjectScoped reports whether the intent is about one project.
func (i Intent) ProjectScoped() bool {
	switch i {
	case IntentProjectDetails, IntentProjectAchievements, IntentProjectTechStack:
		return true
	}
	return false
}

func (Intent) JSONSchema() *jsonschema.Schema {
	return enumSchema("Question intent", intents)
}

// RenderStyle selects the deterministic fact layout.
type RenderStyle string

const (
	RenderBullets        RenderStyle = "bullets"
	RenderGroupedBullets RenderStyle = "grouped_bullets"
	RenderShort          RenderStyle = "short"
	RenderTable          RenderStyle = "table"
)

var renderStyles = []RenderStyle{RenderBullets, RenderGroupedBullets, RenderShort, RenderTable}

func (s RenderStyle) Valid() bool {
	for _, v := range renderStyles {
		if s == v {
			return true
		}
	}
	return false
}

func (RenderStyle) JSONSchema() *jsonschema.Schema {
	return enumSchema("Rendering style of the facts", renderStyles)
}

// AnswerStyle is a tone hint for answer generation.
type AnswerStyle string

const (
	AnswerNatural     AnswerStyle = "natural"
	AnswerConcise     AnswerStyle = "concise"
	AnswerDetailed    AnswerStyle = "detailed"
	AnswerEnumeration AnswerStyle = "enumeration"

	// answerNaturalRU is accepted on input and stored as AnswerNatural.
	answerNaturalRU AnswerStyle = "natural_ru"
)

var answerStyles = []AnswerStyle{AnswerNatural, AnswerConcise, AnswerDetailed, AnswerEnumeration}

func (s AnswerStyle) Valid() bool {
	for _, v := range answerStyles {
		if s == v {
			return true
		}
	}
	return false
}

func (AnswerStyle) JSONSchema() *jsonschema.Schema {
	return enumSchema("Tone of the final answer", append(answerStyles, answerNaturalRU))
}

// TechCategory is the technology taxonomy shared with the export.
type TechCategory string

const (
	CategoryLanguage    TechCategory = "language"
	CategoryDatabase    TechCategory = "database"
	CategoryFramework   TechCategory = "framework"
	CategoryMLFramework TechCategory = "ml_framework"
	CategoryTool        TechCategory = "tool"
	CategoryCloud       TechCategory = "cloud"
	CategoryLibrary     TechCategory = "library"
	CategoryConcept     TechCategory = "concept"
	CategoryOther       TechCategory = "other"
)

var techCategories = []TechCategory{
	CategoryLanguage, CategoryDatabase, CategoryFramework, CategoryMLFramework,
	CategoryTool, CategoryCloud, CategoryLibrary, CategoryConcept, CategoryOther,
}

func (c TechCategory) Valid() bool {
	for _, v := range techCategories {
		if c == v {
			return true
		}
	}
	return false
}

// JSONSchema allows the empty string for "no category".
func (TechCategory) JSONSchema() *jsonschema.Schema {
	return enumSchema("Technology category or empty", append([]TechCategory{""}, techCategories...))
}

func enumSchema[T ~string](description string, values []T) *jsonschema.Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = string(v)
	}
	return &jsonschema.Schema{Type: "string", Description: description, Enum: enum}
}

// Tool names understood by the executor.
const (
	ToolGraph  = "graph_query_tool"
	ToolSearch = "portfolio_search_tool"
)

// Fallback conditions.
const (
	WhenNoResults   = "NO_RESULTS"
	WhenLowCoverage = "LOW_COVERAGE"
)

// Entity is an entity the planner recognized in the question. ID is the
// canonical "<kind>:<slug>" form once sanitized.
type Entity struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty" jsonschema:"-"`
	Confidence float64  `json:"confidence"`
}

// FilterKV is one metadata equality filter for the search tool.
type FilterKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ToolArgs holds the arguments of both tools. Graph calls use Intent,
// EntityID, TechCategory, CompanyID and ProjectID; search calls use Query,
// K, AllowedTypes and Filters.
type ToolArgs struct {
	Intent       string       `json:"intent"`
	EntityID     string       `json:"entity_id"`
	TechCategory TechCategory `json:"tech_category"`
	CompanyID    string       `json:"company_id"`
	ProjectID    string       `json:"project_id"`
	Query        string       `json:"query"`
	K            int          `json:"k"`
	AllowedTypes []string     `json:"allowed_types"`
	Filters      []FilterKV   `json:"filters"`
}

// Where converts Filters to a metadata filter map. Repeated keys collect
// their values into a list.
func (a ToolArgs) Where() map[string]any {
	if len(a.Filters) == 0 {
		return nil
	}
	out := make(map[string]any, len(a.Filters))
	for _, f := range a.Filters {
		if f.Key == "" {
			continue
		}
		switch prev := out[f.Key].(type) {
		case nil:
			out[f.Key] = f.Value
		case string:
			out[f.Key] = []string{prev, f.Value}
		case []string:
			out[f.Key] = append(prev, f.Value)
		}
	}
	return out
}

type ToolCall struct {
	Tool string   `json:"tool"`
	Args ToolArgs `json:"args"`
}

type Fallback struct {
	Enabled bool     `json:"enabled"`
	Tool    string   `json:"tool"`
	When    []string `json:"when"`
}

type Limits struct {
	MaxItems      int `json:"max_items"`
	MaxGroups     int `json:"max_groups"`
	MaxParagraphs int `json:"max_paragraphs"`
}

// TechFilter narrows technology answers to one category. Strict keeps only
// matches; otherwise matches are moved to the front.
type TechFilter struct {
	Category TechCategory `json:"category"`
	Strict   bool         `json:"strict"`
}

// QueryPlan is the planner output consumed by the executor.
type QueryPlan struct {
	Intents     []Intent    `json:"intents"`
	Entities    []Entity    `json:"entities"`
	ToolCalls   []ToolCall  `json:"tool_calls"`
	Fallback    Fallback    `json:"fallback"`
	Limits      Limits      `json:"limits"`
	RenderStyle RenderStyle `json:"render_style"`
	AnswerStyle AnswerStyle `json:"answer_style"`
	Confidence  float64     `json:"confidence"`
	TechFilter  TechFilter  `json:"tech_filter"`
	// Degraded marks the default plan used after the model failed to plan.
	Degraded bool `json:"-"`
}

// New returns a plan carrying the defaults a decoded plan starts from, so
// that fields the model leaves out keep their default values.
func New() QueryPlan {
	return QueryPlan{
		Fallback:    Fallback{Enabled: true, Tool: ToolSearch, When: []string{WhenNoResults, WhenLowCoverage}},
		Limits:      Limits{MaxItems: 10, MaxGroups: 4, MaxParagraphs: 4},
		RenderStyle: RenderBullets,
		AnswerStyle: AnswerNatural,
		TechFilter:  TechFilter{Strict: true},
	}
}

// DefaultPlan is the deterministic plan used for empty questions and when
// planning fails: one search over the raw question, no fallback.
func DefaultPlan(question string) QueryPlan {
	p := New()
	p.Intents = []Intent{IntentGeneral}
	p.ToolCalls = []ToolCall{{Tool: ToolSearch, Args: ToolArgs{Query: question, K: 8}}}
	p.Fallback.Enabled = false
	p.Limits.MaxItems = 8
	return p
}

// PrimaryIntent returns the first intent or general_unstructured.
func (p QueryPlan) PrimaryIntent() Intent {
	if len(p.Intents) == 0 {
		return IntentGeneral
	}
	return p.Intents[0]
}

// UsesTool reports whether any call targets tool.
func (p QueryPlan) UsesTool(tool string) bool {
	for _, tc := range p.ToolCalls {
		if tc.Tool == tool {
			return true
		}
	}
	return false
}

// Category returns the technology category the plan filters on: the
// tech filter first, then the first graph call that names one.
func (p QueryPlan) Category() TechCategory {
	if p.TechFilter.Category != "" {
		return p.TechFilter.Category
	}
	for _, tc := range p.ToolCalls {
		if tc.Tool == ToolGraph && tc.Args.TechCategory != "" {
			return tc.Args.TechCategory
		}
	}
	return ""
}

// EntityMatches converts recognized entities into registry matches.
// Entities of unknown kind are skipped.
func (p QueryPlan) EntityMatches() []graph.EntityMatch {
	var out []graph.EntityMatch
	seen := make(map[string]bool)
	for _, e := range p.Entities {
		kindPart, slug, ok := strings.Cut(e.ID, ":")
		if !ok {
			kindPart, slug = e.Type, e.ID
		}
		kind, known := graph.ParseKind(kindPart)
		if !known || slug == "" {
			continue
		}
		id := graph.CanonicalID(kind, slug)
		if seen[id] {
			continue
		}
		seen[id] = true
		conf := e.Confidence
		if conf <= 0 || conf > 1 {
			conf = 1
		}
		out = append(out, graph.EntityMatch{Kind: kind, Slug: slug, Name: e.Name, Aliases: e.Aliases, Confidence: conf})
	}
	return out
}

// ValidationError reports why a plan was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan: %s: %s", e.Field, e.Reason)
}
