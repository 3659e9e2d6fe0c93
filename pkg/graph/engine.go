package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

// Intent is a structured graph question.
type Intent string

const (
	IntentAchievements   Intent = "achievements"
	IntentCurrentJob     Intent = "current_job"
	IntentContacts       Intent = "contacts"
	IntentLanguages      Intent = "languages"
	IntentTechnologies   Intent = "technologies"
	IntentProjectDetails Intent = "project_details"
	IntentExperience     Intent = "experience"
	IntentGeneral        Intent = "general"
)

// Item kinds produced by the engine.
const (
	ItemAchievement     = "achievement"
	ItemTechnology      = "technology"
	ItemExperience      = "experience"
	ItemContact         = "contact"
	ItemProject         = "project"
	ItemTechnologyUsage = "technology_usage"
)

// Item is one structured fact. Fields holds the raw attributes used by
// rendering and grounding.
type Item struct {
	Kind     string
	Text     string
	Fields   map[string]any
	SourceID string
}

// Source references a node that contributed to a result.
type Source struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Slug  string `json:"slug,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Result is the answer of one engine query.
type Result struct {
	Intent     Intent
	EntityKey  string
	Items      []Item
	Sources    []Source
	Found      bool
	Confidence float64
}

// Engine answers structured intents against one generation.
type Engine struct {
	store *Store
	rules *rules.Rules
}

// NewEngine binds an engine to a generation's store.
func NewEngine(gen *Generation, r *rules.Rules) *Engine {
	if r == nil {
		r = rules.Default()
	}
	store := NewStore()
	if gen != nil && gen.Store != nil {
		store = gen.Store
	}
	return &Engine{store: store, rules: r}
}

// Query dispatches an intent. Unsupported intents return an empty result.
func (e *Engine) Query(intent Intent, key, category string) Result {
	switch intent {
	case IntentAchievements:
		return e.Achievements(key)
	case IntentCurrentJob:
		return e.CurrentJob()
	case IntentContacts:
		return e.Contacts()
	case IntentLanguages:
		return e.Languages()
	case IntentTechnologies:
		return e.Technologies(key, category)
	case IntentProjectDetails:
		return e.ProjectDetails(key)
	case IntentExperience:
		return e.Experience(key)
	}
	return Result{Intent: intent, EntityKey: key}
}

func sourceOf(n *Node) Source {
	url := n.Str("url")
	if url == "" {
		url = n.Str("repo_url")
	}
	if url == "" {
		url = n.Str("demo_url")
	}
	return Source{ID: n.ID, Type: string(n.Type), Title: n.Name, Slug: n.Slug, URL: url}
}

func sourcesOf(nodes []*Node, limit int) []Source {
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	out := make([]Source, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, sourceOf(n))
	}
	return out
}

func finish(r Result, conf float64) Result {
	r.Found = len(r.Items) > 0
	if r.Found {
		r.Confidence = conf
	}
	return r
}

// bareKey strips a "<kind>:" prefix from an entity key.
func bareKey(key string) string {
	if kind, rest, ok := strings.Cut(key, ":"); ok {
		if _, known := ParseKind(kind); known {
			return rest
		}
	}
	return key
}

// resolve finds the node an entity key refers to. Keys may be node ids,
// canonical ids, slugs or names. Containment matching only applies to the
// partial types, so short technology names never match by substring.
func (e *Engine) resolve(key string, types []NodeType, partial ...NodeType) (*Node, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	if n, ok := e.store.Node(key); ok && typeIn(n.Type, types) {
		return n, true
	}
	if kind, rest, ok := strings.Cut(key, ":"); ok {
		if k, known := ParseKind(kind); known {
			types = []NodeType{NodeType(k)}
			key = rest
		}
	}
	if n, ok := e.store.NodeBySlug(key, types...); ok {
		return n, true
	}
	lk := lower(key)
	var candidates []*Node
	for _, t := range types {
		candidates = append(candidates, e.store.NodesByType(t)...)
	}
	for _, n := range candidates {
		if lower(n.Slug) == lk || lower(n.Name) == lk {
			return n, true
		}
	}
	for _, n := range candidates {
		if !typeIn(n.Type, partial) || len(partial) == 0 {
			continue
		}
		if strings.Contains(lower(n.Slug), lk) || strings.Contains(lower(n.Name), lk) {
			return n, true
		}
	}
	return nil, false
}

// Achievements lists achievements, optionally those whose project or
// company slug or name relates to key in either direction.
func (e *Engine) Achievements(key string) Result {
	res := Result{Intent: IntentAchievements, EntityKey: key}
	achievements := e.store.NodesByType(NodeAchievement)
	if k := lower(bareKey(key)); k != "" {
		var filtered []*Node
		for _, a := range achievements {
			projSlug, compSlug := lower(a.Str("project_slug")), lower(a.Str("company_slug"))
			projName, compName := lower(a.Str("project_name")), lower(a.Str("company_name"))
			hit := strings.Contains(projSlug, k) || strings.Contains(compSlug, k) ||
				strings.Contains(projName, k) || strings.Contains(compName, k) ||
				(projSlug != "" && strings.Contains(k, projSlug)) ||
				(compSlug != "" && strings.Contains(k, compSlug))
			if hit {
				filtered = append(filtered, a)
			}
		}
		achievements = filtered
	}
	for _, a := range achievements {
		text := a.Str("text")
		if text == "" {
			text = a.Name
		}
		res.Items = append(res.Items, Item{
			Kind: ItemAchievement,
			Text: text,
			Fields: map[string]any{
				"achievement":  text,
				"project":      a.Str("project_name"),
				"project_slug": a.Str("project_slug"),
				"company":      a.Str("company_name"),
			},
			SourceID: a.ID,
		})
	}
	res.Sources = sourcesOf(achievements, 10)
	return finish(res, 0.9)
}

// CurrentJob returns the companies marked as current.
func (e *Engine) CurrentJob() Result {
	res := Result{Intent: IntentCurrentJob}
	companies := e.store.FindNodesByData(NodeCompany, "is_current", true)
	for _, c := range companies {
		role, start := c.Str("role"), c.Str("start_date")
		text := c.Name
		if role != "" {
			text = role + " — " + c.Name
		}
		if start != "" {
			text += ", с " + start
		}
		res.Items = append(res.Items, Item{
			Kind: ItemExperience,
			Text: text,
			Fields: map[string]any{
				"company":    c.Name,
				"role":       role,
				"start_date": start,
			},
			SourceID: c.ID,
		})
	}
	res.Sources = sourcesOf(companies, 0)
	return finish(res, 0.95)
}

// Contacts lists contact nodes.
func (e *Engine) Contacts() Result {
	res := Result{Intent: IntentContacts}
	contacts := e.store.NodesByType(NodeContact)
	for _, c := range contacts {
		value, url := c.Str("value"), c.Str("url")
		shown := value
		if shown == "" {
			shown = url
		}
		text := c.Name
		if shown != "" {
			text = c.Name + ": " + shown
		}
		res.Items = append(res.Items, Item{
			Kind: ItemContact,
			Text: text,
			Fields: map[string]any{
				"kind":  c.Str("kind"),
				"label": c.Name,
				"value": value,
				"url":   url,
			},
			SourceID: c.ID,
		})
	}
	res.Sources = sourcesOf(contacts, 0)
	return finish(res, 0.95)
}

func techItem(t *Node) Item {
	return Item{
		Kind:     ItemTechnology,
		Text:     t.Name,
		Fields:   map[string]any{"name": t.Name, "category": t.Str("category")},
		SourceID: t.ID,
	}
}

// Languages returns technologies that are programming languages by
// category or by name. Without any, the first 15 technologies stand in.
func (e *Engine) Languages() Result {
	res := Result{Intent: IntentLanguages}
	techs := e.store.NodesByType(NodeTechnology)
	var langs []*Node
	for _, t := range techs {
		if e.rules.IsLanguageCategory(t.Str("category")) || e.rules.IsKnownLanguage(t.Name) {
			langs = append(langs, t)
		}
	}
	if len(langs) == 0 {
		langs = techs
		if len(langs) > 15 {
			langs = langs[:15]
		}
	}
	for _, t := range langs {
		res.Items = append(res.Items, techItem(t))
	}
	res.Sources = sourcesOf(langs, 10)
	return finish(res, 0.85)
}

// Technologies answers technology questions:
//   - a technology key lists the projects that use it;
//   - a project key lists that project's technologies;
//   - a category without key ranks projects by matching technologies;
//   - neither lists every technology.
//
// A key that resolves to nothing yields Found=false.
func (e *Engine) Technologies(key, category string) Result {
	if strings.TrimSpace(key) == "" {
		if strings.TrimSpace(category) != "" {
			return e.TechnologiesByCategory(category)
		}
		res := Result{Intent: IntentTechnologies}
		techs := e.store.NodesByType(NodeTechnology)
		for _, t := range techs {
			res.Items = append(res.Items, techItem(t))
		}
		res.Sources = sourcesOf(techs, 10)
		return finish(res, 0.85)
	}

	node, ok := e.resolve(key, []NodeType{NodeTechnology, NodeProject}, NodeProject)
	if !ok {
		return Result{Intent: IntentTechnologies, EntityKey: key}
	}
	switch node.Type {
	case NodeTechnology:
		return e.projectsUsing(node, key)
	case NodeProject:
		return e.projectTechnologies(node, key)
	}
	return Result{Intent: IntentTechnologies, EntityKey: key}
}

func (e *Engine) projectsUsing(tech *Node, key string) Result {
	res := Result{Intent: IntentTechnologies, EntityKey: key}
	var projects []*Node
	for _, edge := range e.store.Incoming(tech.ID, EdgeUses) {
		if p, ok := e.store.Node(edge.Source); ok && p.Type == NodeProject {
			projects = append(projects, p)
		}
	}
	for _, p := range projects {
		res.Items = append(res.Items, Item{
			Kind: ItemTechnologyUsage,
			Text: p.Name + " — использует " + tech.Name,
			Fields: map[string]any{
				"project":      p.Name,
				"project_slug": p.Slug,
				"technology":   tech.Name,
				"category":     tech.Str("category"),
			},
			SourceID: p.ID,
		})
	}
	res.Sources = append([]Source{sourceOf(tech)}, sourcesOf(projects, 9)...)
	return finish(res, 0.9)
}

func (e *Engine) projectTechnologies(project *Node, key string) Result {
	res := Result{Intent: IntentTechnologies, EntityKey: key}
	techs := e.store.Traverse(project.ID, []EdgeType{EdgeUses}, 1)
	have := make(map[string]bool, len(techs))
	for _, t := range techs {
		have[lower(t.Name)] = true
	}
	for _, name := range project.Strings("technologies") {
		if have[lower(name)] {
			continue
		}
		have[lower(name)] = true
		for _, t := range e.store.NodesByType(NodeTechnology) {
			if strings.EqualFold(t.Name, name) {
				techs = append(techs, t)
				break
			}
		}
	}
	for _, t := range techs {
		it := techItem(t)
		it.Fields["project"] = project.Name
		res.Items = append(res.Items, it)
	}
	res.Sources = sourcesOf(techs, 10)
	return finish(res, 0.9)
}

type rankedProject struct {
	node    *Node
	matched []*Node
	weight  int
}

// TechnologiesByCategory ranks projects by how many technologies of the
// category they use. Ties go to the project whose matched technologies are
// used more widely, then to the name. Each item names the project and up
// to five of its matching technologies, most widely used first.
func (e *Engine) TechnologiesByCategory(category string) Result {
	res := Result{Intent: IntentTechnologies, EntityKey: ""}
	cat := lower(category)
	usage := make(map[string]int)
	inCategory := make(map[string]bool)
	for _, t := range e.store.NodesByType(NodeTechnology) {
		if lower(t.Str("category")) == cat {
			inCategory[t.ID] = true
			usage[t.ID] = len(e.store.Incoming(t.ID, EdgeUses))
		}
	}

	var ranked []rankedProject
	for _, p := range e.store.NodesByType(NodeProject) {
		rp := rankedProject{node: p}
		for _, t := range e.store.Neighbors(p.ID, EdgeUses) {
			if inCategory[t.ID] {
				rp.matched = append(rp.matched, t)
				rp.weight += usage[t.ID]
			}
		}
		if len(rp.matched) > 0 {
			sort.SliceStable(rp.matched, func(i, j int) bool {
				return usage[rp.matched[i].ID] > usage[rp.matched[j].ID]
			})
			ranked = append(ranked, rp)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if len(a.matched) != len(b.matched) {
			return len(a.matched) > len(b.matched)
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		return lower(a.node.Name) < lower(b.node.Name)
	})

	projects := make([]*Node, 0, len(ranked))
	for _, rp := range ranked {
		top := rp.matched
		if len(top) > 5 {
			top = top[:5]
		}
		names := make([]string, 0, len(top))
		for _, t := range top {
			names = append(names, t.Name)
		}
		res.Items = append(res.Items, Item{
			Kind: ItemProject,
			Text: fmt.Sprintf("%s: %s", rp.node.Name, strings.Join(names, ", ")),
			Fields: map[string]any{
				"name":         rp.node.Name,
				"slug":         rp.node.Slug,
				"category":     category,
				"technologies": names,
				"match_count":  len(rp.matched),
			},
			SourceID: rp.node.ID,
		})
		projects = append(projects, rp.node)
	}
	res.Sources = sourcesOf(projects, 10)
	return finish(res, 0.9)
}

// ProjectDetails merges a project's attributes with its technologies and
// achievements.
func (e *Engine) ProjectDetails(key string) Result {
	res := Result{Intent: IntentProjectDetails, EntityKey: key}
	project, ok := e.resolve(key, []NodeType{NodeProject}, NodeProject)
	if !ok {
		return res
	}
	techs := e.store.Traverse(project.ID, []EdgeType{EdgeUses}, 1)
	var techNames []string
	seen := make(map[string]bool)
	for _, name := range append(namesOf(techs), project.Strings("technologies")...) {
		if !seen[lower(name)] {
			seen[lower(name)] = true
			techNames = append(techNames, name)
		}
	}
	var achievements []string
	for _, a := range e.store.NodesByType(NodeAchievement) {
		if a.Str("project_slug") == project.Slug {
			achievements = append(achievements, a.Str("text"))
		}
	}

	description := project.Str("description_md")
	var b strings.Builder
	b.WriteString(project.Name)
	if description != "" {
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(description))
	}
	if len(techNames) > 0 {
		b.WriteString("\nТехнологии: ")
		b.WriteString(strings.Join(techNames, ", "))
	}

	res.Items = []Item{{
		Kind: ItemProject,
		Text: b.String(),
		Fields: map[string]any{
			"name":             project.Name,
			"slug":             project.Slug,
			"description":      description,
			"long_description": project.Str("long_description_md"),
			"domain":           project.Str("domain"),
			"period":           project.Str("period"),
			"repo_url":         project.Str("repo_url"),
			"demo_url":         project.Str("demo_url"),
			"company_name":     project.Str("company_name"),
			"technologies":     techNames,
			"achievements":     achievements,
		},
		SourceID: project.ID,
	}}
	limit := techs
	if len(limit) > 5 {
		limit = limit[:5]
	}
	res.Sources = append([]Source{sourceOf(project)}, sourcesOf(limit, 0)...)
	return finish(res, 0.9)
}

// Experience lists companies, optionally filtered by key, with the
// projects done there.
func (e *Engine) Experience(key string) Result {
	res := Result{Intent: IntentExperience, EntityKey: key}
	companies := e.store.NodesByType(NodeCompany)
	if k := lower(bareKey(key)); k != "" {
		var filtered []*Node
		for _, c := range companies {
			if strings.Contains(lower(c.Slug), k) || strings.Contains(lower(c.Name), k) {
				filtered = append(filtered, c)
			}
		}
		companies = filtered
	}
	for _, c := range companies {
		var projects []string
		seen := make(map[string]bool)
		for _, edge := range e.store.Incoming(c.ID, EdgeBelongsTo) {
			if p, ok := e.store.Node(edge.Source); ok && p.Type == NodeProject && !seen[p.ID] {
				seen[p.ID] = true
				projects = append(projects, p.Name)
			}
		}
		for _, p := range e.store.FindNodesByData(NodeProject, "company_slug", c.Slug) {
			if !seen[p.ID] {
				seen[p.ID] = true
				projects = append(projects, p.Name)
			}
		}
		end := c.Str("end_date")
		if end == "" {
			end = "present"
		}
		period := c.Str("start_date") + " - " + end
		role := c.Str("role")
		text := role + " @ " + c.Name + " (" + period + ")"
		if len(projects) > 0 {
			text += ". Проекты: " + strings.Join(projects, ", ")
		}
		res.Items = append(res.Items, Item{
			Kind: ItemExperience,
			Text: text,
			Fields: map[string]any{
				"company":    c.Name,
				"role":       role,
				"period":     period,
				"start_date": c.Str("start_date"),
				"end_date":   c.Str("end_date"),
				"is_current": c.Bool("is_current"),
				"projects":   projects,
			},
			SourceID: c.ID,
		})
	}
	res.Sources = sourcesOf(companies, 10)
	return finish(res, 0.9)
}

func namesOf(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}
