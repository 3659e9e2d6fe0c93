// Package render turns normalized facts into deterministic markdown.
package render

import (
	"regexp"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

const (
	shortItems     = 3
	tableTextLimit = 100
	defaultLimit   = 10
)

var multiSpaceRe = regexp.MustCompile(` {2,}`)

type Renderer struct {
	rules *rules.Rules
}

func New(r *rules.Rules) *Renderer {
	if r == nil {
		r = rules.Default()
	}
	return &Renderer{rules: r}
}

// Render formats at most maxItems facts in the given style. Unknown styles
// render as bullets and a non-positive maxItems means 10.
func (r *Renderer) Render(items []facts.Item, style plan.RenderStyle, intents []plan.Intent, maxItems int) string {
	if len(items) == 0 {
		return ""
	}
	if maxItems <= 0 {
		maxItems = defaultLimit
	}
	items = items[:min(maxItems, len(items))]

	switch style {
	case plan.RenderGroupedBullets:
		return r.grouped(items)
	case plan.RenderShort:
		return short(items)
	case plan.RenderTable:
		return table(items, intents)
	}
	return bullets(items)
}

func bullets(items []facts.Item) string {
	var lines []string
	for _, it := range items {
		if text := CleanText(it.Text); text != "" {
			lines = append(lines, "- "+text)
		}
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) grouped(items []facts.Item) string {
	var blocks []string
	for _, g := range groupByLabel(items, r.rules.GroupLabel) {
		var lines []string
		for _, it := range g.Items {
			if text := CleanText(it.Text); text != "" {
				lines = append(lines, "- "+text)
			}
		}
		if len(lines) == 0 {
			continue
		}
		blocks = append(blocks, "**"+g.Type+":**\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// groupByLabel groups items by the label of their type. Types sharing a
// label share a group.
func groupByLabel(items []facts.Item, label func(string) string) []facts.Group {
	relabeled := make([]facts.Item, len(items))
	for i, it := range items {
		relabeled[i] = it
		relabeled[i].Type = label(it.Type)
	}
	return facts.GroupByType(relabeled)
}

func short(items []facts.Item) string {
	var texts []string
	for _, it := range items[:min(shortItems, len(items))] {
		if text := CleanText(it.Text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, " ")
}

func table(items []facts.Item, intents []plan.Intent) string {
	switch {
	case slices.Contains(intents, plan.IntentContacts):
		return contactsTable(items)
	case slices.Contains(intents, plan.IntentTechnologyOverview),
		slices.Contains(intents, plan.IntentProjectTechStack):
		return technologiesTable(items)
	}
	lines := []string{"| Элемент | Описание |", "|---------|----------|"}
	for _, it := range items {
		text := util.Truncate(CleanText(it.Text), tableTextLimit)
		lines = append(lines, row(it.Type, text))
	}
	return strings.Join(lines, "\n")
}

func contactsTable(items []facts.Item) string {
	lines := []string{"| Тип | Контакт |", "|-----|---------|"}
	for _, it := range items {
		kind := coalesce(it.Str("kind"), it.Type)
		value := coalesce(it.Str("url"), it.Str("value"), it.Text)
		lines = append(lines, row(kind, value))
	}
	return strings.Join(lines, "\n")
}

func technologiesTable(items []facts.Item) string {
	lines := []string{"| Технология | Категория |", "|------------|-----------|"}
	for _, it := range items {
		lines = append(lines, row(coalesce(it.Str("name"), it.Text), coalesce(it.Str("category"), "-")))
	}
	return strings.Join(lines, "\n")
}

func row(cells ...string) string {
	for i, c := range cells {
		cells[i] = strings.ReplaceAll(strings.ReplaceAll(c, "\n", " "), "|", `\|`)
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CleanText trims text, drops a leading "- " bullet and folds runs of
// spaces.
func CleanText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "- ")
	return multiSpaceRe.ReplaceAllString(text, " ")
}
