package plan

import (
	"fmt"
	"strings"
)

// Validate checks p and normalizes it in place: defaults fill empty
// styles, natural_ru becomes natural, limits and confidence are clamped
// and unknown tech categories are dropped. Unknown tool names are allowed
// and only logged.
func Validate(p *QueryPlan) error {
	if len(p.Intents) == 0 {
		return &ValidationError{Field: "intents", Reason: "at least one intent is required"}
	}
	for i, in := range p.Intents {
		in = Intent(strings.ToLower(strings.TrimSpace(string(in))))
		if !in.Valid() {
			return &ValidationError{Field: fmt.Sprintf("intents[%d]", i), Reason: fmt.Sprintf("unknown intent %q", p.Intents[i])}
		}
		p.Intents[i] = in
	}
	p.Intents = uniqueIntents(p.Intents)

	if len(p.ToolCalls) == 0 {
		return &ValidationError{Field: "tool_calls", Reason: "at least one tool call is required"}
	}
	for i := range p.ToolCalls {
		tc := &p.ToolCalls[i]
		tc.Tool = strings.TrimSpace(tc.Tool)
		if tc.Tool != ToolGraph && tc.Tool != ToolSearch {
			log.Warn("Unknown tool in plan", "tool", tc.Tool)
		}
		if c := tc.Args.TechCategory; c != "" && !c.Valid() {
			log.Warn("Dropping unknown tech category", "tool", tc.Tool, "category", c)
			tc.Args.TechCategory = ""
		}
	}

	switch {
	case p.RenderStyle == "":
		p.RenderStyle = RenderBullets
	case !p.RenderStyle.Valid():
		return &ValidationError{Field: "render_style", Reason: fmt.Sprintf("unknown render style %q", p.RenderStyle)}
	}
	switch {
	case p.AnswerStyle == "" || p.AnswerStyle == answerNaturalRU:
		p.AnswerStyle = AnswerNatural
	case !p.AnswerStyle.Valid():
		return &ValidationError{Field: "answer_style", Reason: fmt.Sprintf("unknown answer style %q", p.AnswerStyle)}
	}
	if c := p.TechFilter.Category; c != "" && !c.Valid() {
		return &ValidationError{Field: "tech_filter.category", Reason: fmt.Sprintf("unknown category %q", c)}
	}

	p.Limits.MaxItems = clampLimit(p.Limits.MaxItems, 10, 50)
	p.Limits.MaxGroups = clampLimit(p.Limits.MaxGroups, 4, 10)
	p.Limits.MaxParagraphs = clampLimit(p.Limits.MaxParagraphs, 4, 10)
	p.Confidence = min(1, max(0, p.Confidence))

	if p.Fallback.Tool == "" {
		p.Fallback.Tool = ToolSearch
	}
	if len(p.Fallback.When) == 0 {
		p.Fallback.When = []string{WhenNoResults, WhenLowCoverage}
	}
	return nil
}

// clampLimit maps an unset limit to def and clamps the rest to [1, hi].
func clampLimit(v, def, hi int) int {
	if v == 0 {
		return def
	}
	return min(hi, max(1, v))
}

func uniqueIntents(in []Intent) []Intent {
	seen := make(map[Intent]bool, len(in))
	out := in[:0]
	for _, i := range in {
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}
