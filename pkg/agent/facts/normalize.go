package facts

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
)

// Normalization rule names reported by Normalize.
const (
	RuleStrictCategory  = "strict_category_filter"
	RuleBoostCategory   = "boost_category_filter"
	RuleTechnologyUsage = "technology_usage_filter"
	RuleExperienceFirst = "experience_prioritization"
	RuleLimitApplied    = "limit_applied"
)

// Normalize applies the intent keyed filters to the payload items and
// returns the kept items with the names of the rules that fired. The item
// limit is applied last.
//
//   - technology_overview with a category: strict mode keeps category
//     matches plus non-technology facts whose text names the category;
//     boost mode moves matches to the front.
//   - technology_usage: keeps technology, technology_usage and project
//     facts when there are any.
//   - experience_summary: moves experience facts to the front.
func Normalize(payload *Payload, p plan.QueryPlan) ([]Item, []string) {
	items := append([]Item(nil), payload.Items...)
	if len(items) == 0 {
		return nil, nil
	}
	var applied []string

	switch p.PrimaryIntent() {
	case plan.IntentTechnologyOverview:
		category := strings.ToLower(string(p.Category()))
		if category == "" {
			break
		}
		if p.TechFilter.Strict || p.TechFilter.Category == "" {
			items = strictCategory(items, category)
			applied = append(applied, RuleStrictCategory+":"+category)
		} else {
			items = boostCategory(items, category)
			applied = append(applied, RuleBoostCategory+":"+category)
		}
	case plan.IntentTechnologyUsage:
		kept := filterTypes(items, "technology_usage", "technology", "project")
		if len(kept) > 0 {
			items = kept
			applied = append(applied, RuleTechnologyUsage)
		}
	case plan.IntentExperienceSummary:
		exp := filterTypes(items, "experience", "experience_project")
		if len(exp) > 0 {
			rest := make([]Item, 0, len(items)-len(exp))
			for _, it := range items {
				if it.Type != "experience" && it.Type != "experience_project" {
					rest = append(rest, it)
				}
			}
			items = append(exp, rest...)
			applied = append(applied, RuleExperienceFirst)
		}
	}

	if limit := p.Limits.MaxItems; limit > 0 && len(items) > limit {
		items = items[:limit]
		applied = append(applied, fmt.Sprintf("%s:%d", RuleLimitApplied, limit))
	}
	return items, applied
}

func strictCategory(items []Item, category string) []Item {
	var out []Item
	for _, it := range items {
		switch {
		case it.Category() == category:
			out = append(out, it)
		case it.Type != "technology" && it.Type != "technology_usage":
			if strings.Contains(strings.ToLower(it.Text), category) {
				out = append(out, it)
			}
		}
	}
	return out
}

func boostCategory(items []Item, category string) []Item {
	matching := make([]Item, 0, len(items))
	var other []Item
	for _, it := range items {
		if it.Category() == category {
			matching = append(matching, it)
		} else {
			other = append(other, it)
		}
	}
	return append(matching, other...)
}

func filterTypes(items []Item, types ...string) []Item {
	var out []Item
	for _, it := range items {
		for _, t := range types {
			if it.Type == t {
				out = append(out, it)
				break
			}
		}
	}
	return out
}
