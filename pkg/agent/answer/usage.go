package answer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
)

// Usage lists the projects a technology was used in.
type Usage struct {
	Technology string
	Projects   []string
}

var (
	usedInRe   = regexp.MustCompile(`(?i)(?:используется\s+в|used\s+in)\s*:\s*(.+)`)
	blockSepRe = regexp.MustCompile(`\n\s*\n`)
)

type usageSet struct {
	order []string
	byKey map[string]*Usage
	seen  map[string]map[string]bool
}

func newUsageSet() *usageSet {
	return &usageSet{byKey: map[string]*Usage{}, seen: map[string]map[string]bool{}}
}

func (s *usageSet) add(tech string, projects ...string) {
	tech = strings.TrimSpace(tech)
	if tech == "" {
		return
	}
	key := strings.ToLower(tech)
	u, ok := s.byKey[key]
	if !ok {
		u = &Usage{Technology: tech}
		s.byKey[key] = u
		s.seen[key] = map[string]bool{}
		s.order = append(s.order, key)
	}
	for _, p := range projects {
		p = strings.Trim(strings.TrimSpace(p), ".;")
		if p == "" || s.seen[key][strings.ToLower(p)] {
			continue
		}
		s.seen[key][strings.ToLower(p)] = true
		u.Projects = append(u.Projects, p)
	}
}

func (s *usageSet) list() []Usage {
	var out []Usage
	for _, k := range s.order {
		if u := s.byKey[k]; len(u.Projects) > 0 {
			out = append(out, *u)
		}
	}
	return out
}

// TechnologyUsage collects technology to project links from facts and the
// evidence blob. When the question names some of the technologies only
// those are returned.
func TechnologyUsage(question string, items []facts.Item, evidence string) []Usage {
	set := newUsageSet()
	for _, it := range items {
		tech := it.Str("technology")
		if tech == "" && it.Type == "technology" {
			tech = it.Str("name")
		}
		if tech == "" && it.Type == "technology" {
			tech = it.Str("title")
		}
		if project := it.Str("project"); tech != "" && project != "" {
			set.add(tech, project)
		}
		if tech != "" {
			set.add(tech, projectNames(it)...)
		}
		if m := usedInRe.FindStringSubmatch(it.Text); m != nil {
			name := tech
			if name == "" && !usedInRe.MatchString(firstLine(it.Text)) {
				name = firstLine(it.Text)
			}
			set.add(name, splitList(m[1])...)
		}
	}
	for _, block := range blockSepRe.Split(evidence, -1) {
		m := usedInRe.FindStringSubmatch(block)
		if m == nil {
			continue
		}
		title, _, ok := strings.Cut(block, ": ")
		if !ok || usedInRe.MatchString(title+":") {
			continue
		}
		set.add(strings.TrimSpace(title), splitList(m[1])...)
	}

	all := set.list()
	q := strings.ToLower(question)
	var mentioned []Usage
	for _, u := range all {
		if strings.Contains(q, strings.ToLower(u.Technology)) {
			mentioned = append(mentioned, u)
		}
	}
	if len(mentioned) > 0 {
		return mentioned
	}
	return all
}

// UsageAnswer formats usages as one bullet list per technology.
func UsageAnswer(usages []Usage) string {
	var blocks []string
	for _, u := range usages {
		lines := []string{u.Technology + " применялся в проектах:"}
		for _, p := range u.Projects {
			lines = append(lines, "- "+p)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// projectNames reads project_names as a list, a comma separated string or
// a JSON encoded array.
func projectNames(it facts.Item) []string {
	if raw, ok := it.Metadata["project_names"].(string); ok {
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "[") {
			var names []string
			if err := json.Unmarshal([]byte(raw), &names); err == nil {
				return names
			}
		}
	}
	return it.List("project_names")
}

func splitList(s string) []string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
