package facts

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
)

// BundleItem is a normalized fact tagged with its technology category.
type BundleItem struct {
	Item
	Category plan.TechCategory `json:"category,omitempty"`
}

// Bundle is the allowlist of names an answer may mention, extracted from
// the normalized facts.
type Bundle struct {
	Facts        []BundleItem `json:"facts"`
	Technologies []string     `json:"technologies"`
	Companies    []string     `json:"companies"`
	Projects     []string     `json:"projects"`
	Roles        []string     `json:"roles"`
	Dates        []string     `json:"dates"`
}

// Entities returns the lowercase names of technologies, companies,
// projects and roles.
func (b *Bundle) Entities() map[string]bool {
	out := make(map[string]bool)
	for _, list := range [][]string{b.Technologies, b.Companies, b.Projects, b.Roles} {
		for _, s := range list {
			out[strings.ToLower(s)] = true
		}
	}
	return out
}

const nameChars = `[А-Яа-яЁёA-Za-z0-9\-_]+`

var (
	quotedRe   = regexp.MustCompile(`"([^"]+)"`)
	companyRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)в компании\s+(` + nameChars + `)`),
		regexp.MustCompile(`(?i)@\s*(` + nameChars + `)`),
		regexp.MustCompile(`(?i)компания\s+(` + nameChars + `)`),
	}
	projectRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)проект[еа]?\s+(` + nameChars + `)`),
		regexp.MustCompile(`(?i)на проекте\s+(` + nameChars + `)`),
	}
)

// nameSet keeps the first spelling of every name and ignores case on
// later additions.
type nameSet struct {
	seen  map[string]bool
	names []string
}

func (s *nameSet) add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	key := strings.ToLower(name)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.names = append(s.names, name)
}

func (s *nameSet) sorted() []string {
	out := append([]string(nil), s.names...)
	sort.Strings(out)
	return out
}

// BuildBundle extracts the allowlist from items. Metadata is read first:
// technology names and lists, company, project, role and date fields.
// Quoted names and "в компании X" / "проект X" phrases in the text are
// added on a best-effort basis.
func BuildBundle(items []Item) Bundle {
	var techs, companies, projects, roles, dates nameSet
	b := Bundle{Facts: make([]BundleItem, 0, len(items))}

	for _, it := range items {
		b.Facts = append(b.Facts, BundleItem{Item: it, Category: categoryOf(it)})

		switch it.Type {
		case "technology", "technology_usage":
			techs.add(firstOf(it, "name", "technology"))
		}
		for _, t := range it.List("technologies") {
			techs.add(t)
		}
		companies.add(firstOf(it, "company_name", "company"))
		switch it.Type {
		case "project", "experience_project", "achievement", "technology_usage":
			projects.add(firstOf(it, "project_name", "project", "name"))
		}
		roles.add(it.Str("role"))
		for _, key := range []string{"start_date", "end_date", "period"} {
			dates.add(it.Str(key))
		}

		extractFromText(it.Text, &techs, &companies, &projects)
	}

	b.Technologies = techs.sorted()
	b.Companies = companies.sorted()
	b.Projects = projects.sorted()
	b.Roles = roles.sorted()
	b.Dates = dates.sorted()
	return b
}

func extractFromText(text string, techs, companies, projects *nameSet) {
	if text == "" {
		return
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		q := m[1]
		if n := utf8.RuneCountInString(q); n <= 2 || n >= 50 {
			continue
		}
		lower := strings.ToLower(q)
		if strings.Contains(lower, "проект") || strings.Contains(lower, "project") {
			projects.add(q)
		} else {
			techs.add(q)
		}
	}
	for _, re := range companyRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			companies.add(m[1])
		}
	}
	for _, re := range projectRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			projects.add(m[1])
		}
	}
}

func firstOf(it Item, keys ...string) string {
	for _, k := range keys {
		if v := it.Str(k); v != "" {
			return v
		}
	}
	return ""
}

func categoryOf(it Item) plan.TechCategory {
	c := plan.TechCategory(it.Category())
	switch {
	case c == "":
		return ""
	case c.Valid():
		return c
	}
	return plan.CategoryOther
}
