package graph

import (
	"regexp"
	"strings"
)

// EntityKind is the registry-level entity classification.
type EntityKind string

const (
	KindProject    EntityKind = "project"
	KindCompany    EntityKind = "company"
	KindTechnology EntityKind = "technology"
	KindPerson     EntityKind = "person"
)

// ParseKind maps a loose kind string onto a known kind.
func ParseKind(s string) (EntityKind, bool) {
	switch EntityKind(lower(s)) {
	case KindProject:
		return KindProject, true
	case KindCompany:
		return KindCompany, true
	case KindTechnology:
		return KindTechnology, true
	case KindPerson:
		return KindPerson, true
	}
	return "", false
}

// EntityMatch is a registry hit. Confidence is 1.0 for exact alias hits
// and 0.7 for containment hits.
type EntityMatch struct {
	Kind         EntityKind `json:"type"`
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	MatchedAlias string     `json:"matched_alias,omitempty"`
	// Aliases are the lowercase keys that resolve to this entity.
	Aliases    []string `json:"aliases,omitempty"`
	Confidence float64  `json:"confidence"`
}

// CanonicalID returns "<kind>:<slug>".
func (m EntityMatch) CanonicalID() string {
	return CanonicalID(m.Kind, m.Slug)
}

// CanonicalID returns "<kind>:<slug>".
func CanonicalID(kind EntityKind, slug string) string {
	return string(kind) + ":" + slug
}

type entityRef struct {
	kind    EntityKind
	slug    string
	name    string
	aliases []string
}

func (e *entityRef) match(alias string, confidence float64) EntityMatch {
	return EntityMatch{
		Kind:         e.kind,
		Slug:         e.slug,
		Name:         e.name,
		MatchedAlias: alias,
		Aliases:      append([]string(nil), e.aliases...),
		Confidence:   confidence,
	}
}

// Registry maps lowercase aliases onto canonical entities. Aliases keep
// their first registration; containment lookups scan in registration order.
type Registry struct {
	aliases  map[string]*entityRef
	entities map[string]*entityRef
	order    []string
	byKind   map[EntityKind][]string
}

func NewRegistry() *Registry {
	return &Registry{
		aliases:  make(map[string]*entityRef),
		entities: make(map[string]*entityRef),
		byKind:   make(map[EntityKind][]string),
	}
}

// Register adds an entity under its slug, its name and any extra aliases.
// Registering the same kind and slug again adds aliases to the entity.
func (r *Registry) Register(kind EntityKind, slug, name string, aliases ...string) {
	id := CanonicalID(kind, slug)
	ref, ok := r.entities[id]
	if !ok {
		ref = &entityRef{kind: kind, slug: slug, name: name}
		r.entities[id] = ref
		r.byKind[kind] = append(r.byKind[kind], slug)
	}
	keys := append([]string{slug, name}, aliases...)
	for _, k := range keys {
		k = lower(k)
		if k == "" {
			continue
		}
		if _, taken := r.aliases[k]; taken {
			continue
		}
		r.aliases[k] = ref
		ref.aliases = append(ref.aliases, k)
		r.order = append(r.order, k)
	}
}

// FindEntity resolves text to an entity: an exact alias first, then the
// first alias that contains text or is contained in it, both sides being
// at least three characters long.
func (r *Registry) FindEntity(text string) (EntityMatch, bool) {
	key := lower(text)
	if key == "" {
		return EntityMatch{}, false
	}
	if ref, ok := r.aliases[key]; ok {
		return ref.match(key, 1.0), true
	}
	if len([]rune(key)) < 3 {
		return EntityMatch{}, false
	}
	for _, alias := range r.order {
		if len([]rune(alias)) < 3 {
			continue
		}
		if strings.Contains(alias, key) || strings.Contains(key, alias) {
			return r.aliases[alias].match(alias, 0.7), true
		}
	}
	return EntityMatch{}, false
}

var questionWordRe = regexp.MustCompile(`[a-zA-Zа-яА-ЯёЁ0-9\-\.]+`)

// ExtractEntities finds entities mentioned in a question by checking each
// word and each adjacent word pair. Results are unique by kind and slug.
func (r *Registry) ExtractEntities(question string) []EntityMatch {
	words := questionWordRe.FindAllString(strings.ToLower(question), -1)
	seen := make(map[string]bool)
	var found []EntityMatch
	add := func(text string) {
		m, ok := r.FindEntity(text)
		if !ok || seen[m.CanonicalID()] {
			return
		}
		seen[m.CanonicalID()] = true
		found = append(found, m)
	}
	for _, w := range words {
		if len([]rune(w)) < 2 {
			continue
		}
		add(w)
	}
	for i := 0; i+1 < len(words); i++ {
		add(words[i] + " " + words[i+1])
	}
	return found
}

// Resolve normalizes an arbitrary id or name produced by a planner into a
// registered entity. "kind:slug" ids must resolve to an entity of the same
// kind; bare text resolves to whatever FindEntity or ExtractEntities hits.
func (r *Registry) Resolve(id string) (EntityMatch, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return EntityMatch{}, false
	}
	if kindPart, slug, ok := strings.Cut(id, ":"); ok {
		if kind, known := ParseKind(kindPart); known {
			for _, cand := range []string{slug, normalizeKey(slug)} {
				if m, ok := r.FindEntity(cand); ok && m.Kind == kind {
					return m, true
				}
			}
			return EntityMatch{}, false
		}
	}
	for _, cand := range []string{id, normalizeKey(id)} {
		if m, ok := r.FindEntity(cand); ok {
			return m, true
		}
	}
	if ms := r.ExtractEntities(id); len(ms) > 0 {
		return ms[0], true
	}
	return EntityMatch{}, false
}

// ListByKind returns registered slugs of kind in registration order.
func (r *Registry) ListByKind(kind EntityKind) []string {
	return append([]string(nil), r.byKind[kind]...)
}

// Stats counts registered entities per kind.
func (r *Registry) Stats() map[EntityKind]int {
	out := map[EntityKind]int{KindProject: 0, KindCompany: 0, KindTechnology: 0, KindPerson: 0}
	for k, slugs := range r.byKind {
		out[k] = len(slugs)
	}
	return out
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeKey(s string) string {
	s = strings.NewReplacer("«", "", "»", "", "„", "", "“", "", "”", "").Replace(lower(s))
	return spaceRe.ReplaceAllString(s, " ")
}

// GenerateAliases derives lookup variants of a name: without spaces and
// hyphens, spaces as hyphens, hyphens as spaces, and the first word of a
// multi-word name. The lowercase name itself is excluded.
func GenerateAliases(name string) []string {
	nameLower := strings.ToLower(name)
	cands := []string{
		strings.NewReplacer(" ", "", "-", "").Replace(nameLower),
		strings.ReplaceAll(nameLower, " ", "-"),
		strings.ReplaceAll(nameLower, "-", " "),
	}
	if words := strings.Fields(name); len(words) > 1 {
		cands = append(cands, strings.ToLower(words[0]))
	}
	seen := make(map[string]bool)
	var out []string
	for _, a := range cands {
		if a == "" || a == nameLower || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// StripLegalForm removes legal-form tokens (ООО, LLC, GmbH, ...) and
// surrounding quotes from a company name. It returns "" when nothing
// changed or nothing would remain.
func StripLegalForm(name string, forms []string) string {
	if len(forms) == 0 {
		return ""
	}
	drop := make(map[string]bool, len(forms))
	for _, f := range forms {
		drop[strings.ToLower(strings.Trim(f, "."))] = true
	}
	var kept []string
	for _, tok := range strings.Fields(name) {
		bare := strings.Trim(tok, ".,")
		if drop[strings.ToLower(bare)] {
			continue
		}
		kept = append(kept, tok)
	}
	out := strings.Trim(strings.Join(kept, " "), ` "'«»„“”,`)
	out = strings.TrimSpace(out)
	if out == "" || out == strings.TrimSpace(name) {
		return ""
	}
	return out
}
