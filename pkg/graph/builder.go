package graph

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

// BuildOptions tunes graph construction.
type BuildOptions struct {
	// PersonSlug is the slug of the portfolio owner node. Defaults to "person".
	PersonSlug string
}

var (
	bulletRe    = regexp.MustCompile(`^[-*•]\s*`)
	numberingRe = regexp.MustCompile(`^\d+\.\s*`)
)

// ExtractAchievements splits a markdown achievements block into single
// achievements. Bullet and numbering markers are removed and lines of ten
// characters or fewer are dropped.
func ExtractAchievements(md string) []string {
	md = strings.TrimSpace(md)
	if md == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		line = strings.TrimSpace(numberingRe.ReplaceAllString(line, ""))
		if len([]rune(line)) > 10 {
			out = append(out, line)
		}
	}
	return out
}

// Build derives the knowledge graph and entity registry from a snapshot.
// Nodes are created in export order: person, technologies, companies with
// their projects and achievements, standalone projects, contacts.
func Build(p *export.Payload, r *rules.Rules, opts BuildOptions) (*Store, *Registry) {
	if r == nil {
		r = rules.Default()
	}
	personSlug := opts.PersonSlug
	if personSlug == "" {
		personSlug = "person"
	}

	store := NewStore()
	reg := NewRegistry()
	if p == nil {
		return store, reg
	}

	personID := ""
	link := func(target string, t EdgeType, data map[string]any) {
		if personID != "" {
			store.AddEdge(Edge{Source: personID, Target: target, Type: t, Data: data})
		}
	}

	if prof := p.Profile; prof != nil {
		personID = NodeID(NodePerson, prof.ID)
		store.AddNode(Node{
			ID:   personID,
			Type: NodePerson,
			Name: prof.FullName,
			Slug: personSlug,
			Data: map[string]any{
				"title":            prof.Title,
				"subtitle":         prof.Subtitle,
				"current_position": prof.CurrentPosition,
				"hero_headline":    prof.HeroHeadline,
				"hero_description": prof.HeroDescription,
				"summary_md":       prof.SummaryMD,
			},
		})
		aliases := append([]string{prof.Title}, r.Graph.PersonAliases...)
		if first := strings.Fields(prof.FullName); len(first) > 0 {
			aliases = append(aliases, first[0])
		}
		reg.Register(KindPerson, personSlug, prof.FullName, aliases...)
	}

	techByName := make(map[string]string, len(p.Technologies))
	for _, t := range p.Technologies {
		id := NodeID(NodeTechnology, t.ID)
		techByName[strings.ToLower(t.Name)] = id
		store.AddNode(Node{
			ID:   id,
			Type: NodeTechnology,
			Name: t.Name,
			Slug: t.Slug,
			Data: map[string]any{"category": t.Category},
		})
		reg.Register(KindTechnology, t.Slug, t.Name, GenerateAliases(t.Name)...)
		link(id, EdgeKnows, nil)
	}

	for _, exp := range p.Experiences {
		companyID := NodeID(NodeCompany, exp.ID)
		companyName := exp.CompanyName
		if companyName == "" {
			companyName = exp.Role
		}
		store.AddNode(Node{
			ID:   companyID,
			Type: NodeCompany,
			Name: companyName,
			Slug: exp.CompanySlug,
			Data: map[string]any{
				"role":               exp.Role,
				"start_date":         exp.StartDate.String(),
				"end_date":           exp.EndDate.String(),
				"is_current":         exp.IsCurrent,
				"kind":               exp.Kind,
				"company_url":        exp.CompanyURL,
				"company_summary_md": exp.CompanySummaryMD,
				"company_role_md":    exp.CompanyRoleMD,
			},
		})
		aliases := append([]string{exp.Role}, GenerateAliases(companyName)...)
		if stripped := StripLegalForm(companyName, r.Graph.LegalForms); stripped != "" {
			aliases = append(aliases, stripped)
			aliases = append(aliases, GenerateAliases(stripped)...)
		}
		reg.Register(KindCompany, exp.CompanySlug, companyName, aliases...)

		edge := EdgeWorkedAt
		if exp.IsCurrent {
			edge = EdgeWorksAt
		}
		link(companyID, edge, map[string]any{"role": exp.Role, "is_current": exp.IsCurrent})

		for _, proj := range exp.Projects {
			projectSlug := proj.Slug
			if projectSlug == "" {
				projectSlug = "exp-" + proj.ID.String()
			}
			projectID := NodeID(NodeProject, "exp:"+proj.ID.String())
			store.AddNode(Node{
				ID:   projectID,
				Type: NodeProject,
				Name: proj.Name,
				Slug: projectSlug,
				Data: map[string]any{
					"period":          proj.Period,
					"description_md":  proj.DescriptionMD,
					"achievements_md": proj.AchievementsMD,
					"experience_id":   exp.ID.String(),
					"company_slug":    exp.CompanySlug,
					"company_name":    companyName,
				},
			})
			reg.Register(KindProject, projectSlug, proj.Name, GenerateAliases(proj.Name)...)
			link(projectID, EdgeCreated, nil)
			store.AddEdge(Edge{Source: projectID, Target: companyID, Type: EdgeBelongsTo})

			for idx, text := range ExtractAchievements(proj.AchievementsMD) {
				ref := proj.ID.String() + ":" + strconv.Itoa(idx)
				achID := NodeID(NodeAchievement, ref)
				store.AddNode(Node{
					ID:   achID,
					Type: NodeAchievement,
					Name: truncateRunes(text, 100),
					Slug: "ach-" + proj.ID.String() + "-" + strconv.Itoa(idx),
					Data: map[string]any{
						"text":         text,
						"project_slug": projectSlug,
						"project_name": proj.Name,
						"company_slug": exp.CompanySlug,
						"company_name": companyName,
					},
				})
				link(achID, EdgeAchieved, nil)
				store.AddEdge(Edge{Source: achID, Target: projectID, Type: EdgeBelongsTo})
			}
		}
	}

	for _, proj := range p.Projects {
		projectID := NodeID(NodeProject, proj.ID)
		techs := append([]string(nil), proj.Technologies...)
		store.AddNode(Node{
			ID:   projectID,
			Type: NodeProject,
			Name: proj.Name,
			Slug: proj.Slug,
			Data: map[string]any{
				"domain":              proj.Domain,
				"period":              proj.Period,
				"description_md":      proj.DescriptionMD,
				"long_description_md": proj.LongDescriptionMD,
				"repo_url":            proj.RepoURL,
				"demo_url":            proj.DemoURL,
				"featured":            proj.Featured,
				"company_name":        proj.CompanyName,
				"technologies":        techs,
			},
		})
		reg.Register(KindProject, proj.Slug, proj.Name, GenerateAliases(proj.Name)...)
		link(projectID, EdgeCreated, nil)
		for _, name := range proj.Technologies {
			if techID, ok := techByName[strings.ToLower(name)]; ok {
				store.AddEdge(Edge{Source: projectID, Target: techID, Type: EdgeUses})
			}
		}
	}

	for _, c := range p.Contacts {
		id := NodeID(NodeContact, c.ID)
		store.AddNode(Node{
			ID:   id,
			Type: NodeContact,
			Name: c.Label,
			Slug: c.Kind,
			Data: map[string]any{
				"kind":       c.Kind,
				"value":      c.Value,
				"url":        c.URL,
				"is_primary": c.IsPrimary,
			},
		})
		link(id, EdgeHasContact, nil)
	}

	return store, reg
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
