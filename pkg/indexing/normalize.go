// Package indexing turns a portfolio export into retrievable documents.
package indexing

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
)

// Document types produced by Normalize.
const (
	TypeProfile           = "profile"
	TypeExperience        = "experience"
	TypeExperienceProject = "experience_project"
	TypeProject           = "project"
	TypeTechnology        = "technology"
	TypePublication       = "publication"
	TypeFocusArea         = "focus_area"
	TypeWorkApproach      = "work_approach"
	TypeTechFocus         = "tech_focus"
	TypeStat              = "stat"
	TypeContact           = "contact"
)

// Options tune Normalize.
type Options struct {
	// MaxChars is the chunk size in runes. Zero means DefaultMaxChars.
	MaxChars int
}

// Normalize builds one or more documents per export entity. Sections with
// no text produce no documents. Output order follows the export.
func Normalize(p *export.Payload, opts Options) []rag.Document {
	if p == nil {
		return nil
	}
	n := &normalizer{maxChars: opts.MaxChars}

	if prof := p.Profile; prof != nil {
		n.add(rag.Metadata{
			Type:  TypeProfile,
			RefID: prof.ID.String(),
			Name:  prof.FullName,
			Title: prof.Title,
		}, lines(
			prof.FullName,
			prof.Title,
			prof.Subtitle,
			labeled("Текущая позиция", prof.CurrentPosition),
			prof.HeroHeadline,
			prof.HeroDescription,
			prof.SummaryMD,
		))
	}

	for _, e := range p.Experiences {
		n.add(rag.Metadata{
			Type:        TypeExperience,
			RefID:       e.ID.String(),
			Name:        e.CompanyName,
			Title:       e.Role,
			CompanyName: e.CompanyName,
			CompanySlug: e.CompanySlug,
			Kind:        e.Kind,
			URL:         e.CompanyURL,
		}, lines(
			labeled("Компания", e.CompanyName),
			labeled("Роль", e.Role),
			labeled("Период", period(e)),
			e.CompanySummaryMD,
			e.CompanyRoleMD,
			e.SummaryMD,
			section("Достижения", e.AchievementsMD),
		))
		for _, ep := range e.Projects {
			n.add(rag.Metadata{
				Type:        TypeExperienceProject,
				RefID:       ep.ID.String(),
				Name:        ep.Name,
				Slug:        ep.Slug,
				ProjectID:   ep.ID.String(),
				ProjectSlug: ep.Slug,
				ProjectName: ep.Name,
				CompanyName: e.CompanyName,
				CompanySlug: e.CompanySlug,
			}, lines(
				ep.Name,
				labeled("Компания", e.CompanyName),
				labeled("Период", ep.Period),
				ep.DescriptionMD,
				section("Достижения", ep.AchievementsMD),
			))
		}
	}

	usedIn := technologyUsage(p.Projects)
	for _, proj := range p.Projects {
		n.add(rag.Metadata{
			Type:         TypeProject,
			RefID:        proj.ID.String(),
			Name:         proj.Name,
			Slug:         proj.Slug,
			Category:     proj.Domain,
			ProjectID:    proj.ID.String(),
			ProjectSlug:  proj.Slug,
			ProjectName:  proj.Name,
			CompanyName:  proj.CompanyName,
			RepoURL:      proj.RepoURL,
			DemoURL:      proj.DemoURL,
			Technologies: proj.Technologies,
		}, lines(
			proj.Name,
			proj.DescriptionMD,
			proj.LongDescriptionMD,
			labeled("Технологии", strings.Join(proj.Technologies, ", ")),
			labeled("Период", proj.Period),
			labeled("Компания", proj.CompanyName),
		))
	}

	for _, t := range p.Technologies {
		projects := usedIn[strings.ToLower(t.Name)]
		if len(projects) == 0 && t.Slug != "" {
			projects = usedIn[strings.ToLower(t.Slug)]
		}
		names := make([]string, 0, len(projects))
		ids := make([]string, 0, len(projects))
		for _, proj := range projects {
			names = append(names, proj.Name)
			ids = append(ids, proj.ID.String())
		}
		n.add(rag.Metadata{
			Type:         TypeTechnology,
			RefID:        t.ID.String(),
			Name:         t.Name,
			Slug:         t.Slug,
			Category:     t.Category,
			ProjectIDs:   ids,
			ProjectNames: names,
		}, lines(
			t.Name,
			labeled("Категория", t.Category),
			labeled("Используется в", strings.Join(names, ", ")),
		))
	}

	for _, pub := range p.Publications {
		n.add(PublicationMetadata(pub), lines(
			pub.Title,
			publicationSource(pub),
			pub.DescriptionMD,
		))
	}

	for _, fa := range p.FocusAreas {
		md := rag.Metadata{Type: TypeFocusArea, RefID: fa.ID.String(), Title: fa.Title}
		if fa.IsPrimary {
			md.Extra = map[string]any{"is_primary": true}
		}
		n.add(md, lines(fa.Title, bullets(fa.Bullets)))
	}

	for _, wa := range p.WorkApproaches {
		n.add(rag.Metadata{
			Type:  TypeWorkApproach,
			RefID: wa.ID.String(),
			Title: wa.Title,
		}, lines(wa.Title, bullets(wa.Bullets)))
	}

	for _, tf := range p.TechFocus {
		tags := make([]string, 0, len(tf.Tags))
		for _, tag := range tf.Tags {
			if s := strings.TrimSpace(tag.Name); s != "" {
				tags = append(tags, s)
			}
		}
		n.add(rag.Metadata{
			Type:  TypeTechFocus,
			RefID: tf.ID.String(),
			Label: tf.Label,
			Tags:  tags,
		}, lines(tf.Label, tf.Description, labeled("Теги", strings.Join(tags, ", "))))
	}

	for _, s := range p.Stats {
		md := rag.Metadata{
			Type:  TypeStat,
			RefID: s.ID.String(),
			Label: s.Label,
			Extra: map[string]any{"key": s.Key, "value": s.Value},
		}
		if s.GroupName != "" {
			md.Extra["group_name"] = s.GroupName
		}
		n.add(md, lines(labeled(coalesce(s.Label, s.Key), s.Value), s.Hint))
	}

	for _, c := range p.Contacts {
		md := rag.Metadata{
			Type:  TypeContact,
			RefID: c.ID.String(),
			Label: c.Label,
			Kind:  c.Kind,
			URL:   c.URL,
		}
		if c.IsPrimary {
			md.Extra = map[string]any{"is_primary": true}
		}
		n.add(md, lines(labeled(coalesce(c.Label, c.Kind), c.Value), c.URL))
	}

	return n.docs
}

// PublicationMetadata describes a publication document.
func PublicationMetadata(pub export.Publication) rag.Metadata {
	md := rag.Metadata{
		Type:  TypePublication,
		RefID: pub.ID.String(),
		Title: pub.Title,
		URL:   pub.URL,
	}
	extra := map[string]any{}
	if pub.Year > 0 {
		extra["year"] = pub.Year
	}
	if pub.Source != "" {
		extra["source"] = pub.Source
	}
	if pub.Badge != "" {
		extra["badge"] = pub.Badge
	}
	if len(extra) > 0 {
		md.Extra = extra
	}
	return md
}

// Chunk splits text and returns one document per chunk. A single chunk
// keeps the base id; several chunks get ":cN" suffixes, share ParentID and
// are numbered from 1 in Part.
func Chunk(md rag.Metadata, text string, maxChars int) []rag.Document {
	base := md.ID()
	if base == "" {
		return nil
	}
	chunks := SplitText(text, maxChars)
	if len(chunks) == 0 {
		return nil
	}
	out := make([]rag.Document, 0, len(chunks))
	for i, c := range chunks {
		m := md
		m.DocID = base
		if len(chunks) > 1 {
			m.DocID = fmt.Sprintf("%s:c%d", base, i+1)
			m.ParentID = base
			m.Part = i + 1
		}
		m.ContentHash = ContentHash(c)
		out = append(out, rag.Document{ID: m.DocID, Text: c, Metadata: m})
	}
	return out
}

// ContentHash is the sha1 of text in hex.
func ContentHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

type normalizer struct {
	maxChars int
	docs     []rag.Document
}

func (n *normalizer) add(md rag.Metadata, text string) {
	n.docs = append(n.docs, Chunk(md, text, n.maxChars)...)
}

// technologyUsage maps lower-cased technology names to the projects that
// list them.
func technologyUsage(projects []export.Project) map[string][]export.Project {
	out := make(map[string][]export.Project)
	for _, proj := range projects {
		seen := make(map[string]bool, len(proj.Technologies))
		for _, name := range proj.Technologies {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out[key] = append(out[key], proj)
		}
	}
	return out
}

func period(e export.Experience) string {
	start := e.StartDate.String()
	end := e.EndDate.String()
	if e.IsCurrent {
		end = "по настоящее время"
	}
	switch {
	case start == "" && end == "":
		return ""
	case start == "" && e.IsCurrent:
		return end
	case start == "":
		return "до " + end
	case end == "":
		return "с " + start
	}
	return start + " – " + end
}

func publicationSource(pub export.Publication) string {
	var parts []string
	if pub.Source != "" {
		parts = append(parts, pub.Source)
	}
	if pub.Year > 0 {
		parts = append(parts, fmt.Sprint(pub.Year))
	}
	if pub.Badge != "" {
		parts = append(parts, pub.Badge)
	}
	return strings.Join(parts, ", ")
}

func bullets(items []export.Bullet) string {
	var b strings.Builder
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(text)
	}
	return b.String()
}

func labeled(label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if label == "" {
		return value
	}
	return label + ": " + value
}

// section puts a markdown block under a heading line.
func section(label, md string) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return ""
	}
	return label + ":\n" + md
}

// lines joins the non-empty parts with newlines.
func lines(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
