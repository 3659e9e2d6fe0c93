// Package rag defines the retrievable document model shared by the
// indexing, retrieval and ranking packages.
package rag

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is one indexed text chunk. ID is the storage id; when empty the
// id is derived from metadata by DocID.
type Document struct {
	ID       string   `json:"id,omitempty"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// ScoredDoc pairs a document with a ranking score. Slices of ScoredDoc are
// ordered by descending score unless a function says otherwise.
type ScoredDoc struct {
	Doc   Document
	Score float64
}

// Metadata carries the known per-type document fields. Anything else the
// producer attached is kept in Extra and survives a JSON round trip.
type Metadata struct {
	Type        string
	RefID       string
	DocID       string
	ParentID    string
	Part        int
	Slug        string
	Name        string
	Title       string
	Label       string
	Category    string
	ProjectID   string
	ProjectIDs  []string
	ProjectSlug string
	ProjectName string
	CompanySlug string
	CompanyName string
	Kind        string
	URL         string
	RepoURL     string
	DemoURL     string
	ContentHash string

	Technologies []string
	Tags         []string
	ProjectNames []string

	// Expanded marks documents pulled in by project expansion.
	Expanded bool

	Extra map[string]any
}

// DocID returns the stable id of d: the explicit id, then metadata doc_id,
// then "type:ref" without doubling an existing prefix, then the bare ref.
func DocID(d Document) string {
	if id := strings.TrimSpace(d.ID); id != "" {
		return id
	}
	return d.Metadata.ID()
}

// ID derives a document id from metadata alone.
func (m Metadata) ID() string {
	if id := strings.TrimSpace(m.DocID); id != "" {
		return id
	}
	ref := m.RefID
	if ref == "" {
		return ""
	}
	if m.Type != "" {
		if strings.HasPrefix(ref, m.Type+":") {
			return ref
		}
		return m.Type + ":" + ref
	}
	return ref
}

// DedupKey identifies the logical section a chunk belongs to: the parent
// id (or the document id) plus the part number.
type DedupKey struct {
	Base string
	Part int
}

// KeyOf returns the dedup key of d.
func KeyOf(d Document) DedupKey {
	base := d.Metadata.ParentID
	if base == "" {
		base = DocID(d)
	}
	return DedupKey{Base: base, Part: d.Metadata.Part}
}

// DisplayTitle returns the first non-empty of name, title and label.
func (m Metadata) DisplayTitle() string {
	for _, v := range []string{m.Name, m.Title, m.Label} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Get returns the value stored under a metadata key, known or extra.
// Missing keys return (nil, false).
func (m Metadata) Get(key string) (any, bool) {
	str := func(s string) (any, bool) { return s, s != "" }
	list := func(l []string) (any, bool) { return l, len(l) > 0 }
	switch key {
	case "type":
		return str(m.Type)
	case "ref_id":
		return str(m.RefID)
	case "doc_id":
		return str(m.DocID)
	case "parent_id":
		return str(m.ParentID)
	case "part":
		return m.Part, m.Part > 0
	case "slug":
		return str(m.Slug)
	case "name":
		return str(m.Name)
	case "title":
		return str(m.Title)
	case "label":
		return str(m.Label)
	case "category":
		return str(m.Category)
	case "project_id":
		return str(m.ProjectID)
	case "project_ids":
		return list(m.ProjectIDs)
	case "project_slug":
		return str(m.ProjectSlug)
	case "project_name":
		return str(m.ProjectName)
	case "company_slug":
		return str(m.CompanySlug)
	case "company_name":
		return str(m.CompanyName)
	case "kind":
		return str(m.Kind)
	case "url":
		return str(m.URL)
	case "repo_url":
		return str(m.RepoURL)
	case "demo_url":
		return str(m.DemoURL)
	case "content_hash":
		return str(m.ContentHash)
	case "technologies":
		return list(m.Technologies)
	case "tags":
		return list(m.Tags)
	case "project_names":
		return list(m.ProjectNames)
	case "expanded":
		return m.Expanded, m.Expanded
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Strings returns the value under key as a list of strings. Scalars become
// one-element lists and comma separated "_csv" variants are split.
func (m Metadata) Strings(key string) []string {
	v, ok := m.Get(key)
	if !ok {
		if csv, ok := m.Extra[key+"_csv"].(string); ok {
			return splitCSV(csv)
		}
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s := strings.TrimSpace(fmt.Sprint(x)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}

// Map flattens the metadata into a JSON-friendly map. List fields are also
// written as "<key>_csv" strings for stores that only filter on scalars.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.Extra)+16)
	for k, v := range m.Extra {
		out[k] = v
	}
	for _, key := range knownKeys {
		if v, ok := m.Get(key); ok {
			out[key] = v
			if l, isList := v.([]string); isList {
				out[key+"_csv"] = strings.Join(l, ",")
			}
		}
	}
	return out
}

var knownKeys = []string{
	"type", "ref_id", "doc_id", "parent_id", "part", "slug", "name", "title",
	"label", "category", "project_id", "project_ids", "project_slug",
	"project_name", "company_slug", "company_name", "kind", "url", "repo_url",
	"demo_url", "content_hash", "technologies", "tags", "project_names",
	"expanded",
}

// MetadataFromMap builds Metadata from a loose map, moving unknown keys to Extra.
func MetadataFromMap(src map[string]any) Metadata {
	var m Metadata
	extra := make(map[string]any)
	for k, v := range src {
		switch k {
		case "type":
			m.Type = scalar(v)
		case "ref_id", "id":
			if m.RefID == "" || k == "ref_id" {
				m.RefID = scalar(v)
			}
		case "doc_id":
			m.DocID = scalar(v)
		case "parent_id":
			m.ParentID = scalar(v)
		case "part":
			m.Part = toInt(v)
		case "slug":
			m.Slug = scalar(v)
		case "name":
			m.Name = scalar(v)
		case "title":
			m.Title = scalar(v)
		case "label":
			m.Label = scalar(v)
		case "category":
			m.Category = scalar(v)
		case "project_id":
			m.ProjectID = scalar(v)
		case "project_ids":
			m.ProjectIDs = toStrings(v)
		case "project_slug":
			m.ProjectSlug = scalar(v)
		case "project_name":
			m.ProjectName = scalar(v)
		case "company_slug":
			m.CompanySlug = scalar(v)
		case "company_name":
			m.CompanyName = scalar(v)
		case "kind":
			m.Kind = scalar(v)
		case "url":
			m.URL = scalar(v)
		case "repo_url":
			m.RepoURL = scalar(v)
		case "demo_url":
			m.DemoURL = scalar(v)
		case "content_hash":
			m.ContentHash = scalar(v)
		case "technologies":
			m.Technologies = toStrings(v)
		case "tags":
			m.Tags = toStrings(v)
		case "project_names":
			m.ProjectNames = toStrings(v)
		case "expanded":
			b, _ := v.(bool)
			m.Expanded = b
		case "technologies_csv", "tags_csv", "project_names_csv", "project_ids_csv":
			// regenerated by Map
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		m.Extra = extra
	}
	return m
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MetadataFromMap(raw)
	return nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s := strings.TrimSpace(scalar(x)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			var arr []any
			if json.Unmarshal([]byte(s), &arr) == nil {
				return toStrings(arr)
			}
		}
		return splitCSV(s)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
