// Package export decodes the portfolio snapshot produced by the content
// service. Decoding is tolerant: unknown fields are ignored and ids may be
// numbers or strings.
package export

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ID accepts JSON numbers and strings and stores them as text.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("export id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("export date: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("export date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// String returns the ISO day or "" for a zero date.
func (d *Date) String() string {
	if d == nil || d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

type Profile struct {
	ID              ID     `json:"id"`
	FullName        string `json:"full_name"`
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle"`
	SummaryMD       string `json:"summary_md"`
	HeroHeadline    string `json:"hero_headline"`
	HeroDescription string `json:"hero_description"`
	CurrentPosition string `json:"current_position"`
}

type ExperienceProject struct {
	ID             ID     `json:"id"`
	ExperienceID   ID     `json:"experience_id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Period         string `json:"period"`
	DescriptionMD  string `json:"description_md"`
	AchievementsMD string `json:"achievements_md"`
	OrderIndex     int    `json:"order_index"`
}

type Experience struct {
	ID               ID                  `json:"id"`
	Role             string              `json:"role"`
	CompanyName      string              `json:"company_name"`
	CompanySlug      string              `json:"company_slug"`
	CompanyURL       string              `json:"company_url"`
	CompanySummaryMD string              `json:"company_summary_md"`
	CompanyRoleMD    string              `json:"company_role_md"`
	StartDate        *Date               `json:"start_date"`
	EndDate          *Date               `json:"end_date"`
	IsCurrent        bool                `json:"is_current"`
	Kind             string              `json:"kind"`
	SummaryMD        string              `json:"summary_md"`
	AchievementsMD   string              `json:"achievements_md"`
	OrderIndex       int                 `json:"order_index"`
	Projects         []ExperienceProject `json:"projects"`
}

type Project struct {
	ID                ID       `json:"id"`
	Name              string   `json:"name"`
	Slug              string   `json:"slug"`
	Featured          bool     `json:"featured"`
	Domain            string   `json:"domain"`
	RepoURL           string   `json:"repo_url"`
	DemoURL           string   `json:"demo_url"`
	DescriptionMD     string   `json:"description_md"`
	LongDescriptionMD string   `json:"long_description_md"`
	Period            string   `json:"period"`
	CompanyName       string   `json:"company_name"`
	CompanyWebsite    string   `json:"company_website"`
	Technologies      []string `json:"technologies"`
	OrderIndex        int      `json:"order_index"`
}

type Technology struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Category   string `json:"category"`
	OrderIndex int    `json:"order_index"`
}

type Publication struct {
	ID            ID     `json:"id"`
	Title         string `json:"title"`
	Year          int    `json:"year"`
	Source        string `json:"source"`
	URL           string `json:"url"`
	Badge         string `json:"badge"`
	DescriptionMD string `json:"description_md"`
}

type Bullet struct {
	ID   ID     `json:"id"`
	Text string `json:"text"`
}

type FocusArea struct {
	ID        ID       `json:"id"`
	Title     string   `json:"title"`
	IsPrimary bool     `json:"is_primary"`
	Bullets   []Bullet `json:"bullets"`
}

type WorkApproach struct {
	ID      ID       `json:"id"`
	Title   string   `json:"title"`
	Icon    string   `json:"icon"`
	Bullets []Bullet `json:"bullets"`
}

type Tag struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type TechFocus struct {
	ID          ID     `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Tags        []Tag  `json:"tags"`
}

type Stat struct {
	ID        ID     `json:"id"`
	Key       string `json:"key"`
	Label     string `json:"label"`
	Value     string `json:"value"`
	Hint      string `json:"hint"`
	GroupName string `json:"group_name"`
}

type Contact struct {
	ID        ID     `json:"id"`
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	Value     string `json:"value"`
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
}

// Payload is a full portfolio snapshot.
type Payload struct {
	Profile        *Profile       `json:"profile"`
	Experiences    []Experience   `json:"experiences"`
	Projects       []Project      `json:"projects"`
	Technologies   []Technology   `json:"technologies"`
	Publications   []Publication  `json:"publications"`
	FocusAreas     []FocusArea    `json:"focus_areas"`
	WorkApproaches []WorkApproach `json:"work_approaches"`
	TechFocus      []TechFocus    `json:"tech_focus"`
	Stats          []Stat         `json:"stats"`
	Contacts       []Contact      `json:"contacts"`
}

// Decode reads a snapshot from r.
func Decode(r io.Reader) (*Payload, error) {
	var p Payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode export: %w", err)
	}
	return &p, nil
}

// Parse decodes a snapshot held in memory.
func Parse(data []byte) (*Payload, error) {
	return Decode(bytes.NewReader(data))
}

// Hash returns a content hash of the canonical JSON encoding of p. Equal
// snapshots hash equally, which lets rebuilds of the same export collapse.
func (p *Payload) Hash() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Counts summarizes the snapshot by section.
func (p *Payload) Counts() map[string]int {
	expProjects := 0
	for _, e := range p.Experiences {
		expProjects += len(e.Projects)
	}
	profile := 0
	if p.Profile != nil {
		profile = 1
	}
	return map[string]int{
		"profile":             profile,
		"experiences":         len(p.Experiences),
		"experience_projects": expProjects,
		"projects":            len(p.Projects),
		"technologies":        len(p.Technologies),
		"publications":        len(p.Publications),
		"focus_areas":         len(p.FocusAreas),
		"work_approaches":     len(p.WorkApproaches),
		"tech_focus":          len(p.TechFocus),
		"stats":               len(p.Stats),
		"contacts":            len(p.Contacts),
	}
}

// Itoa is a helper for building ids in tests and fixtures.
func Itoa(n int) ID { return ID(strconv.Itoa(n)) }
