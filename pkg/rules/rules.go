// Package rules holds the editable pattern and stopword tables used by
// keyword extraction, evidence scoring, graph queries, grounding and answer
// post-processing.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

//go:embed default.toml
var defaultTOML []byte

type KeywordRules struct {
	Stopwords []string `toml:"stopwords"`
}

type EvidenceRules struct {
	TypeWeights map[string]float64 `toml:"type_weights"`
	MetaKeys    []string           `toml:"meta_keys"`
}

type GraphRules struct {
	KnownLanguages     []string `toml:"known_languages"`
	LanguageCategories []string `toml:"language_categories"`
	LegalForms         []string `toml:"legal_forms"`
	PersonAliases      []string `toml:"person_aliases"`
}

type GroundingRules struct {
	MinEntityLength  int      `toml:"min_entity_length"`
	RewriteThreshold float64  `toml:"rewrite_threshold"`
	RefuseThreshold  float64  `toml:"refuse_threshold"`
	MaxUngrounded    int      `toml:"max_ungrounded"`
	SpeculationRU    []string `toml:"speculation_ru"`
	SpeculationEN    []string `toml:"speculation_en"`
	Stopwords        []string `toml:"stopwords"`
	PersonaNames     []string `toml:"persona_names"`
	NotFoundMessage  string   `toml:"not_found_message"`
}

type AnswerRules struct {
	ForbiddenPhrases []string `toml:"forbidden_phrases"`
	ArtifactPatterns []string `toml:"artifact_patterns"`
	NotFoundMarkers  []string `toml:"not_found_markers"`
}

type RenderRules struct {
	GroupLabels map[string]string `toml:"group_labels"`
}

// Rules is the parsed rule file. Lookups go through the helper methods,
// which lowercase and index the raw tables on first use.
type Rules struct {
	Keywords  KeywordRules   `toml:"keywords"`
	Evidence  EvidenceRules  `toml:"evidence"`
	Graph     GraphRules     `toml:"graph"`
	Grounding GroundingRules `toml:"grounding"`
	Answer    AnswerRules    `toml:"answer"`
	Render    RenderRules    `toml:"render"`

	once       sync.Once
	kwStop     map[string]struct{}
	groundStop map[string]struct{}
	languages  map[string]struct{}
	langCats   map[string]struct{}
	artifacts  []*regexp.Regexp
	forbidden  []*regexp.Regexp
	notFound   []string
}

var (
	defaultOnce  sync.Once
	defaultRules *Rules
)

// Default returns the embedded rule tables. It panics if the embedded file
// is malformed, which only a broken build can cause.
func Default() *Rules {
	defaultOnce.Do(func() {
		r, err := Parse(defaultTOML)
		if err != nil {
			panic(fmt.Sprintf("rules: embedded default.toml: %v", err))
		}
		defaultRules = r
	})
	return defaultRules
}

// Load reads rule tables from path. An empty path yields Default().
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a TOML rule document and compiles its patterns.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rules TOML: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) compile() error {
	var compileErr error
	r.once.Do(func() {
		r.kwStop = toSet(r.Keywords.Stopwords)
		r.groundStop = toSet(append(append([]string{}, r.Grounding.Stopwords...), r.Grounding.PersonaNames...))
		r.languages = toSet(r.Graph.KnownLanguages)
		r.langCats = toSet(r.Graph.LanguageCategories)
		for _, phrase := range r.Answer.ForbiddenPhrases {
			if strings.TrimSpace(phrase) == "" {
				continue
			}
			r.forbidden = append(r.forbidden, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(phrase)))
		}
		for _, m := range r.Answer.NotFoundMarkers {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				r.notFound = append(r.notFound, m)
			}
		}
		for _, p := range r.Answer.ArtifactPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				compileErr = fmt.Errorf("invalid artifact pattern %q: %w", p, err)
				return
			}
			r.artifacts = append(r.artifacts, re)
		}
	})
	return compileErr
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// IsKeywordStopword reports whether w is dropped by keyword extraction.
func (r *Rules) IsKeywordStopword(w string) bool {
	_, ok := r.kwStop[strings.ToLower(w)]
	return ok
}

// IsGroundingStopword reports whether w is never treated as an entity.
func (r *Rules) IsGroundingStopword(w string) bool {
	_, ok := r.groundStop[strings.ToLower(w)]
	return ok
}

// IsKnownLanguage reports whether name is a programming language by name.
func (r *Rules) IsKnownLanguage(name string) bool {
	_, ok := r.languages[strings.ToLower(name)]
	return ok
}

// IsLanguageCategory reports whether a technology category denotes languages.
func (r *Rules) IsLanguageCategory(category string) bool {
	_, ok := r.langCats[strings.ToLower(category)]
	return ok
}

// TypeWeight returns the evidence multiplier for a document type, 1.0 when unknown.
func (r *Rules) TypeWeight(docType string) float64 {
	if w, ok := r.Evidence.TypeWeights[docType]; ok {
		return w
	}
	return 1.0
}

// SpeculationMarkers returns the Russian then English markers.
func (r *Rules) SpeculationMarkers() []string {
	out := make([]string, 0, len(r.Grounding.SpeculationRU)+len(r.Grounding.SpeculationEN))
	out = append(out, r.Grounding.SpeculationRU...)
	return append(out, r.Grounding.SpeculationEN...)
}

// Artifacts returns the compiled answer artifact patterns.
func (r *Rules) Artifacts() []*regexp.Regexp {
	return r.artifacts
}

// ForbiddenPhrases returns the case-insensitive phrase patterns removed
// from model answers.
func (r *Rules) ForbiddenPhrases() []*regexp.Regexp {
	return r.forbidden
}

// IsNotFoundAnswer reports whether a model answer contains one of the
// refusal markers.
func (r *Rules) IsNotFoundAnswer(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range r.notFound {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// GroupLabel returns the human label for a fact type. Unknown types are
// title-cased.
func (r *Rules) GroupLabel(factType string) string {
	if l, ok := r.Render.GroupLabels[factType]; ok {
		return l
	}
	if factType == "" {
		return ""
	}
	runes := []rune(strings.ReplaceAll(factType, "_", " "))
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}
