// Package grounding checks generated answers against the fact bundle and
// decides whether an answer is accepted, rewritten or refused.
package grounding

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

var log = logger.For("grounding")

type Action string

const (
	ActionAccept  Action = "accept"
	ActionRewrite Action = "rewrite"
	ActionRefuse  Action = "refuse"
)

// speculationConfidence is reported for answers containing speculation
// markers.
const speculationConfidence = 0.4

// Result is the verdict on one answer.
type Result struct {
	Grounded   bool     `json:"grounded"`
	Ungrounded []string `json:"ungrounded_entities,omitempty"`
	Confidence float64  `json:"confidence"`
	Action     Action   `json:"action"`
	// Rewrite is the suggested replacement text for ActionRewrite.
	Rewrite string `json:"suggested_rewrite,omitempty"`
}

var (
	quotedRe   = regexp.MustCompile(`[«"']([\p{L}\p{N}_\s\-\.]+)[»"']`)
	camelRe    = regexp.MustCompile(`\b([A-Z][a-z]+(?:[A-Z][a-z]*)+)\b`)
	withNumRe  = regexp.MustCompile(`\b([A-Za-z]+\d+(?:\.\d+)*)\b`)
	allCapsRe  = regexp.MustCompile(`\b([A-Z]{3,})\b`)
	sentenceRe = regexp.MustCompile(`[.!?]\s+`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

// metadataNames are the fact metadata fields whose values count as known
// entities.
var metadataNames = []string{"name", "technology", "project", "company"}

// Verifier checks answers for entities that do not occur in the facts.
type Verifier struct {
	rules *rules.Rules
}

func NewVerifier(r *rules.Rules) *Verifier {
	if r == nil {
		r = rules.Default()
	}
	return &Verifier{rules: r}
}

// Verify checks answer against bundle.
//
// Speculation markers force a rewrite with the markers removed. Otherwise
// entity-like tokens are extracted and each is looked up in the bundle:
// exact name, containment either way, a shared four letter prefix, and
// finally any occurrence in a fact text. Answers with no ungrounded
// entities are accepted. More than MaxUngrounded ungrounded entities or a
// confidence below RefuseThreshold refuse; anything else is rewritten.
func (v *Verifier) Verify(answer string, bundle facts.Bundle) Result {
	if strings.TrimSpace(answer) == "" {
		return Result{Grounded: true, Confidence: 1, Action: ActionAccept}
	}
	g := v.rules.Grounding

	if markers := v.findSpeculation(answer); len(markers) > 0 {
		log.Info("Speculation markers found", "markers", markers)
		return Result{
			Ungrounded: markers,
			Confidence: speculationConfidence,
			Action:     ActionRewrite,
			Rewrite:    removeSpeculation(answer, markers),
		}
	}

	candidates := v.candidates(answer)
	known := knownEntities(bundle)
	var ungrounded []string
	for _, c := range candidates {
		if !isGrounded(strings.ToLower(c), known, bundle) {
			ungrounded = append(ungrounded, c)
		}
	}
	if len(ungrounded) == 0 {
		return Result{Grounded: true, Confidence: 1, Action: ActionAccept}
	}

	conf := Confidence(len(ungrounded), len(candidates))
	action := ActionRewrite
	if len(ungrounded) > g.MaxUngrounded || conf < g.RefuseThreshold {
		action = ActionRefuse
	}
	log.Info("Ungrounded entities",
		"ungrounded", len(ungrounded),
		"candidates", len(candidates),
		"confidence", conf,
		"action", action,
	)

	res := Result{Ungrounded: ungrounded, Confidence: conf, Action: action}
	if action == ActionRewrite {
		res.Rewrite = v.rewrite(answer, ungrounded)
	}
	return res
}

// Confidence is 1 - ungrounded/total - 0.15*ungrounded, clamped to [0,1].
func Confidence(ungrounded, total int) float64 {
	if total == 0 {
		return 1
	}
	ratio := 1 - float64(ungrounded)/float64(total)
	return max(0, min(1, ratio-0.15*float64(ungrounded)))
}

func (v *Verifier) findSpeculation(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, m := range v.rules.SpeculationMarkers() {
		if containsWord(lower, strings.ToLower(m)) {
			found = append(found, m)
		}
	}
	return found
}

func removeSpeculation(text string, markers []string) string {
	for _, m := range markers {
		re := regexp.MustCompile(`(?i)\s*,?\s*` + regexp.QuoteMeta(m) + `\s*,?\s*`)
		text = re.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(spacesRe.ReplaceAllString(text, " "))
}

// candidates returns entity-like tokens of text in first-seen order:
// quoted names, CamelCase words, words with digits and ALL CAPS words.
// Stopwords are skipped.
func (v *Verifier) candidates(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		if seen[c] || v.rules.IsGroundingStopword(c) {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		if q := strings.TrimSpace(m[1]); utf8.RuneCountInString(q) >= v.rules.Grounding.MinEntityLength {
			add(q)
		}
	}
	for _, re := range []*regexp.Regexp{camelRe, withNumRe, allCapsRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}
	return out
}

func knownEntities(b facts.Bundle) map[string]bool {
	known := b.Entities()
	for _, f := range b.Facts {
		for _, key := range metadataNames {
			if s, ok := f.Metadata[key].(string); ok && s != "" {
				known[strings.ToLower(s)] = true
			}
		}
	}
	delete(known, "")
	return known
}

func isGrounded(c string, known map[string]bool, b facts.Bundle) bool {
	if known[c] {
		return true
	}
	cRunes := []rune(c)
	for k := range known {
		if strings.Contains(k, c) || strings.Contains(c, k) {
			return true
		}
		kRunes := []rune(k)
		if len(cRunes) > 4 && len(kRunes) > 4 && string(cRunes[:4]) == string(kRunes[:4]) {
			return true
		}
	}
	for _, f := range b.Facts {
		if strings.Contains(strings.ToLower(f.Text), c) {
			return true
		}
	}
	return false
}

// rewrite drops every sentence that mentions an ungrounded entity. When
// nothing is left the generic not-found message is returned.
func (v *Verifier) rewrite(text string, ungrounded []string) string {
	var kept []string
	for _, s := range SplitSentences(text) {
		ls := strings.ToLower(s)
		tainted := false
		for _, u := range ungrounded {
			if strings.Contains(ls, strings.ToLower(u)) {
				tainted = true
				break
			}
		}
		if !tainted {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return v.rules.Grounding.NotFoundMessage
	}
	return strings.Join(kept, " ")
}

// SplitSentences splits text after ".", "!" or "?" followed by whitespace.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		out = append(out, text[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// containsWord reports whether word occurs in text delimited by non-word
// runes or the text edges.
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (i == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		from = i + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
