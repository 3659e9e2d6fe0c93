package rank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
)

// expandedPenalty scales scores of documents added by project expansion.
const expandedPenalty = 0.8

// Rerank scores docs against query and returns them best first. If the
// scorer fails, the documents keep their retrieval order with decreasing
// synthetic scores and the scorer error is returned next to them.
func Rerank(ctx context.Context, s Scorer, query string, docs []rag.Document) ([]rag.ScoredDoc, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	pairs := make([]Pair, len(docs))
	for i, d := range docs {
		pairs[i] = Pair{Query: query, Text: d.Text}
	}

	var scores []float64
	var scoreErr error
	if s == nil {
		scoreErr = fmt.Errorf("no scorer configured")
	} else {
		scores, scoreErr = s.Predict(ctx, pairs)
	}
	if scoreErr != nil {
		out := make([]rag.ScoredDoc, len(docs))
		for i, d := range docs {
			out[i] = rag.ScoredDoc{Doc: d, Score: adjust(d, 1/float64(i+1))}
		}
		return out, fmt.Errorf("rerank fell back to retrieval order: %w", scoreErr)
	}

	n := min(len(docs), len(scores))
	out := make([]rag.ScoredDoc, n)
	for i := range n {
		out[i] = rag.ScoredDoc{Doc: docs[i], Score: adjust(docs[i], scores[i])}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func adjust(d rag.Document, score float64) float64 {
	if d.Metadata.Expanded {
		return score * expandedPenalty
	}
	return score
}

// Policy controls how matched entities shape the candidate list.
type Policy string

const (
	PolicyNone   Policy = "none"
	PolicyBoost  Policy = "boost"
	PolicyStrict Policy = "strict"
)

// entityKeys are the metadata fields checked against entity slugs and names.
var entityKeys = []string{
	"slug", "project_slug", "company_slug", "name", "title", "ref_id",
	"technologies", "tags", "project_names",
}

// ApplyEntityPolicy reshapes scored docs by entity match.
//
// Strict keeps only matching documents but returns the input unchanged
// when nothing matches. Boost multiplies the score of matching documents
// by 1+min(0.35, 0.18+0.25*strength), strength being the best confidence
// among the entities a document matches, and re-sorts.
func ApplyEntityPolicy(scored []rag.ScoredDoc, entities []graph.EntityMatch, policy Policy) []rag.ScoredDoc {
	if policy == PolicyNone || policy == "" || len(entities) == 0 || len(scored) == 0 {
		return scored
	}
	switch policy {
	case PolicyStrict:
		var kept []rag.ScoredDoc
		for _, sd := range scored {
			if _, ok := MatchStrength(sd.Doc, entities); ok {
				kept = append(kept, sd)
			}
		}
		if len(kept) == 0 {
			return scored
		}
		return kept
	case PolicyBoost:
		out := make([]rag.ScoredDoc, len(scored))
		for i, sd := range scored {
			if strength, ok := MatchStrength(sd.Doc, entities); ok {
				sd.Score *= 1 + min(0.35, 0.18+0.25*strength)
			}
			out[i] = sd
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		return out
	}
	return scored
}

// MatchStrength reports whether d references any entity and, if so, the
// highest confidence among the entities it references.
func MatchStrength(d rag.Document, entities []graph.EntityMatch) (float64, bool) {
	best, found := 0.0, false
	for _, e := range entities {
		if docMatches(d, e) {
			found = true
			best = max(best, e.Confidence)
		}
	}
	return best, found
}

func docMatches(d rag.Document, e graph.EntityMatch) bool {
	tokens := make([]string, 0, 2)
	for _, t := range []string{e.Slug, e.Name} {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return false
	}
	for _, key := range entityKeys {
		for _, v := range d.Metadata.Strings(key) {
			if valueMatches(v, tokens) {
				return true
			}
		}
	}
	return valueMatches(d.Text, tokens)
}

func valueMatches(val string, tokens []string) bool {
	v := strings.ToLower(val)
	if v == "" {
		return false
	}
	for _, t := range tokens {
		if v == t || tokenIn(v, t) {
			return true
		}
	}
	return false
}

// tokenIn reports whether token occurs in text. Short alphanumeric tokens
// must stand alone so that "go" does not match "google".
func tokenIn(text, token string) bool {
	if !isShortAlnum(token) {
		return strings.Contains(text, token)
	}
	for from := 0; from <= len(text)-len(token); {
		i := strings.Index(text[from:], token)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(token)
		if !wordRuneBefore(text, start) && !wordRuneAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func isShortAlnum(s string) bool {
	n := 0
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		n++
	}
	return n > 0 && n <= 3
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r := []rune(s[:i])
	return isWordRune(r[len(r)-1])
}

func wordRuneAfter(s string, i int) bool {
	for _, r := range s[i:] {
		return isWordRune(r)
	}
	return false
}
