package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/rag"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
	"github.com/pkoukk/tiktoken-go"
)

// kwBonus is the saturating keyword bonus: 0.10 for the first hit plus
// 0.06 per further hit, capped at 0.20.
func kwBonus(text string, keys []string) float64 {
	if len(keys) == 0 {
		return 0
	}
	tl := strings.ToLower(text)
	hits := 0
	for _, k := range keys {
		if strings.Contains(tl, k) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return min(0.20, 0.10+0.06*float64(hits-1))
}

func metaJoin(md rag.Metadata, keys []string) string {
	var parts []string
	for _, k := range keys {
		parts = append(parts, md.Strings(k)...)
	}
	return strings.Join(parts, " ")
}

// Composite is the evidence ranking score of sd for the given keywords.
func Composite(sd rag.ScoredDoc, keys []string, r *rules.Rules) float64 {
	if r == nil {
		r = rules.Default()
	}
	base := sd.Score * r.TypeWeight(sd.Doc.Metadata.Type)
	bonus := kwBonus(sd.Doc.Text, keys) + 0.5*kwBonus(metaJoin(sd.Doc.Metadata, r.Evidence.MetaKeys), keys)
	return base * (1 + bonus)
}

// SelectEvidence picks the best k documents by composite score, one per
// (parent, part) section, and pads with the next best sections up to minK
// when k falls short. At most max(k, minK) documents are returned. The
// returned docs carry their composite score.
func SelectEvidence(scored []rag.ScoredDoc, query string, k, minK int, r *rules.Rules) []rag.ScoredDoc {
	if len(scored) == 0 || k <= 0 {
		return nil
	}
	if r == nil {
		r = rules.Default()
	}
	keys := rag.Keywords(query, r)

	pool := make([]rag.ScoredDoc, len(scored))
	for i, sd := range scored {
		pool[i] = rag.ScoredDoc{Doc: sd.Doc, Score: Composite(sd, keys, r)}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })

	target := max(k, minK)
	seen := make(map[rag.DedupKey]bool, len(pool))
	out := make([]rag.ScoredDoc, 0, target)
	for _, sd := range pool {
		key := rag.KeyOf(sd.Doc)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sd)
		if len(out) >= target {
			break
		}
	}
	return out
}

// Confidence summarizes the top k evidence scores in [0,1]:
// 0.6*mean + 0.4*max, squashed by a logistic when outside [0,1], scaled
// by min(1, len(evidence)/k).
func Confidence(evidence []rag.ScoredDoc, k int) float64 {
	if len(evidence) == 0 || k <= 0 {
		return 0
	}
	top := evidence[:min(k, len(evidence))]
	sum, best := 0.0, math.Inf(-1)
	for _, sd := range top {
		sum += sd.Score
		best = max(best, sd.Score)
	}
	raw := 0.6*(sum/float64(len(top))) + 0.4*best
	if raw < 0 || raw > 1 {
		raw = 1 / (1 + math.Exp(-raw))
	}
	coverage := min(1, float64(len(evidence))/float64(k))
	return raw * coverage
}

// Source is the client-facing description of one evidence document.
type Source struct {
	ID      string  `json:"id"`
	Type    string  `json:"type,omitempty"`
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	RepoURL string  `json:"repo_url,omitempty"`
	DemoURL string  `json:"demo_url,omitempty"`
	Score   float64 `json:"score"`
}

// BuildSources describes evidence documents for the response.
func BuildSources(evidence []rag.ScoredDoc) []Source {
	out := make([]Source, 0, len(evidence))
	for _, sd := range evidence {
		md := sd.Doc.Metadata
		id := md.RefID
		if id == "" {
			id = rag.DocID(sd.Doc)
		}
		title := md.Name
		if title == "" {
			title = md.Title
		}
		url := md.URL
		if url == "" {
			url = md.RepoURL
		}
		if url == "" {
			url = md.DemoURL
		}
		out = append(out, Source{
			ID:      id,
			Type:    md.Type,
			Title:   title,
			URL:     url,
			Kind:    md.Kind,
			RepoURL: md.RepoURL,
			DemoURL: md.DemoURL,
			Score:   sd.Score,
		})
	}
	return out
}

// TokenCounter returns the token length of a text.
type TokenCounter func(string) int

// ApproxTokens estimates four characters per token.
func ApproxTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}

// Tiktoken returns a counter for the named tiktoken encoding.
func Tiktoken(encoding string) (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// PackContext renders evidence as compact "Title: first two sentences"
// blocks separated by blank lines, stopping before the token budget is
// exceeded. A nil counter falls back to ApproxTokens.
func PackContext(evidence []rag.ScoredDoc, tokenBudget int, count TokenCounter) string {
	if count == nil {
		count = ApproxTokens
	}
	var parts []string
	used := 0
	for _, sd := range evidence {
		sents := rag.Sentences(sd.Doc.Text)
		if len(sents) > 2 {
			sents = sents[:2]
		}
		chunk := strings.TrimSpace(strings.Join(sents, " "))
		if chunk == "" {
			continue
		}
		block := chunk
		if title := sd.Doc.Metadata.DisplayTitle(); title != "" {
			block = title + ": " + chunk
		}
		add := count(block) + 1
		if used+add > tokenBudget {
			break
		}
		parts = append(parts, block)
		used += add
	}
	return strings.Join(parts, "\n\n")
}
