package rag

import (
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

var wordRe = regexp.MustCompile(`[a-zA-Zа-яА-Я0-9+#\-\.]{2,}`)

// Keywords returns the lowercased content words of q in order of
// appearance, with the rule table stopwords removed.
func Keywords(q string, r *rules.Rules) []string {
	if r == nil {
		r = rules.Default()
	}
	words := wordRe.FindAllString(q, -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if r.IsKeywordStopword(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// Sentences splits text after terminal punctuation, dropping blanks.
func Sentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceSplit.FindAllStringIndex(text, -1) {
		// keep the punctuation with the sentence it ends
		if s := strings.TrimSpace(text[last : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}
