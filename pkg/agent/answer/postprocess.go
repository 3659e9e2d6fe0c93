package answer

import (
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

var (
	multiSpaceRe   = regexp.MustCompile(` {2,}`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// PostProcess strips forbidden phrases and formatting artifacts from a
// model answer and collapses repeated whitespace.
func PostProcess(text string, r *rules.Rules) string {
	if r == nil {
		r = rules.Default()
	}
	for _, re := range r.ForbiddenPhrases() {
		text = re.ReplaceAllString(text, "")
	}
	for _, re := range r.Artifacts() {
		text = re.ReplaceAllString(text, "")
	}
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
