package indexing

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChars is the chunk size used by Normalize.
const DefaultMaxChars = 1800

var blankLineRe = regexp.MustCompile(`\n\s*\n`)

// SplitText cuts text into chunks of at most maxChars runes. Paragraphs
// are kept whole when they fit; longer ones are split into lines, then
// sentences and, as a last resort, at rune boundaries. Chunks are packed
// greedily and never empty.
func SplitText(text string, maxChars int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var units []unit
	for _, para := range blankLineRe.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= maxChars {
			units = append(units, unit{text: para, sep: "\n\n"})
			continue
		}
		sep := "\n\n"
		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if utf8.RuneCountInString(line) <= maxChars {
				units = append(units, unit{text: line, sep: sep})
				sep = "\n"
				continue
			}
			for _, s := range splitSentences(line) {
				for i, part := range hardSplit(s, maxChars) {
					if i > 0 {
						sep = ""
					}
					units = append(units, unit{text: part, sep: sep})
					sep = " "
				}
			}
			sep = "\n"
		}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		size = 0
	}
	for _, u := range units {
		n := utf8.RuneCountInString(u.text)
		if size > 0 && size+len(u.sep)+n > maxChars {
			flush()
		}
		if size > 0 {
			current.WriteString(u.sep)
			size += len(u.sep)
		}
		current.WriteString(u.text)
		size += n
	}
	flush()
	return chunks
}

// unit is a piece of text and the separator that joins it to the piece
// before it.
type unit struct {
	text string
	sep  string
}

// splitSentences breaks a line after terminal punctuation followed by a
// space. Dots after digits ("1. ", "v2. ") do not end a sentence.
func splitSentences(line string) []string {
	var (
		out     []string
		current strings.Builder
	)
	runes := []rune(line)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] != ' ' {
			continue
		}
		if r == '.' && i > 0 && unicode.IsDigit(runes[i-1]) {
			continue
		}
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func hardSplit(s string, maxChars int) []string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(runes); start += maxChars {
		end := min(start+maxChars, len(runes))
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
	}
	return out
}
