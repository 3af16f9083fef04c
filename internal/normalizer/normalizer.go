// Package normalizer cleans raw extracted document text before chunking.
package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	hyphenBreakRe = regexp.MustCompile(`(\p{L})-\n[ \t]*(\p{Ll})`)
	paragraphRe   = regexp.MustCompile(`\n[ \t]*\n\s*`)
	spaceRunRe    = regexp.MustCompile(`[ \t\n]+`)
)

// Normalize applies NFKC, drops control and replacement characters, joins words
// hyphenated across lines and collapses whitespace. Paragraph breaks survive as "\n\n".
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(cleanRune, text)
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")

	paragraphs := paragraphRe.Split(text, -1)
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(spaceRunRe.ReplaceAllString(p, " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func cleanRune(r rune) rune {
	switch {
	case r == '\n' || r == '\t' || r == ' ':
		return r
	case r == unicode.ReplacementChar, r == '\u00ad', r == '\ufeff', r == '\u200b':
		return -1
	case unicode.IsSpace(r):
		return ' '
	case unicode.IsControl(r):
		return -1
	}
	return r
}
