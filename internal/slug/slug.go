// Package slug derives filesystem-safe names from event titles.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FallbackName is used by Filename when a title has no usable characters.
const FallbackName = "event"

var lower = cases.Lower(language.Und)

// Make lowercases text, drops everything that is not a letter, digit,
// whitespace or hyphen, trims surrounding whitespace and collapses runs of
// whitespace and hyphens into a single hyphen.
//
// Lowercasing happens before filtering so that case mappings which expand
// into combining marks are filtered too; this keeps Make idempotent.
// Letters with no lowercase mapping are dropped.
func Make(text string) string {
	text = lower.String(text)

	var kept strings.Builder
	kept.Grow(len(text))
	for _, r := range text {
		if isWord(r) || unicode.IsSpace(r) || r == '-' {
			kept.WriteRune(r)
		}
	}

	trimmed := strings.TrimSpace(kept.String())

	var out strings.Builder
	out.Grow(len(trimmed))
	inRun := false
	for _, r := range trimmed {
		if r == '-' || unicode.IsSpace(r) {
			if !inRun {
				out.WriteByte('-')
				inRun = true
			}
			continue
		}
		inRun = false
		out.WriteRune(r)
	}
	return out.String()
}

// Filename returns "<slug>.ics" for title, or FallbackName+".ics" when the
// slug is empty.
func Filename(title string) string {
	s := Make(title)
	if s == "" {
		s = FallbackName
	}
	return s + ".ics"
}

func isWord(r rune) bool {
	if unicode.IsUpper(r) || unicode.IsTitle(r) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
