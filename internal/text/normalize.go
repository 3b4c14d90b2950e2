// Package text prepares raw text for speech synthesis. The kokoro engine
// handles its own linguistics, so the work here is limited to whitespace and
// punctuation hygiene: typographic artifacts from copied or extracted text
// read badly once synthesized.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Typographic characters replaced with their ASCII forms.
const (
	emDash      = "—"
	enDash      = "–"
	figureDash  = "‒"
	ellipsis    = "…"
	leftDouble  = "“"
	rightDouble = "”"
	leftSingle  = "‘"
	rightSingle = "’"
)

const whitespacePattern = `\s+`

// Normalizer cleans text before it is handed to the synthesis engine.
type Normalizer struct {
	whitespace  *regexp.Regexp
	typographic *strings.Replacer
}

// NewNormalizer compiles the normalization patterns once for reuse.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespace: regexp.MustCompile(whitespacePattern),
		typographic: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsis, "...",
			leftDouble, `"`,
			rightDouble, `"`,
			leftSingle, "'",
			rightSingle, "'",
		),
	}
}

// Normalize collapses whitespace runs to single spaces, collapses runs of
// repeated punctuation to one mark, replaces typographic quotes and dashes
// with their ASCII forms, and appends a period when the text does not end in
// punctuation. Input with no content normalizes to the empty string.
func (n *Normalizer) Normalize(input string) string {
	if input == "" {
		return ""
	}

	out := n.whitespace.ReplaceAllString(input, " ")
	out = collapseRepeatedPunctuation(out)
	out = n.typographic.Replace(out)

	return ensureSentenceEnding(out)
}

// collapseRepeatedPunctuation keeps the first mark of every run of identical
// punctuation. Mixed sequences like a period before a closing quote are left
// alone.
func collapseRepeatedPunctuation(input string) string {
	var (
		result   []rune
		lastChar rune
	)

	for _, char := range input {
		if unicode.IsPunct(char) && char == lastChar {
			continue
		}

		result = append(result, char)
		lastChar = char
	}

	return string(result)
}

// ensureSentenceEnding trims the text and appends a period when the last
// rune is not already punctuation.
func ensureSentenceEnding(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)
	if !unicode.IsPunct(lastChar) {
		return trimmed + "."
	}

	return trimmed
}
