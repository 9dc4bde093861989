// Package textnorm classifies runes in Chinese verse and derives the forms
// used for grading: a punctuation-free comparison key and an answer-shaped
// blank mask.
package textnorm

import (
	"strings"
	"unicode"
)

// Class is the category of a single rune.
type Class int

const (
	// Content is any rune that carries meaning and is graded.
	Content Class = iota
	// Whitespace is any rune for which unicode.IsSpace reports true.
	Whitespace
	// Punctuation covers the Unicode P* categories plus cjkPunct.
	Punctuation
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case Whitespace:
		return "whitespace"
	case Punctuation:
		return "punctuation"
	default:
		return "content"
	}
}

// BlankMarker replaces every content rune in a blank mask.
const BlankMarker = "__"

// cjkPunct lists full-width and ASCII marks that must count as punctuation
// even where the Unicode tables place them elsewhere (for example the
// middle dot and the em dash used as a line break in anthologies).
var cjkPunct = map[rune]struct{}{}

func init() {
	for _, r := range "，。？！；：、（）《》【】“”‘’—…·,.!?;:()<>[]" {
		cjkPunct[r] = struct{}{}
	}
}

// Classify reports the class of r.
func Classify(r rune) Class {
	if unicode.IsSpace(r) {
		return Whitespace
	}
	if unicode.IsPunct(r) {
		return Punctuation
	}
	if _, ok := cjkPunct[r]; ok {
		return Punctuation
	}
	return Content
}

// IsContent reports whether r survives NormalizeForCompare.
func IsContent(r rune) bool { return Classify(r) == Content }

// NormalizeForCompare removes whitespace and punctuation, keeping content
// runes in their original order. It is idempotent.
func NormalizeForCompare(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if IsContent(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BlankMask keeps whitespace and punctuation verbatim and replaces each
// content rune with BlankMarker, so "床前明月光，" becomes "__________，".
func BlankMask(answer string) string {
	var b strings.Builder
	b.Grow(len(answer) * 2)
	for _, r := range answer {
		if IsContent(r) {
			b.WriteString(BlankMarker)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
