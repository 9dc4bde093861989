package grading

import "github.com/jerryz/poems/internal/textnorm"

// MarkKind tags one rune of the canonical answer in a highlight.
type MarkKind string

const (
	// Punct is whitespace or punctuation, never graded.
	Punct MarkKind = "punct"
	// Match is a content rune the user wrote at the same position.
	Match MarkKind = "match"
	// Mismatch is a content rune the user missed or wrote differently.
	Mismatch MarkKind = "mismatch"
)

// Mark is one rune of the answer with its highlight.
type Mark struct {
	Rune string   `json:"rune"`
	Kind MarkKind `json:"kind"`
}

// Highlight walks answer rune by rune and compares each content rune with the
// content rune at the same position in the normalized input. It is a
// positional diff, so an insertion early in the input marks everything after
// it as Mismatch, the way a miscopied line is marked by hand.
func Highlight(answer, input string) []Mark {
	in := []rune(textnorm.NormalizeForCompare(input))
	marks := make([]Mark, 0, len(answer))
	pos := 0
	for _, r := range answer {
		if !textnorm.IsContent(r) {
			marks = append(marks, Mark{Rune: string(r), Kind: Punct})
			continue
		}
		kind := Mismatch
		if pos < len(in) && in[pos] == r {
			kind = Match
		}
		marks = append(marks, Mark{Rune: string(r), Kind: kind})
		pos++
	}
	return marks
}
