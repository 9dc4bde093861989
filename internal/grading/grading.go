// Package grading scores a dictation answer against its canonical line.
//
// Both strings are reduced with [textnorm.NormalizeForCompare] and compared by
// rune-level Levenshtein distance. The verdict is one of three tiers:
//
//  1. [Correct]: the normalized strings are identical.
//  2. [Typos]: the distance is within the tolerance for the answer's length.
//  3. [WholeWrong]: either side is empty, or the distance exceeds tolerance.
//
// The tolerance is max(MinTolerance, len(answer)/Divisor), so long lines
// forgive proportionally more slips while short lines stay strict.
package grading

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/jerryz/poems/internal/textnorm"
)

const (
	defaultMinTolerance = 2
	defaultDivisor      = 2
)

// Result is the outcome of grading one answer. The concrete type is always
// one of [Correct], [Typos] or [WholeWrong].
type Result interface {
	// Verdict returns a stable machine-readable name for the outcome.
	Verdict() string
	isResult()
}

// Correct means the normalized input equals the normalized answer.
type Correct struct{}

// Typos means the input is close enough to count as the right line.
type Typos struct {
	// Total is the rune count of the normalized answer.
	Total int `json:"total"`
	// WrongCount is the edit distance between the normalized strings.
	WrongCount int `json:"wrong_count"`
}

// WholeWrong means the input is empty or too far from the answer.
type WholeWrong struct{}

func (Correct) Verdict() string    { return "correct" }
func (Typos) Verdict() string      { return "typos" }
func (WholeWrong) Verdict() string { return "whole_wrong" }

func (Correct) isResult()    {}
func (Typos) isResult()      {}
func (WholeWrong) isResult() {}

// Policy sets the typo tolerance.
type Policy struct {
	MinTolerance int
	Divisor      int
}

// DefaultPolicy returns the policy {MinTolerance: 2, Divisor: 2}.
func DefaultPolicy() Policy {
	return Policy{MinTolerance: defaultMinTolerance, Divisor: defaultDivisor}
}

// Threshold returns the largest edit distance still graded as [Typos] for a
// normalized answer of n runes.
func (p Policy) Threshold(n int) int {
	div := p.Divisor
	if div <= 0 {
		div = defaultDivisor
	}
	return max(p.MinTolerance, n/div)
}

// Option is a functional option for configuring a [Grader].
type Option func(*Grader)

// WithPolicy replaces the default tolerance policy.
func WithPolicy(p Policy) Option {
	return func(g *Grader) {
		g.policy = p
	}
}

// Grader applies a [Policy]. It is read-only after construction and safe for
// concurrent use.
type Grader struct {
	policy Policy
}

// New returns a Grader using [DefaultPolicy] unless overridden.
func New(opts ...Option) *Grader {
	g := &Grader{policy: DefaultPolicy()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Policy returns the grader's tolerance policy.
func (g *Grader) Policy() Policy { return g.policy }

// Grade compares input against answer.
func (g *Grader) Grade(answer, input string) Result {
	normAnswer := textnorm.NormalizeForCompare(answer)
	normInput := textnorm.NormalizeForCompare(input)
	if normAnswer == "" || normInput == "" {
		return WholeWrong{}
	}
	if normAnswer == normInput {
		return Correct{}
	}

	total := utf8.RuneCountInString(normAnswer)
	dist := matchr.Levenshtein(normAnswer, normInput)
	if dist > g.policy.Threshold(total) {
		return WholeWrong{}
	}
	return Typos{Total: total, WrongCount: dist}
}

// EditDistance is the rune-level Levenshtein distance between a and b.
func EditDistance(a, b string) int {
	return matchr.Levenshtein(a, b)
}
