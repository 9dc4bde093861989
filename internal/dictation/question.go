// Package dictation generates recitation questions for a poem and grades the
// user's answers to them.
//
// A [Generator] asks the chat-completion backend for a fresh set of questions
// and parses the loosely structured reply with [ParseQuestions]. A [Session]
// owns one poem's question list: it loads the persisted set, takes the user's
// drafts, grades them on demand and replaces the whole set on regeneration,
// publishing a [State] snapshot after every visible change.
package dictation

import (
	"fmt"

	"github.com/jerryz/poems/internal/grading"
	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/internal/textnorm"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// DefaultCount is the number of questions requested when the caller does not
// say otherwise.
const DefaultCount = 5

var (
	// ErrMalformedResponse is the backend reply not being a question list.
	ErrMalformedResponse = llm.ErrMalformedResponse

	// ErrEmptyResult means the reply parsed but no question survived
	// filtering. It matches ErrMalformedResponse under errors.Is.
	ErrEmptyResult = fmt.Errorf("dictation: no usable questions: %w", ErrMalformedResponse)
)

// Question is one recitation item. Prompt and Answer are never blank once a
// question has been parsed or loaded.
type Question struct {
	Prompt      string `json:"question"`
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`

	// UserInput is the current draft. Not persisted.
	UserInput string `json:"user_input"`

	// Result is nil until the question has been checked. Not persisted.
	Result grading.Result `json:"-"`

	// Revision changes on every check, even when Result compares equal, so
	// observers can tell two identical verdicts apart.
	Revision int64 `json:"revision"`
}

// Mask renders the answer as blanks for display: punctuation and whitespace
// stay, every other character becomes two underscores.
func (q Question) Mask() string {
	return textnorm.BlankMask(q.Answer)
}

// Record returns the persisted form of q.
func (q Question) Record() store.QuestionRecord {
	return store.QuestionRecord{
		Question:    q.Prompt,
		Answer:      q.Answer,
		Explanation: q.Explanation,
	}
}

// FromRecords rebuilds questions from their persisted form, dropping entries
// with a blank prompt or answer.
func FromRecords(recs []store.QuestionRecord) []Question {
	out := make([]Question, 0, len(recs))
	for _, r := range recs {
		q, ok := newQuestion(r.Question, r.Answer, r.Explanation)
		if ok {
			out = append(out, q)
		}
	}
	return out
}

// Records returns the persisted form of qs.
func Records(qs []Question) []store.QuestionRecord {
	out := make([]store.QuestionRecord, len(qs))
	for i, q := range qs {
		out[i] = q.Record()
	}
	return out
}
