package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jerryz/poems/internal/dictation"
	"github.com/jerryz/poems/internal/grading"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// questionView is a question as clients see it: the answer and explanation
// stay hidden until the question has been checked.
type questionView struct {
	Index     int         `json:"index"`
	Question  string      `json:"question"`
	Blank     string      `json:"blank"`
	UserInput string      `json:"user_input"`
	Revision  int64       `json:"revision"`
	Result    *resultView `json:"result,omitempty"`
}

type resultView struct {
	Verdict     string         `json:"verdict"`
	Total       int            `json:"total,omitempty"`
	WrongCount  int            `json:"wrong_count,omitempty"`
	Answer      string         `json:"answer"`
	Explanation string         `json:"explanation"`
	Highlight   []grading.Mark `json:"highlight"`
}

type dictationView struct {
	Questions []questionView `json:"questions"`
	Loading   bool           `json:"loading"`
	Error     string         `json:"error,omitempty"`
}

func newResultView(q dictation.Question, res grading.Result) *resultView {
	v := &resultView{
		Verdict:     res.Verdict(),
		Answer:      q.Answer,
		Explanation: q.Explanation,
		Highlight:   grading.Highlight(q.Answer, q.UserInput),
	}
	if t, ok := res.(grading.Typos); ok {
		v.Total, v.WrongCount = t.Total, t.WrongCount
	}
	return v
}

func viewDictation(st dictation.State) dictationView {
	v := dictationView{
		Questions: make([]questionView, len(st.Questions)),
		Loading:   st.Loading,
		Error:     st.Err,
	}
	for i, q := range st.Questions {
		qv := questionView{
			Index:     i,
			Question:  q.Prompt,
			Blank:     q.Mask(),
			UserInput: q.UserInput,
			Revision:  q.Revision,
		}
		if q.Result != nil {
			qv.Result = newResultView(q, q.Result)
		}
		v.Questions[i] = qv
	}
	return v
}

func (s *Server) dictationSession(w http.ResponseWriter, r *http.Request) (*dictation.Session, bool) {
	id, ok := poemID(w, r)
	if !ok {
		return nil, false
	}
	sess, err := s.sessions.Dictation(id)
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return sess, true
}

func questionIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid question index")
		return 0, false
	}
	return i, true
}

// handleDictationState serves GET /api/poems/{id}/dictation.
func (s *Server) handleDictationState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.dictationSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewDictation(sess.Snapshot()))
}

type regenerateRequest struct {
	Count int `json:"count"`
}

// handleRegenerate serves POST /api/poems/{id}/dictation/regenerate. It
// blocks until the new set is ready; the body is optional.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.dictationSession(w, r)
	if !ok {
		return
	}
	req := regenerateRequest{}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Count <= 0 {
		req.Count = s.defaultCount
	}

	err := sess.Regenerate(r.Context(), req.Count)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewDictation(sess.Snapshot()))
	case errors.Is(err, dictation.ErrGenerationInFlight):
		writeError(w, http.StatusConflict, "generation already in progress")
	case llm.IsCancellation(err):
		// Client went away; nothing to write.
	default:
		// The redacted message is in the state.
		writeJSON(w, http.StatusBadGateway, viewDictation(sess.Snapshot()))
	}
}

type inputRequest struct {
	Text string `json:"text"`
}

// handleUpdateInput serves PUT /api/poems/{id}/dictation/questions/{index}/input.
func (s *Server) handleUpdateInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.dictationSession(w, r)
	if !ok {
		return
	}
	i, ok := questionIndex(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if i < 0 || i >= len(sess.Snapshot().Questions) {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	sess.UpdateInput(i, req.Text)
	w.WriteHeader(http.StatusNoContent)
}

// handleCheck serves POST /api/poems/{id}/dictation/questions/{index}/check.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.dictationSession(w, r)
	if !ok {
		return
	}
	i, ok := questionIndex(w, r)
	if !ok {
		return
	}
	res, ok := sess.Check(i)
	if !ok {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	qs := sess.Snapshot().Questions
	if i >= len(qs) {
		// Replaced by a concurrent regenerate.
		writeError(w, http.StatusConflict, "question set changed")
		return
	}
	writeJSON(w, http.StatusOK, newResultView(qs[i], res))
}

// handleDictationFeed serves GET /api/poems/{id}/dictation/ws.
func (s *Server) handleDictationFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.dictationSession(w, r)
	if !ok {
		return
	}
	serveFeed(w, r, s.origins, sess.Subscribe, viewDictation)
}
