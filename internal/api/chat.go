package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jerryz/poems/internal/chat"
)

func (s *Server) chatSession(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	id, ok := poemID(w, r)
	if !ok {
		return nil, false
	}
	sess, err := s.sessions.Chat(id)
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return sess, true
}

// handleChatState serves GET /api/poems/{id}/chat.
func (s *Server) handleChatState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type messageRequest struct {
	Text string `json:"text"`
}

// handleSendMessage serves POST /api/poems/{id}/chat/messages. It returns
// as soon as the reply starts streaming; follow it on the chat feed.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch err := sess.SendMessage(req.Text); {
	case errors.Is(err, chat.ErrBlankMessage):
		writeError(w, http.StatusBadRequest, "message is blank")
	case errors.Is(err, chat.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session closed")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "send failed")
	default:
		writeJSON(w, http.StatusAccepted, sess.Snapshot())
	}
}

// handleStop serves POST /api/poems/{id}/chat/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}
	sess.StopStreaming()
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteMessage serves DELETE /api/poems/{id}/chat/messages/{msgID}.
// The message's question or answer counterpart is deleted with it.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}
	if !sess.DeleteMessage(chi.URLParam(r, "msgID")) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChatFeed serves GET /api/poems/{id}/chat/ws.
func (s *Server) handleChatFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}
	serveFeed(w, r, s.origins, sess.Subscribe, identity[chat.Snapshot])
}
