package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/promptgate/promptgate/internal/chat"
)

type historyResponse struct {
	SessionID string      `json:"sessionId"`
	Title     string      `json:"title"`
	Messages  []chat.Turn `json:"messages"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	sess, err := s.opts.Store.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	messages := sess.Turns
	if messages == nil {
		messages = []chat.Turn{}
	}
	writeSuccess(w, http.StatusOK, historyResponse{
		SessionID: sess.SessionKey,
		Title:     sess.Title,
		Messages:  messages,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	if err := s.opts.Store.ClearTurns(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"message":   "Conversation history cleared",
	})
}
