package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/store"
)

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an absent or empty one means a placeholder
	// title.
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body", err))
		return
	}

	sess, err := s.opts.Store.GetOrCreate(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Title != "" {
		sess, err = s.opts.Store.SetTitle(r.Context(), sess.SessionKey, body.Title)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeSuccess(w, http.StatusCreated, map[string]string{
		"sessionId": sess.SessionKey,
		"title":     sess.Title,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.opts.Store.ListSummaries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"conversations": summaries,
		"total":         len(summaries),
	})
}

func (s *Server) handleSetTitle(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body", err))
		return
	}

	sess, err := s.opts.Store.SetTitle(r.Context(), sessionID, body.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{
		"sessionId": sess.SessionKey,
		"title":     sess.Title,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	if err := s.opts.Store.Delete(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"message":   "Conversation deleted",
	})
}
