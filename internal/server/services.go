package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/tools"
)

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	services := s.opts.Registry.List(enabledOnly)
	enabled := 0
	for _, svc := range services {
		if svc.Enabled {
			enabled++
		}
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"services": services,
		"total":    len(services),
		"enabled":  enabled,
	})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.opts.Registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, svc)
}

func (s *Server) handleAddService(w http.ResponseWriter, r *http.Request) {
	var body tools.Provider
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body", err))
		return
	}

	svc, err := s.opts.Registry.Add(&body)
	if err != nil {
		writeError(w, err)
		return
	}
	s.opts.Logger.Info("mcp service registered",
		zap.String("id", svc.ID),
		zap.String("name", svc.Name),
		zap.String("url", svc.URL))
	writeSuccess(w, http.StatusCreated, svc)
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var body tools.Provider
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body", err))
		return
	}

	svc, err := s.opts.Registry.Update(mux.Vars(r)["id"], &body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, svc)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.opts.Registry.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	s.opts.Logger.Info("mcp service removed", zap.String("id", id))
	writeSuccess(w, http.StatusOK, map[string]string{
		"id":      id,
		"message": "Service deleted",
	})
}

func (s *Server) handleToggleService(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body", err))
		return
	}
	if body.Enabled == nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "enabled is required", nil))
		return
	}

	svc, err := s.opts.Registry.Toggle(mux.Vars(r)["id"], *body.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, svc)
}

func (s *Server) handleBulkToggle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body", err))
		return
	}
	if body.Enabled == nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "enabled is required", nil))
		return
	}

	changed := s.opts.Registry.BulkToggle(*body.Enabled)
	writeSuccess(w, http.StatusOK, map[string]any{
		"enabled": *body.Enabled,
		"changed": changed,
	})
}

func (s *Server) handleTestService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.opts.Registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	toolCount, err := tools.TestProvider(r.Context(), svc)
	elapsed := time.Since(start)

	result := map[string]any{
		"id":             svc.ID,
		"name":           svc.Name,
		"url":            svc.URL,
		"reachable":      err == nil,
		"responseTimeMs": elapsed.Milliseconds(),
	}
	if err != nil {
		result["error"] = err.Error()
	} else {
		result["toolCount"] = toolCount
	}
	writeSuccess(w, http.StatusOK, result)
}
