package server

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// successEnvelope is the body of every successful JSON response.
type successEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// errorEnvelope is the body of every failed JSON response.
type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	}

	env := errorEnvelope{Status: "error", Message: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		env.Message = appErr.Message
		if appErr.Cause != nil {
			env.Error = appErr.Cause.Error()
		}
	}
	writeJSON(w, status, env)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Status: "error", Message: message})
}
