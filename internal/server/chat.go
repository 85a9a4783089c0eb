package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/executor"
)

// chatRequest is the body of POST /api/claude/chat and /stream.
type chatRequest struct {
	Prompt      string   `json:"prompt"`
	SessionID   string   `json:"sessionId"`
	Model       string   `json:"model"`
	MaxTokens   int      `json:"maxTokens"`
	Temperature *float64 `json:"temperature"`
	System      string   `json:"system"`
	UseTools    *bool    `json:"useTools"`
	MaxSteps    int      `json:"maxSteps"`
}

type chatResponse struct {
	Message     string                      `json:"message"`
	Usage       chat.Usage                  `json:"usage"`
	Model       string                      `json:"model"`
	SessionID   string                      `json:"session_id"`
	Title       string                      `json:"title"`
	ToolCalls   []executor.ToolCallRecord   `json:"toolCalls,omitempty"`
	ToolResults []executor.ToolResultRecord `json:"toolResults,omitempty"`
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*executor.Request, string, bool) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.New(apperrors.ErrCodeValidation, "invalid request body", err))
		return nil, "", false
	}

	model := body.Model
	if model == "" {
		model = s.opts.Client.ModelName()
	}
	return &executor.Request{
		SessionKey:  body.SessionID,
		Prompt:      body.Prompt,
		Model:       body.Model,
		System:      body.System,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
		UseTools:    body.UseTools,
		MaxSteps:    body.MaxSteps,
	}, model, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, model, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	result, err := s.opts.Executor.Run(r.Context(), req)
	if err != nil {
		s.opts.Logger.Error("chat request failed", zap.Error(err))
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, chatResponse{
		Message:     result.Text,
		Usage:       result.Usage,
		Model:       model,
		SessionID:   result.SessionKey,
		Title:       result.Title,
		ToolCalls:   result.ToolCalls,
		ToolResults: result.ToolResults,
	})
}
