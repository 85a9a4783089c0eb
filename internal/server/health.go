package server

import (
	"net/http"
)

// handleHealth reports process liveness plus a coarse view of the
// configured environment, matching what operators check first when the
// gateway misbehaves.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"environment": map[string]any{
			"apiKeyConfigured": s.opts.APIKey != "",
			"llmConfigured":    s.opts.Client != nil,
			"durableStore":     s.opts.DurableStore,
			"mcpServices":      len(s.opts.Registry.List(false)),
		},
	})
}
