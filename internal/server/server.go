// Package server exposes the HTTP surface of the gateway: the chat and
// streaming endpoints, session history and conversation management, the
// MCP service registry, and the health and metrics probes.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/executor"
	"github.com/promptgate/promptgate/internal/llm"
	"github.com/promptgate/promptgate/internal/store"
	"github.com/promptgate/promptgate/internal/tools"
)

const defaultHeartbeat = 15 * time.Second

// Options wires the server's collaborators.
type Options struct {
	Store    store.Store
	Registry *tools.Registry
	Executor *executor.Executor
	Client   llm.Client
	Logger   *zap.Logger

	// APIKey guards the /api surface.
	APIKey string
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	// DurableStore reports whether a durable backend was configured,
	// echoed by the health endpoint.
	DurableStore bool
}

// Server is the HTTP layer. Construct with New, serve via Handler.
type Server struct {
	opts   Options
	router *mux.Router
}

func New(opts Options) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	s := &Server{opts: opts, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Unauthenticated probes.
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(metricsMiddleware)
	api.Use(apiKeyMiddleware(s.opts.APIKey, s.opts.Logger))

	claude := api.PathPrefix("/claude").Subrouter()
	claude.HandleFunc("/chat", s.handleChat).Methods("POST")
	claude.HandleFunc("/stream", s.handleStream).Methods("POST")
	claude.HandleFunc("/history/{sessionId}", s.handleGetHistory).Methods("GET")
	claude.HandleFunc("/history/{sessionId}", s.handleClearHistory).Methods("DELETE")
	claude.HandleFunc("/conversations", s.handleCreateConversation).Methods("POST")
	claude.HandleFunc("/conversations", s.handleListConversations).Methods("GET")
	claude.HandleFunc("/conversations/{sessionId}/title", s.handleSetTitle).Methods("PUT")
	claude.HandleFunc("/conversations/{sessionId}", s.handleDeleteConversation).Methods("DELETE")

	mcpAPI := api.PathPrefix("/mcp").Subrouter()
	mcpAPI.HandleFunc("/services", s.handleListServices).Methods("GET")
	mcpAPI.HandleFunc("/services", s.handleAddService).Methods("POST")
	// bulk route registers before {id} so "bulk" never matches as an id
	mcpAPI.HandleFunc("/services/bulk/toggle", s.handleBulkToggle).Methods("PATCH")
	mcpAPI.HandleFunc("/services/{id}", s.handleGetService).Methods("GET")
	mcpAPI.HandleFunc("/services/{id}", s.handleUpdateService).Methods("PUT")
	mcpAPI.HandleFunc("/services/{id}", s.handleDeleteService).Methods("DELETE")
	mcpAPI.HandleFunc("/services/{id}/toggle", s.handleToggleService).Methods("PATCH")
	mcpAPI.HandleFunc("/services/{id}/test", s.handleTestService).Methods("GET")
}
