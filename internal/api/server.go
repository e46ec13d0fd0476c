// Package api implements the HTTP surface: a simple chat endpoint, an
// OpenAI-compatible completions endpoint for external integrations,
// read-only memory endpoints, and a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SalihTalhaAydin/apex/internal/agent"
	"github.com/SalihTalhaAydin/apex/internal/buildinfo"
	"github.com/SalihTalhaAydin/apex/internal/config"
	"github.com/SalihTalhaAydin/apex/internal/events"
	"github.com/SalihTalhaAydin/apex/internal/facts"
	"github.com/SalihTalhaAydin/apex/internal/history"
	"github.com/SalihTalhaAydin/apex/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logger.Debug("failed to write JSON error", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	orch     *agent.Orchestrator
	history  *history.Store
	facts    *facts.Store
	registry *tools.Registry
	bus      *events.Bus
	model    string
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates the API server around the orchestrator and stores.
func NewServer(
	orch *agent.Orchestrator,
	hist *history.Store,
	factStore *facts.Store,
	registry *tools.Registry,
	bus *events.Bus,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	return &Server{
		address:  cfg.Listen.Address,
		port:     cfg.Listen.Port,
		orch:     orch,
		history:  hist,
		facts:    factStore,
		registry: registry,
		bus:      bus,
		model:    cfg.Models.Default,
		logger:   logger,
	}
}

// Handler builds the route table. Exposed separately from Start for
// tests using httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)

	mux.HandleFunc("GET /api/facts", s.handleFacts)
	mux.HandleFunc("GET /api/history/search", s.handleHistorySearch)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket event streams are long-lived
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required", s.logger)
		return
	}
	if req.SessionID == "" {
		req.SessionID = history.DefaultSession
	}

	reply, err := s.orch.Handle(r.Context(), req.Message, req.SessionID)
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", s.logger)
		return
	}
	writeJSON(w, chatResponse{Response: reply, SessionID: req.SessionID}, s.logger)
}

// handleChatCompletions is an OpenAI-compatible adapter: it extracts
// the last user message, runs it through the orchestrator, and wraps
// the reply as a chat completion. External integrations that speak the
// OpenAI protocol can point at this endpoint unchanged.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}

	userMessage := ""
	for i := len(body.Messages) - 1; i >= 0; i-- {
		if body.Messages[i].Role != "user" {
			continue
		}
		userMessage = decodeContent(body.Messages[i].Content)
		break
	}
	if userMessage == "" {
		writeError(w, http.StatusBadRequest, "no user message found", s.logger)
		return
	}

	reply, err := s.orch.Handle(r.Context(), userMessage, history.DefaultSession)
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", s.logger)
		return
	}

	writeJSON(w, map[string]any{
		"id":      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   s.model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			},
		},
	}, s.logger)
}

// decodeContent handles both plain-string and multimodal list content.
func decodeContent(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		for _, p := range parts {
			if p.Type == "text" && p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	limit := queryInt(r, "limit", 100)

	list, err := s.facts.All(category, limit)
	if err != nil {
		s.logger.Error("facts listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", s.logger)
		return
	}
	writeJSON(w, map[string]any{"facts": list, "count": len(list)}, s.logger)
}

func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required", s.logger)
		return
	}
	limit := queryInt(r, "limit", 20)

	turns, err := s.history.Search(query, limit)
	if err != nil {
		s.logger.Error("history search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", s.logger)
		return
	}
	writeJSON(w, map[string]any{"turns": turns, "count": len(turns)}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var toolNames []string
	for _, def := range s.registry.Definitions() {
		if fn, ok := def["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				toolNames = append(toolNames, name)
			}
		}
	}
	writeJSON(w, map[string]any{
		"status":         "online",
		"model":          s.model,
		"uptime_seconds": int(buildinfo.Uptime().Seconds()),
		"tools_loaded":   toolNames,
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "Apex",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
