// Package web exposes retrieval and chat over a JSON HTTP API.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abdul-hamid-achik/videx/internal/chat"
	"github.com/abdul-hamid-achik/videx/internal/retrieve"
	"github.com/abdul-hamid-achik/videx/internal/version"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host      string
	Port      int
	Retriever *retrieve.Retriever
	Session   *chat.Session // nil disables /api/chat
}

// Server is the HTTP API server.
type Server struct {
	config ServerConfig
	router *chi.Mux
	log    *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		log:    logger.With("component", "web"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(120 * time.Second))
	s.router.Use(s.logRequests)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Post("/chat", s.handleChat)
		r.Get("/stats", s.handleStats)
	})
}

// Router returns the chi router for external use.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	s.log.Info("starting API server", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Short(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	topK := 5
	if k := r.URL.Query().Get("k"); k != "" {
		parsed, err := strconv.Atoi(k)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid k")
			return
		}
		topK = parsed
	}

	results, err := s.config.Retriever.SearchWithMetadata(r.Context(), query, topK)
	if err != nil {
		s.log.Warn("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.config.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "body must be JSON with a non-empty message")
		return
	}

	reply, err := s.config.Session.Ask(r.Context(), req.Message)
	if err != nil {
		s.log.Warn("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Retriever.Ready(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":         s.config.Retriever.Store().Stats(),
		"cached_frames": s.config.Retriever.CachedFrames(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
