// Package transport exposes the Easy Deck API over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultPort            = 8080
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	Logger          *slog.Logger
}

// DefaultServerConfig returns configuration with default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            defaultPort,
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		IdleTimeout:     defaultIdleTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		AllowedOrigins:  []string{"*"},
		Logger:          slog.Default(),
	}
}

// AuthHandler serves the Google OAuth connect flow.
type AuthHandler interface {
	HandleConnect(w http.ResponseWriter, r *http.Request)
	HandleCallback(w http.ResponseWriter, r *http.Request)
}

// Middleware wraps a handler.
type Middleware interface {
	Middleware(next http.HandlerFunc) http.HandlerFunc
}

// Server is the Easy Deck HTTP server.
type Server struct {
	config              ServerConfig
	httpServer          *http.Server
	mux                 *http.ServeMux
	api                 *API
	authHandler         AuthHandler
	identityMiddleware  Middleware
	rateLimitMiddleware Middleware
	logger              *slog.Logger
	mu                  sync.RWMutex
	running             bool
}

// NewServer creates the server. Routes are registered by SetupRoutes once
// the middlewares are set.
func NewServer(config ServerConfig, api *API) *Server {
	if config.Port == 0 {
		config.Port = defaultPort
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaultIdleTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	return &Server{
		config: config,
		mux:    http.NewServeMux(),
		api:    api,
		logger: config.Logger,
	}
}

// SetAuthHandler sets the Google OAuth handler.
func (s *Server) SetAuthHandler(handler AuthHandler) {
	s.authHandler = handler
}

// SetIdentityMiddleware sets the bearer token middleware.
func (s *Server) SetIdentityMiddleware(middleware Middleware) {
	s.identityMiddleware = middleware
}

// SetRateLimitMiddleware sets the rate limiting middleware.
func (s *Server) SetRateLimitMiddleware(middleware Middleware) {
	s.rateLimitMiddleware = middleware
}

// SetupRoutes registers every route. Call it once, after the setters.
func (s *Server) SetupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /auth/google/callback", s.public(s.handleAuthCallback))

	a := s.api
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /api/decks", a.listDecks},
		{"POST /api/decks", a.createDeck},
		{"POST /api/decks/import", a.importPresentation},
		{"GET /api/decks/{id}", a.getDeck},
		{"PATCH /api/decks/{id}", a.updateDeck},
		{"DELETE /api/decks/{id}", a.deleteDeck},
		{"GET /api/decks/{id}/slides", a.listSlides},
		{"POST /api/decks/{id}/slides", a.createSlide},
		{"POST /api/decks/{id}/sync", a.syncDeck},
		{"POST /api/decks/{id}/link", a.linkDeck},
		{"POST /api/decks/{id}/connect", a.connectDeck},
		{"POST /api/decks/{id}/chat", a.deckChat},
		{"POST /api/decks/{id}/execute", a.executeSlidesUpdate},

		{"GET /api/slides/{id}", a.getSlide},
		{"PATCH /api/slides/{id}", a.updateSlide},
		{"DELETE /api/slides/{id}", a.deleteSlide},

		{"GET /api/presentations", a.searchPresentations},
		{"POST /api/presentations", a.createPresentation},
		{"GET /api/presentations/{pid}", a.getPresentation},
		{"POST /api/presentations/{pid}/slides", a.addSlide},
		{"POST /api/presentations/{pid}/batch-update", a.batchUpdate},
		{"POST /api/presentations/{pid}/link", a.linkExisting},

		{"GET /api/messages", a.listMessages},
		{"POST /api/messages", a.converse},
		{"DELETE /api/messages", a.clearMessages},

		{"GET /api/google/token", a.tokenStatus},
		{"POST /api/google/token", a.storeToken},
		{"GET /api/google/connect", s.handleConnect},
	}
	for _, r := range routes {
		s.mux.HandleFunc(r.pattern, s.protected(r.handler))
	}
}

// protected requires a verified caller, then rate limits per caller.
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	limited := s.withRateLimit(next)
	if s.identityMiddleware == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "identity not configured", Code: "UNAVAILABLE"})
		}
	}
	return s.identityMiddleware.Middleware(limited)
}

// public rate limits by client address.
func (s *Server) public(next http.HandlerFunc) http.HandlerFunc {
	return s.withRateLimit(next)
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.rateLimitMiddleware == nil {
		return next
	}
	return s.rateLimitMiddleware.Middleware(next)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.authHandler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "google authentication not configured", Code: "UNAVAILABLE"})
		return
	}
	s.authHandler.HandleConnect(w, r)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.authHandler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "google authentication not configured", Code: "UNAVAILABLE"})
		return
	}
	s.authHandler.HandleCallback(w, r)
}

// Handler returns the root handler: CORS, preflight and request logging
// around the router.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux.ServeHTTP)
}

// withMiddleware wraps a handler with logging and CORS.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.applyCORS(w, r)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.logger.Info("request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", r.RemoteAddr),
		)
	}
}

// applyCORS applies CORS headers to the response.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.Header().Add("Vary", "Origin")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting easy deck server",
		slog.Int("port", s.config.Port),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err == nil {
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("server shutdown complete")
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.config.Port
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}
