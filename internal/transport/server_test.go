package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name   string
		config ServerConfig
		want   ServerConfig
	}{
		{
			name:   "default values applied",
			config: ServerConfig{},
			want: ServerConfig{
				Port:            defaultPort,
				ReadTimeout:     defaultReadTimeout,
				WriteTimeout:    defaultWriteTimeout,
				IdleTimeout:     defaultIdleTimeout,
				ShutdownTimeout: defaultShutdownTimeout,
			},
		},
		{
			name:   "custom port preserved",
			config: ServerConfig{Port: 9000},
			want: ServerConfig{
				Port:            9000,
				ReadTimeout:     defaultReadTimeout,
				WriteTimeout:    defaultWriteTimeout,
				IdleTimeout:     defaultIdleTimeout,
				ShutdownTimeout: defaultShutdownTimeout,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(tt.config, nil)
			if s.config.Port != tt.want.Port {
				t.Errorf("Port = %d, want %d", s.config.Port, tt.want.Port)
			}
			if s.config.ReadTimeout != tt.want.ReadTimeout {
				t.Errorf("ReadTimeout = %v, want %v", s.config.ReadTimeout, tt.want.ReadTimeout)
			}
			if s.config.ShutdownTimeout != tt.want.ShutdownTimeout {
				t.Errorf("ShutdownTimeout = %v, want %v", s.config.ShutdownTimeout, tt.want.ShutdownTimeout)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(ServerConfig{Logger: quietLogger()}, nil)
	s.SetupRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %s, want healthy", resp["status"])
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		wantOrigin     string
	}{
		{
			name:           "wildcard allows any origin",
			allowedOrigins: []string{"*"},
			requestOrigin:  "https://example.com",
			wantOrigin:     "https://example.com",
		},
		{
			name:           "specific origin allowed",
			allowedOrigins: []string{"https://allowed.com"},
			requestOrigin:  "https://allowed.com",
			wantOrigin:     "https://allowed.com",
		},
		{
			name:           "origin not allowed",
			allowedOrigins: []string{"https://allowed.com"},
			requestOrigin:  "https://notallowed.com",
			wantOrigin:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{AllowedOrigins: tt.allowedOrigins, Logger: quietLogger()}, nil)
			s.SetupRoutes()

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestPreflightRequest(t *testing.T) {
	s := NewServer(ServerConfig{Logger: quietLogger()}, nil)
	s.SetupRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/api/decks/abc", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PATCH, DELETE, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestProtectedRoutes_WithoutIdentity(t *testing.T) {
	s := NewServer(ServerConfig{Logger: quietLogger()}, &API{})
	s.SetupRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/decks", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestAuthCallback_NotConfigured(t *testing.T) {
	s := NewServer(ServerConfig{Logger: quietLogger()}, nil)
	s.SetupRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=x&state=y", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestServerIsRunning(t *testing.T) {
	s := NewServer(ServerConfig{Logger: quietLogger()}, nil)

	if s.IsRunning() {
		t.Error("new server should not be running")
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("Shutdown on idle server returned %v", err)
	}
}

func TestServerPort(t *testing.T) {
	s := NewServer(ServerConfig{Port: 9000, Logger: quietLogger()}, nil)

	if s.Port() != 9000 {
		t.Errorf("Port() = %d, want 9000", s.Port())
	}
}

func TestDefaultServerConfig(t *testing.T) {
	config := DefaultServerConfig()

	if config.Port != defaultPort {
		t.Errorf("Port = %d, want %d", config.Port, defaultPort)
	}
	if config.ReadTimeout != defaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", config.ReadTimeout, defaultReadTimeout)
	}
	if len(config.AllowedOrigins) != 1 || config.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", config.AllowedOrigins)
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)

	if rw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusCreated)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("underlying Code = %d, want %d", w.Code, http.StatusCreated)
	}
}
