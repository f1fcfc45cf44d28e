package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/smorand/easy-deck/internal/config"
	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/storage"
)

func runExtract(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{Commands: []*cli.Command{extractIDCmd(&out)}}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	err := app.Run(append([]string{"easy-deck", "extract-id"}, args...))
	return strings.TrimSpace(out.String()), err
}

func TestExtractIDCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr error
	}{
		{
			name: "full url",
			args: []string{"https://docs.google.com/presentation/d/abc_123-XY/edit#slide=id.p"},
			want: "abc_123-XY",
		},
		{
			name: "bare id",
			args: []string{"abc123"},
			want: "abc123",
		},
		{
			name:    "foreign url",
			args:    []string{"https://example.com/file"},
			wantErr: errs.ErrInvalidPresentationID,
		},
		{
			name:    "missing argument",
			wantErr: errs.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runExtract(t, tt.args...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("expected a JSON warn record, got %q", buf.String())
	}

	buf.Reset()
	newLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf).Debug("text record")
	if !strings.Contains(buf.String(), "msg=\"text record\"") {
		t.Errorf("expected a text debug record, got %q", buf.String())
	}
}

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := openStore(context.Background(), config.StorageConfig{Driver: "memory"}, logger)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := store.(*storage.Memory); !ok {
		t.Errorf("expected *storage.Memory, got %T", store)
	}

	sqlite, err := openStore(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: t.TempDir() + "/deck.db"}, logger)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	sqlite.Close()

	if _, err := openStore(context.Background(), config.StorageConfig{Driver: "mongo"}, logger); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for unknown driver, got %v", err)
	}
}

func TestBuildServer(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "secret"
	cfg.Google.ClientID = "client"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := buildServer(cfg, storage.NewMemory(), logger)

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/decks", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("rate limit must apply after identity")
	}
}
