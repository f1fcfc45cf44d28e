package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		wantToken  string
		wantErr    error
	}{
		{name: "valid bearer token", authHeader: "Bearer abc.def.ghi", wantToken: "abc.def.ghi"},
		{name: "lowercase scheme", authHeader: "bearer abc.def.ghi", wantToken: "abc.def.ghi"},
		{name: "extra spaces", authHeader: "Bearer   abc.def.ghi  ", wantToken: "abc.def.ghi"},
		{name: "missing header", authHeader: "", wantErr: ErrMissingAuthHeader},
		{name: "basic scheme", authHeader: "Basic abc", wantErr: ErrInvalidAuthHeader},
		{name: "no token", authHeader: "Bearer", wantErr: ErrInvalidAuthHeader},
		{name: "only spaces", authHeader: "Bearer   ", wantErr: ErrInvalidAuthHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			token, err := extractBearer(req)
			if err != tt.wantErr {
				t.Errorf("extractBearer() error = %v, want %v", err, tt.wantErr)
			}
			if token != tt.wantToken {
				t.Errorf("extractBearer() = %v, want %v", token, tt.wantToken)
			}
		})
	}
}

func TestIdentity_Verify(t *testing.T) {
	m := NewIdentity(IdentityConfig{Secret: testSecret})
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		wantSub string
		wantErr error
	}{
		{
			name:    "valid token",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1", "exp": future}),
			wantSub: "user-1",
		},
		{
			name:    "wrong secret",
			token:   signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "user-1", "exp": future}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "expired",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong algorithm",
			token:   signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "user-1", "exp": future}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "no subject",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"exp": future}),
			wantErr: ErrMissingSubject,
		},
		{
			name:    "garbage",
			token:   "not-a-jwt",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := m.Verify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() unexpected error: %v", err)
			}
			if sub != tt.wantSub {
				t.Errorf("Verify() = %q, want %q", sub, tt.wantSub)
			}
		})
	}
}

func TestIdentity_Issuer(t *testing.T) {
	m := NewIdentity(IdentityConfig{Secret: testSecret, Issuer: "https://id.example.com"})

	good := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "u", "iss": "https://id.example.com"})
	if _, err := m.Verify(good); err != nil {
		t.Fatalf("expected issuer to match, got %v", err)
	}

	bad := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "u", "iss": "https://evil.example.com"})
	if _, err := m.Verify(bad); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIdentity_Middleware(t *testing.T) {
	m := NewIdentity(IdentityConfig{Secret: testSecret})

	var captured string
	handler := m.Middleware(func(w http.ResponseWriter, r *http.Request) {
		captured = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing header returns 401", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
		var response map[string]string
		if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["error"] != ErrMissingAuthHeader.Error() {
			t.Errorf("expected error %q, got %q", ErrMissingAuthHeader.Error(), response["error"])
		}
		if response["code"] != "UNAUTHENTICATED" {
			t.Errorf("expected code UNAUTHENTICATED, got %q", response["code"])
		}
	})

	t.Run("valid token reaches handler", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-42"})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()

		handler(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if captured != "user-42" {
			t.Errorf("expected user id %q, got %q", "user-42", captured)
		}
	})
}

func TestUserID(t *testing.T) {
	if got := UserID(context.Background()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
	if got := UserID(WithUserID(context.Background(), "u1")); got != "u1" {
		t.Errorf("expected u1, got %q", got)
	}
}
