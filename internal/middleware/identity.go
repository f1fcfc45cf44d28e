// Package middleware resolves the caller identity from a signed bearer token
// and carries it on the request context.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// UserIDContextKey is the context key for the authenticated subject.
const UserIDContextKey contextKey = "user_id"

// Sentinel errors for bearer token validation.
var (
	ErrMissingAuthHeader = errors.New("missing Authorization header")
	ErrInvalidAuthHeader = errors.New("invalid Authorization header format")
	ErrInvalidToken      = errors.New("invalid bearer token")
	ErrMissingSubject    = errors.New("token has no subject")
)

// IdentityConfig holds configuration for the identity middleware.
type IdentityConfig struct {
	// Secret is the HMAC key shared with the identity provider.
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	Logger *slog.Logger
}

// Identity verifies HS256 bearer tokens issued by the identity provider.
type Identity struct {
	config IdentityConfig
	parser *jwt.Parser
}

// NewIdentity creates the identity middleware.
func NewIdentity(config IdentityConfig) *Identity {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &Identity{config: config, parser: jwt.NewParser(opts...)}
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context.
func (m *Identity) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearer(r)
		if err != nil {
			m.writeUnauthorized(w, err.Error())
			return
		}

		userID, err := m.Verify(raw)
		if err != nil {
			m.config.Logger.Debug("bearer token rejected", slog.Any("error", err))
			m.writeUnauthorized(w, err.Error())
			return
		}

		next(w, r.WithContext(WithUserID(r.Context(), userID)))
	}
}

// Verify checks the token signature and claims and returns its subject.
func (m *Identity) Verify(raw string) (string, error) {
	token, err := m.parser.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.config.Secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}

// extractBearer extracts the token from the Authorization header.
func extractBearer(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidAuthHeader
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrInvalidAuthHeader
	}

	return token, nil
}

func (m *Identity) writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  "UNAUTHENTICATED",
	})
}

// WithUserID returns a context carrying the caller identity.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// UserID retrieves the caller identity, or "" when unauthenticated.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDContextKey).(string); ok {
		return v
	}
	return ""
}
