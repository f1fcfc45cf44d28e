package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/smorand/easy-deck/internal/middleware"
)

// DefaultScopes grants Slides editing and read-only Drive metadata for the
// presentation picker.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/presentations",
	"https://www.googleapis.com/auth/drive.metadata.readonly",
}

// OAuthConfig holds OAuth2 configuration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
	// SuccessRedirect, when set, is where the browser is sent after the
	// callback stores the credential. Otherwise the callback answers JSON.
	SuccessRedirect string
}

// TokenFunc receives the token obtained for userID.
type TokenFunc func(ctx context.Context, userID string, token *oauth2.Token) error

// OAuthHandler runs the server-side Google authorization flow. The flow is
// started by an authenticated user; the state parameter remembers who, so the
// unauthenticated callback can store the credential for the right owner.
type OAuthHandler struct {
	config          *oauth2.Config
	logger          *slog.Logger
	states          *stateStore
	successRedirect string
	onTokenFunc     TokenFunc
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(config OAuthConfig, logger *slog.Logger) *OAuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := config.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}

	return &OAuthHandler{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		logger:          logger,
		states:          newStateStore(),
		successRedirect: config.SuccessRedirect,
	}
}

// SetOnTokenFunc sets the function called when a token is obtained.
func (h *OAuthHandler) SetOnTokenFunc(fn TokenFunc) {
	h.onTokenFunc = fn
}

// HandleConnect handles GET /api/google/connect and returns the Google
// authorization URL for the caller.
func (h *OAuthHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	userID := middleware.UserID(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "not authenticated")
		return
	}

	state, err := h.states.issue(userID)
	if err != nil {
		h.logger.Error("failed to generate state", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to generate state")
		return
	}

	h.logger.Info("google connect initiated", slog.String("owner", userID))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"authorizationUrl": h.AuthURL(state),
	})
}

// HandleCallback handles GET /auth/google/callback with the authorization code.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		errDesc := query.Get("error_description")
		h.logger.Warn("OAuth2 error from provider",
			slog.String("error", errParam),
			slog.String("description", errDesc),
		)
		h.writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("OAuth2 error: %s - %s", errParam, errDesc))
		return
	}

	state := query.Get("state")
	if state == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "missing state parameter")
		return
	}

	userID, ok := h.states.consume(state)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid state parameter")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "missing authorization code")
		return
	}

	token, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("failed to exchange code for token", slog.Any("error", err))
		h.writeError(w, http.StatusBadGateway, "EXTERNAL_API_ERROR", "failed to exchange code for token")
		return
	}

	h.logger.Info("OAuth2 token obtained",
		slog.String("owner", userID),
		slog.Bool("has_refresh_token", token.RefreshToken != ""),
		slog.Time("expiry", token.Expiry),
	)

	if h.onTokenFunc != nil {
		if err := h.onTokenFunc(r.Context(), userID, token); err != nil {
			h.logger.Error("token callback failed", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to store token")
			return
		}
	}

	if h.successRedirect != "" {
		http.Redirect(w, r, h.successRedirect, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":   "Google account connected",
		"expiresAt": token.Expiry.UnixMilli(),
	})
}

// AuthURL returns the authorization URL carrying state.
func (h *OAuthHandler) AuthURL(state string) string {
	return h.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Refresh exchanges a refresh token for a new access token.
func (h *OAuthHandler) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return h.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

func (h *OAuthHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}

var _ Refresher = (*OAuthHandler)(nil)
