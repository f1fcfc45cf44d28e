// Package auth holds the per-user Google credential and the OAuth flow that
// obtains it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/model"
	"github.com/smorand/easy-deck/internal/storage"
)

// defaultTokenLifetime applies when the provider omits an expiry.
const defaultTokenLifetime = time.Hour

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenStoreConfig configures a TokenStore.
type TokenStoreConfig struct {
	Store storage.CredentialStore
	// Refresher and RefreshExpired together enable silent renewal of expired
	// credentials. When either is unset an expired credential forces the user
	// to reconnect.
	Refresher      Refresher
	RefreshExpired bool
	Logger         *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// TokenStore keeps one Google credential per user. Expiry is never checked on
// read; callers go through IsExpired or ValidToken.
type TokenStore struct {
	config TokenStoreConfig
}

// NewTokenStore creates a TokenStore.
func NewTokenStore(config TokenStoreConfig) *TokenStore {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TokenStore{config: config}
}

// StoreToken upserts the owner's credential and returns its identifier. The
// token is stored as given.
func (s *TokenStore) StoreToken(ctx context.Context, ownerID, accessToken string, refreshToken *string, expiresAt int64) (string, error) {
	if ownerID == "" {
		return "", errs.ErrUnauthenticated
	}

	id, err := s.config.Store.UpsertCredential(ctx, &model.Credential{
		OwnerID:      ownerID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	s.config.Logger.Info("google credential stored",
		slog.String("owner", ownerID),
		slog.Bool("has_refresh_token", refreshToken != nil),
	)
	return id, nil
}

// StoreOAuthToken stores a token returned by the OAuth exchange.
func (s *TokenStore) StoreOAuthToken(ctx context.Context, ownerID string, token *oauth2.Token) error {
	var refresh *string
	if token.RefreshToken != "" {
		refresh = model.String(token.RefreshToken)
	}
	_, err := s.StoreToken(ctx, ownerID, token.AccessToken, refresh, s.expiryMillis(token))
	return err
}

// GetToken returns the owner's credential whether or not it has expired.
func (s *TokenStore) GetToken(ctx context.Context, ownerID string) (*model.Credential, error) {
	if ownerID == "" {
		return nil, errs.ErrUnauthenticated
	}
	return s.config.Store.GetCredential(ctx, ownerID)
}

// IsExpired reports whether cred has expired at now.
func IsExpired(cred *model.Credential, now time.Time) bool {
	return cred.ExpiresAt < now.UnixMilli()
}

// ValidToken returns a usable credential for the owner, or
// errs.ErrExternalAuthRequired when none is stored or it has expired and
// cannot be renewed.
func (s *TokenStore) ValidToken(ctx context.Context, ownerID string) (*model.Credential, error) {
	cred, err := s.GetToken(ctx, ownerID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrExternalAuthRequired
		}
		return nil, err
	}

	if !IsExpired(cred, s.config.Now()) {
		return cred, nil
	}

	if !s.config.RefreshExpired || s.config.Refresher == nil || cred.RefreshToken == nil {
		return nil, fmt.Errorf("%w: token expired", errs.ErrExternalAuthRequired)
	}

	return s.refresh(ctx, cred)
}

func (s *TokenStore) refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	token, err := s.config.Refresher.Refresh(ctx, *cred.RefreshToken)
	if err != nil {
		s.config.Logger.Warn("token refresh failed",
			slog.String("owner", cred.OwnerID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: refresh failed", errs.ErrExternalAuthRequired)
	}

	renewed := &model.Credential{
		OwnerID:      cred.OwnerID,
		AccessToken:  token.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    s.expiryMillis(token),
	}
	if token.RefreshToken != "" {
		renewed.RefreshToken = model.String(token.RefreshToken)
	}

	id, err := s.config.Store.UpsertCredential(ctx, renewed)
	if err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}
	renewed.ID = id

	s.config.Logger.Info("google credential refreshed", slog.String("owner", cred.OwnerID))
	return renewed, nil
}

// TokenStatus describes the caller's connection without exposing the token.
type TokenStatus struct {
	Connected bool  `json:"connected"`
	Expired   bool  `json:"expired"`
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// Status reports whether the owner has a stored credential and whether it is
// still valid.
func (s *TokenStore) Status(ctx context.Context, ownerID string) (*TokenStatus, error) {
	cred, err := s.GetToken(ctx, ownerID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return &TokenStatus{}, nil
		}
		return nil, err
	}
	expired := IsExpired(cred, s.config.Now())
	return &TokenStatus{Connected: !expired, Expired: expired, ExpiresAt: cred.ExpiresAt}, nil
}

func (s *TokenStore) expiryMillis(token *oauth2.Token) int64 {
	if token.Expiry.IsZero() {
		return s.config.Now().Add(defaultTokenLifetime).UnixMilli()
	}
	return token.Expiry.UnixMilli()
}
