package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/model"
	"github.com/smorand/easy-deck/internal/storage"
)

type refresherFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

var fixedNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTokenStore(store storage.CredentialStore, mutate func(*TokenStoreConfig)) *TokenStore {
	cfg := TokenStoreConfig{Store: store, Now: func() time.Time { return fixedNow }}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewTokenStore(cfg)
}

func TestStoreToken_UpsertByOwner(t *testing.T) {
	mem := storage.NewMemory()
	tokens := newTokenStore(mem, nil)
	ctx := context.Background()

	id1, err := tokens.StoreToken(ctx, "user-1", "first", nil, 100)
	require.NoError(t, err)
	id2, err := tokens.StoreToken(ctx, "user-1", "second", model.String("refresh"), 200)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	cred, err := tokens.GetToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "second", cred.AccessToken)
	assert.Equal(t, int64(200), cred.ExpiresAt)
	assert.Equal(t, 2, mem.Calls["UpsertCredential"])
}

func TestStoreToken_RequiresOwner(t *testing.T) {
	tokens := newTokenStore(storage.NewMemory(), nil)

	_, err := tokens.StoreToken(context.Background(), "", "tok", nil, 1)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestGetToken_DoesNotCheckExpiry(t *testing.T) {
	tokens := newTokenStore(storage.NewMemory(), nil)
	ctx := context.Background()

	_, err := tokens.StoreToken(ctx, "user-1", "stale", nil, fixedNow.Add(-time.Hour).UnixMilli())
	require.NoError(t, err)

	cred, err := tokens.GetToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "stale", cred.AccessToken)

	_, err = tokens.GetToken(ctx, "user-2")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestIsExpired(t *testing.T) {
	now := fixedNow
	assert.True(t, IsExpired(&model.Credential{ExpiresAt: now.UnixMilli() - 1}, now))
	assert.False(t, IsExpired(&model.Credential{ExpiresAt: now.UnixMilli()}, now))
	assert.False(t, IsExpired(&model.Credential{ExpiresAt: now.UnixMilli() + 1}, now))
}

func TestValidToken(t *testing.T) {
	ctx := context.Background()

	t.Run("missing credential", func(t *testing.T) {
		tokens := newTokenStore(storage.NewMemory(), nil)
		_, err := tokens.ValidToken(ctx, "user-1")
		assert.ErrorIs(t, err, errs.ErrExternalAuthRequired)
	})

	t.Run("valid credential", func(t *testing.T) {
		tokens := newTokenStore(storage.NewMemory(), nil)
		_, err := tokens.StoreToken(ctx, "user-1", "live", nil, fixedNow.Add(time.Minute).UnixMilli())
		require.NoError(t, err)

		cred, err := tokens.ValidToken(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "live", cred.AccessToken)
	})

	t.Run("expired without refresh", func(t *testing.T) {
		called := false
		tokens := newTokenStore(storage.NewMemory(), func(c *TokenStoreConfig) {
			c.Refresher = refresherFunc(func(context.Context, string) (*oauth2.Token, error) {
				called = true
				return nil, nil
			})
		})
		_, err := tokens.StoreToken(ctx, "user-1", "old", model.String("r"), fixedNow.Add(-time.Minute).UnixMilli())
		require.NoError(t, err)

		_, err = tokens.ValidToken(ctx, "user-1")
		assert.ErrorIs(t, err, errs.ErrExternalAuthRequired)
		assert.False(t, called, "refresh must stay off unless enabled")
	})

	t.Run("expired with refresh enabled", func(t *testing.T) {
		tokens := newTokenStore(storage.NewMemory(), func(c *TokenStoreConfig) {
			c.RefreshExpired = true
			c.Refresher = refresherFunc(func(_ context.Context, refreshToken string) (*oauth2.Token, error) {
				assert.Equal(t, "r", refreshToken)
				return &oauth2.Token{AccessToken: "renewed", Expiry: fixedNow.Add(time.Hour)}, nil
			})
		})
		_, err := tokens.StoreToken(ctx, "user-1", "old", model.String("r"), fixedNow.Add(-time.Minute).UnixMilli())
		require.NoError(t, err)

		cred, err := tokens.ValidToken(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "renewed", cred.AccessToken)
		require.NotNil(t, cred.RefreshToken)
		assert.Equal(t, "r", *cred.RefreshToken)

		stored, err := tokens.GetToken(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "renewed", stored.AccessToken)
		assert.Equal(t, fixedNow.Add(time.Hour).UnixMilli(), stored.ExpiresAt)
	})

	t.Run("refresh failure", func(t *testing.T) {
		tokens := newTokenStore(storage.NewMemory(), func(c *TokenStoreConfig) {
			c.RefreshExpired = true
			c.Refresher = refresherFunc(func(context.Context, string) (*oauth2.Token, error) {
				return nil, errors.New("invalid_grant")
			})
		})
		_, err := tokens.StoreToken(ctx, "user-1", "old", model.String("r"), fixedNow.Add(-time.Minute).UnixMilli())
		require.NoError(t, err)

		_, err = tokens.ValidToken(ctx, "user-1")
		assert.ErrorIs(t, err, errs.ErrExternalAuthRequired)
	})

	t.Run("store failure", func(t *testing.T) {
		mem := storage.NewMemory()
		boom := errors.New("db down")
		mem.Fail = func(op string) error { return boom }
		tokens := newTokenStore(mem, nil)

		_, err := tokens.ValidToken(ctx, "user-1")
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, errs.ErrExternalAuthRequired)
	})
}

func TestStoreOAuthToken(t *testing.T) {
	tokens := newTokenStore(storage.NewMemory(), nil)
	ctx := context.Background()

	err := tokens.StoreOAuthToken(ctx, "user-1", &oauth2.Token{AccessToken: "a", RefreshToken: "r"})
	require.NoError(t, err)

	cred, err := tokens.GetToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(defaultTokenLifetime).UnixMilli(), cred.ExpiresAt)
	require.NotNil(t, cred.RefreshToken)
	assert.Equal(t, "r", *cred.RefreshToken)
}

func TestStatus(t *testing.T) {
	tokens := newTokenStore(storage.NewMemory(), nil)
	ctx := context.Background()

	st, err := tokens.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, st.Connected)

	expires := fixedNow.Add(time.Hour).UnixMilli()
	_, err = tokens.StoreToken(ctx, "user-1", "a", nil, expires)
	require.NoError(t, err)

	st, err = tokens.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.False(t, st.Expired)
	assert.Equal(t, expires, st.ExpiresAt)
}
