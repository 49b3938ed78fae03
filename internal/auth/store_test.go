package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := NewStore(Config{
		TokenDir:     t.TempDir(),
		ClientID:     "client",
		ClientSecret: "secret",
		UserAgent:    "test-agent",
	}, opts...)
	require.NoError(t, err)
	return store
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token := scanner.Token{
		Username:     "alice",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scopes:       []string{"read"},
	}
	require.NoError(t, store.StoreToken(ctx, token))

	got, err := store.LoadToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestLoadTokenMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadToken(context.Background(), "ghost")
	assert.ErrorIs(t, err, scanner.ErrTokenNotFound)
}

func TestDeleteTokenIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreToken(ctx, scanner.Token{Username: "alice", AccessToken: "at"}))
	require.NoError(t, store.DeleteToken(ctx, "alice"))
	require.NoError(t, store.DeleteToken(ctx, "alice"))

	_, err := store.LoadToken(ctx, "alice")
	assert.ErrorIs(t, err, scanner.ErrTokenNotFound)
}

func TestListUsernames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob"} {
		require.NoError(t, store.StoreToken(ctx, scanner.Token{Username: name, AccessToken: "at"}))
	}

	names, err := store.ListUsernames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(fixedClock{now: now}))
	ctx := context.Background()

	assert.True(t, store.Validate(ctx, scanner.Token{AccessToken: "at", ExpiresAt: now.Add(time.Hour)}))
	assert.False(t, store.Validate(ctx, scanner.Token{AccessToken: "at", ExpiresAt: now.Add(-time.Hour)}))
	// Tokens within the expiry skew are treated as expired.
	assert.False(t, store.Validate(ctx, scanner.Token{AccessToken: "at", ExpiresAt: now.Add(30 * time.Second)}))
	assert.False(t, store.Validate(ctx, scanner.Token{ExpiresAt: now.Add(time.Hour)}))
}

func TestCleanupExpired(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(fixedClock{now: now}))
	ctx := context.Background()

	require.NoError(t, store.StoreToken(ctx, scanner.Token{
		Username: "dead", AccessToken: "at", ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.StoreToken(ctx, scanner.Token{
		Username: "refreshable", AccessToken: "at", RefreshToken: "rt", ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.StoreToken(ctx, scanner.Token{
		Username: "fresh", AccessToken: "at", ExpiresAt: now.Add(time.Hour),
	}))

	removed, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	names, err := store.ListUsernames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"refreshable", "fresh"}, names)
}

func TestRefreshHappyPath(t *testing.T) {
	var gotGrant, gotRefresh, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")
		user, _, _ := r.BasicAuth()
		gotAuth = user
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"bearer","expires_in":3600,"scope":"read identity"}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewStore(Config{
		TokenDir:     t.TempDir(),
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
	}, WithClock(fixedClock{now: now}))
	require.NoError(t, err)

	ctx := context.Background()
	refreshed, err := store.Refresh(ctx, scanner.Token{
		Username:     "alice",
		AccessToken:  "at-old",
		RefreshToken: "rt-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "rt-1", gotRefresh)
	assert.Equal(t, "client", gotAuth)
	assert.Equal(t, "at-new", refreshed.AccessToken)
	assert.Equal(t, "rt-1", refreshed.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), refreshed.ExpiresAt)
	assert.Equal(t, []string{"read", "identity"}, refreshed.Scopes)

	// Refresh persists the new credential.
	stored, err := store.LoadToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-new", stored.AccessToken)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Refresh(context.Background(), scanner.Token{Username: "alice", AccessToken: "at"})
	require.Error(t, err)
}

func TestRefreshUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store, err := NewStore(Config{TokenDir: t.TempDir(), TokenURL: srv.URL})
	require.NoError(t, err)

	_, err = store.Refresh(context.Background(), scanner.Token{Username: "alice", RefreshToken: "rt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
