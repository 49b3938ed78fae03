package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizradar/reddit-scanner/internal/ratelimit"
	"github.com/bizradar/reddit-scanner/internal/scanner"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAuth struct {
	tokens    map[string]scanner.Token
	valid     bool
	refreshed []string
}

func (a *fakeAuth) LoadToken(_ context.Context, username string) (scanner.Token, error) {
	tok, ok := a.tokens[username]
	if !ok {
		return scanner.Token{}, scanner.ErrTokenNotFound
	}
	return tok, nil
}

func (a *fakeAuth) Refresh(_ context.Context, token scanner.Token) (scanner.Token, error) {
	a.refreshed = append(a.refreshed, token.Username)
	token.AccessToken += "-refreshed"
	return token, nil
}

func (a *fakeAuth) Validate(_ context.Context, _ scanner.Token) bool {
	return a.valid
}

func newTestPool(t *testing.T, clock *fakeClock, usernames ...string) *Pool {
	t.Helper()
	auth := &fakeAuth{tokens: map[string]scanner.Token{}, valid: true}
	for _, u := range usernames {
		auth.tokens[u] = scanner.Token{Username: u, AccessToken: "tok-" + u}
	}
	pool := NewPool(auth, ratelimit.Config{
		RequestsPerMinute: 60,
		BurstLimit:        5,
	}, WithClock(clock), WithLimiterOptions(ratelimit.WithClock(clock)))
	for _, u := range usernames {
		require.NoError(t, pool.AddAccount(context.Background(), u))
	}
	return pool
}

func TestSelectBestEmptyPool(t *testing.T) {
	pool := NewPool(&fakeAuth{valid: true}, ratelimit.Config{RequestsPerMinute: 60})
	_, err := pool.SelectBest()
	require.ErrorIs(t, err, scanner.ErrNoAccountsAvailable)
}

func TestSelectBestSkipsBackedOffAccount(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "alice", "bob")

	limited, err := pool.SelectBest()
	require.NoError(t, err)
	retry := 30 * time.Second
	limited.Limiter.RecordRateLimited(&retry)

	// Until the window passes, every selection lands on the other account.
	for i := 0; i < 14; i++ {
		acct, err := pool.SelectBest()
		require.NoError(t, err)
		assert.NotEqual(t, limited.Username, acct.Username)
		clock.Advance(2 * time.Second)
	}

	// 28s elapsed; 2 more pass the window. Load up the healthy account so
	// the recovered one clearly wins on score.
	clock.Advance(2 * time.Second)
	otherName := "alice"
	if limited.Username == "alice" {
		otherName = "bob"
	}
	other := accountByName(t, pool, otherName)
	for i := 0; i < 10; i++ {
		pool.RecordRequest(other)
	}

	acct, err := pool.SelectBest()
	require.NoError(t, err)
	assert.Equal(t, limited.Username, acct.Username)
}

func TestSelectBestAllBackedOffPicksEarliestRecovery(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "alice", "bob", "carol")

	durations := map[string]time.Duration{
		"alice": 60 * time.Second,
		"bob":   10 * time.Second,
		"carol": 45 * time.Second,
	}
	for name, d := range durations {
		retry := d
		accountByName(t, pool, name).Limiter.RecordRateLimited(&retry)
	}

	acct, err := pool.SelectBest()
	require.NoError(t, err)
	assert.Equal(t, "bob", acct.Username)
}

func TestSelectBestFavorsLessLoadedAccount(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "alice", "bob")

	first, err := pool.SelectBest()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		pool.RecordRequest(first)
	}

	next, err := pool.SelectBest()
	require.NoError(t, err)
	assert.NotEqual(t, first.Username, next.Username)
}

func TestAddAccountIdempotentPreservesStats(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "alice")

	alice, err := pool.SelectBest()
	require.NoError(t, err)
	pool.RecordRequest(alice)
	pool.RecordError(alice)

	require.NoError(t, pool.AddAccount(context.Background(), "alice"))

	stats := pool.Stats()["alice"]
	assert.Equal(t, int64(1), stats.RequestsMade)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, 1, pool.Len())
}

func TestAddAccountRefreshesInvalidToken(t *testing.T) {
	auth := &fakeAuth{
		tokens: map[string]scanner.Token{
			"alice": {Username: "alice", AccessToken: "stale"},
		},
		valid: false,
	}
	pool := NewPool(auth, ratelimit.Config{RequestsPerMinute: 60})
	require.NoError(t, pool.AddAccount(context.Background(), "alice"))
	assert.Equal(t, []string{"alice"}, auth.refreshed)
}

func TestAddAccountUnknownUser(t *testing.T) {
	pool := NewPool(&fakeAuth{tokens: map[string]scanner.Token{}, valid: true}, ratelimit.Config{RequestsPerMinute: 60})
	err := pool.AddAccount(context.Background(), "ghost")
	require.ErrorIs(t, err, scanner.ErrTokenNotFound)
}

func TestRemoveAccount(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "alice")
	pool.RemoveAccount("alice")
	_, err := pool.SelectBest()
	require.ErrorIs(t, err, scanner.ErrNoAccountsAvailable)
}

// accountByName digs an account out of the pool for test setup.
func accountByName(t *testing.T, pool *Pool, username string) *Account {
	t.Helper()
	pool.mu.Lock()
	defer pool.mu.Unlock()
	acct, ok := pool.accounts[username]
	require.True(t, ok, "account %s not registered", username)
	return acct
}
