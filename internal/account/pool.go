// Package account manages the pool of API accounts, selecting the best
// candidate for each request and tracking per-account usage.
package account

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/ratelimit"
	"github.com/bizradar/reddit-scanner/internal/scanner"
)

// UsageStats tracks one account's request history. The zero value is the
// state of a freshly added account.
type UsageStats struct {
	RequestsMade int64
	Errors       int64
	LastUsed     time.Time
}

// Account wraps one credential with its rate limiter. Stats are owned by
// the pool and mutated only through Record calls.
type Account struct {
	Username string
	Token    scanner.Token
	Limiter  *ratelimit.Limiter

	stats UsageStats
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces the wall clock.
func WithClock(clock scanner.Clock) Option {
	return func(p *Pool) { p.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithLimiterOptions forwards options to every limiter the pool creates.
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(p *Pool) { p.limiterOpts = opts }
}

// Pool owns the set of accounts. All state is guarded by a single mutex
// with short critical sections; the pool never blocks on I/O while
// holding its lock.
type Pool struct {
	mu       sync.Mutex
	accounts map[string]*Account

	auth        scanner.Authenticator
	limiterCfg  ratelimit.Config
	limiterOpts []ratelimit.Option
	clock       scanner.Clock
	logger      *zap.Logger
}

// NewPool builds an empty Pool. Accounts are added explicitly.
func NewPool(auth scanner.Authenticator, limiterCfg ratelimit.Config, opts ...Option) *Pool {
	p := &Pool{
		accounts:   make(map[string]*Account),
		auth:       auth,
		limiterCfg: limiterCfg,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddAccount validates the account's credential and registers it.
// Idempotent by username: re-adding refreshes the credential without
// resetting usage stats.
func (p *Pool) AddAccount(ctx context.Context, username string) error {
	token, err := p.auth.LoadToken(ctx, username)
	if err != nil {
		return fmt.Errorf("load token for %s: %w", username, err)
	}
	if !p.auth.Validate(ctx, token) {
		token, err = p.auth.Refresh(ctx, token)
		if err != nil {
			return fmt.Errorf("refresh token for %s: %w", username, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.accounts[username]; ok {
		existing.Token = token
		p.logger.Info("account credential refreshed", zap.String("username", username))
		return nil
	}
	p.accounts[username] = &Account{
		Username: username,
		Token:    token,
		Limiter:  ratelimit.New(p.limiterCfg, p.limiterOpts...),
	}
	p.logger.Info("account added", zap.String("username", username))
	return nil
}

// RemoveAccount drops an account from rotation. Accounts are never
// removed automatically; a permanently invalid credential leaves its
// account inert until the operator removes it.
func (p *Pool) RemoveAccount(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.accounts, username)
}

// SelectBest returns the account that should serve the next request. It
// never blocks: the caller is expected to call Acquire on the returned
// account's limiter, which is where any waiting happens.
//
// Among accounts not in backoff the winner minimizes
// requests_made * max(0.1, 1 - idle_seconds/3600), favoring accounts
// that have been idle longer. When every account is backed off, the one
// recovering soonest is returned so the caller waits the minimum time.
func (p *Pool) SelectBest() (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accounts) == 0 {
		return nil, scanner.ErrNoAccountsAvailable
	}

	now := p.clock.Now()
	var best *Account
	bestScore := math.Inf(1)
	for _, acct := range p.accounts {
		if acct.Limiter.InBackoff(now) {
			continue
		}
		score := float64(acct.stats.RequestsMade)
		if !acct.stats.LastUsed.IsZero() {
			idle := now.Sub(acct.stats.LastUsed).Seconds()
			score *= math.Max(0.1, 1-idle/3600)
		}
		if score < bestScore {
			bestScore = score
			best = acct
		}
	}
	if best != nil {
		return best, nil
	}

	// Everyone is backed off: pick the earliest recovery.
	var earliest time.Time
	for _, acct := range p.accounts {
		until := acct.Limiter.BackoffUntil()
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
			best = acct
		}
	}
	return best, nil
}

// RecordRequest notes a successful request on the account and resets its
// 429 streak. Must be called exactly once per completed attempt.
func (p *Pool) RecordRequest(acct *Account) {
	p.mu.Lock()
	acct.stats.RequestsMade++
	acct.stats.LastUsed = p.clock.Now()
	p.mu.Unlock()
	acct.Limiter.RecordSuccess()
}

// RecordError notes a failed request on the account.
func (p *Pool) RecordError(acct *Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct.stats.Errors++
}

// Len returns the number of registered accounts.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Stats returns a snapshot of per-account usage.
func (p *Pool) Stats() map[string]UsageStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]UsageStats, len(p.accounts))
	for name, acct := range p.accounts {
		out[name] = acct.stats
	}
	return out
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
