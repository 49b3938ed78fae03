// Package auth manages per-account OAuth credentials: a file-backed
// token store plus the refresh flow against the upstream token endpoint.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

const defaultTokenURL = "https://www.reddit.com/api/v1/access_token"

// Doer abstracts the HTTP client for token refreshes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the application credentials used for refresh grants.
type Config struct {
	TokenDir     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	// TokenURL overrides the upstream token endpoint, mainly for tests.
	TokenURL string
}

// Option customizes a Store.
type Option func(*Store)

// WithHTTPClient replaces the refresh HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(s *Store) { s.client = client }
}

// WithClock replaces the wall clock.
func WithClock(clock scanner.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store keeps one JSON token file per username under a private directory
// and implements the credential interface the account pool depends on.
type Store struct {
	cfg    Config
	client Doer
	clock  scanner.Clock
	logger *zap.Logger
}

// NewStore creates the token directory if needed and returns the store.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if cfg.TokenDir == "" {
		return nil, fmt.Errorf("auth: token dir is required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if err := os.MkdirAll(cfg.TokenDir, 0o700); err != nil {
		return nil, fmt.Errorf("create token dir: %w", err)
	}
	s := &Store{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type tokenFile struct {
	Username     string    `json:"username"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// LoadToken reads the stored credential for a username.
func (s *Store) LoadToken(_ context.Context, username string) (scanner.Token, error) {
	data, err := os.ReadFile(s.path(username))
	if err != nil {
		if os.IsNotExist(err) {
			return scanner.Token{}, fmt.Errorf("%w: %s", scanner.ErrTokenNotFound, username)
		}
		return scanner.Token{}, fmt.Errorf("read token for %s: %w", username, err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return scanner.Token{}, fmt.Errorf("decode token for %s: %w", username, err)
	}
	return scanner.Token{
		Username:     tf.Username,
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		ExpiresAt:    tf.ExpiresAt,
		Scopes:       tf.Scopes,
	}, nil
}

// StoreToken persists a credential with owner-only permissions.
func (s *Store) StoreToken(_ context.Context, token scanner.Token) error {
	if token.Username == "" {
		return fmt.Errorf("auth: token has no username")
	}
	tf := tokenFile{
		Username:     token.Username,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		Scopes:       token.Scopes,
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token for %s: %w", token.Username, err)
	}
	if err := os.WriteFile(s.path(token.Username), data, 0o600); err != nil {
		return fmt.Errorf("write token for %s: %w", token.Username, err)
	}
	return nil
}

// DeleteToken removes a stored credential. Deleting an absent credential
// is not an error.
func (s *Store) DeleteToken(_ context.Context, username string) error {
	err := os.Remove(s.path(username))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token for %s: %w", username, err)
	}
	return nil
}

// ListUsernames returns every username with a stored credential.
func (s *Store) ListUsernames(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.TokenDir)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	return names, nil
}

// CleanupExpired deletes credentials that are expired and have no refresh
// token, returning how many were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	names, err := s.ListUsernames(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	now := s.clock.Now()
	for _, name := range names {
		token, err := s.LoadToken(ctx, name)
		if err != nil {
			s.logger.Warn("skipping unreadable token", zap.String("username", name), zap.Error(err))
			continue
		}
		if token.IsExpired(now) && token.RefreshToken == "" {
			if err := s.DeleteToken(ctx, name); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Validate reports whether the token can be used as-is.
func (s *Store) Validate(_ context.Context, token scanner.Token) bool {
	return token.AccessToken != "" && !token.IsExpired(s.clock.Now())
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Refresh exchanges the refresh token for a new access token and persists
// the result.
func (s *Store) Refresh(ctx context.Context, token scanner.Token) (scanner.Token, error) {
	if token.RefreshToken == "" {
		return scanner.Token{}, fmt.Errorf("refresh token for %s: no refresh token on record", token.Username)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", token.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return scanner.Token{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return scanner.Token{}, scanner.NewTransportError("refresh token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return scanner.Token{}, scanner.NewTransportError("read refresh response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return scanner.Token{}, fmt.Errorf("refresh token for %s: upstream status %d", token.Username, resp.StatusCode)
	}

	var rr refreshResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return scanner.Token{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if rr.AccessToken == "" {
		return scanner.Token{}, fmt.Errorf("refresh token for %s: empty access token in response", token.Username)
	}

	refreshed := scanner.Token{
		Username:     token.Username,
		AccessToken:  rr.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    s.clock.Now().Add(time.Duration(rr.ExpiresIn) * time.Second),
		Scopes:       token.Scopes,
	}
	if rr.Scope != "" {
		refreshed.Scopes = strings.Fields(rr.Scope)
	}
	if err := s.StoreToken(ctx, refreshed); err != nil {
		return scanner.Token{}, err
	}
	s.logger.Info("token refreshed", zap.String("username", token.Username), zap.Time("expires_at", refreshed.ExpiresAt))
	return refreshed, nil
}

func (s *Store) path(username string) string {
	return filepath.Join(s.cfg.TokenDir, username+".json")
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
