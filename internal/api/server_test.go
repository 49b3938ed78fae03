package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/account"
	"github.com/bizradar/reddit-scanner/internal/config"
	"github.com/bizradar/reddit-scanner/internal/id/uuid"
	"github.com/bizradar/reddit-scanner/internal/orchestrator"
	"github.com/bizradar/reddit-scanner/internal/ratelimit"
	"github.com/bizradar/reddit-scanner/internal/scanner"
	"github.com/bizradar/reddit-scanner/internal/stats"
)

type fakeAuth struct {
	known map[string]bool
}

func (a fakeAuth) LoadToken(_ context.Context, username string) (scanner.Token, error) {
	if !a.known[username] {
		return scanner.Token{}, fmt.Errorf("%w: %s", scanner.ErrTokenNotFound, username)
	}
	return scanner.Token{
		Username:    username,
		AccessToken: "at-" + username,
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (a fakeAuth) Refresh(_ context.Context, t scanner.Token) (scanner.Token, error) {
	return t, nil
}

func (a fakeAuth) Validate(context.Context, scanner.Token) bool { return true }

type fakeSource struct {
	fetch func(ctx context.Context, subreddit string, q scanner.Query, cred scanner.Token) ([]scanner.Post, error)
}

func (f *fakeSource) Fetch(ctx context.Context, subreddit string, q scanner.Query, cred scanner.Token) ([]scanner.Post, error) {
	return f.fetch(ctx, subreddit, q, cred)
}

type fakeScorer struct{}

func (fakeScorer) Score(p scanner.Post) scanner.ScoredPost {
	return scanner.ScoredPost{Post: p, BusinessScore: float64(p.Score), Urgency: "low"}
}

func testConfig() config.Config {
	cfg, _ := config.Load("")
	cfg.Search.DefaultSubreddits = []string{"smallbusiness"}
	return cfg
}

func newTestServer(t *testing.T, src scanner.Source, cfg config.Config, usernames ...string) (*Server, *account.Pool) {
	t.Helper()
	pool := account.NewPool(fakeAuth{known: map[string]bool{"alice": true, "bob": true}}, ratelimit.Config{
		RequestsPerMinute: 60000,
		BurstLimit:        1000,
	})
	for _, name := range usernames {
		require.NoError(t, pool.AddAccount(context.Background(), name))
	}
	agg := stats.New(nil)
	orch := orchestrator.New(pool, src, fakeScorer{}, orchestrator.Config{MaxConcurrentRequests: 4}, orchestrator.WithStats(agg))
	srv := NewServer(orch, pool, agg, nil, uuid.New(), cfg, zap.NewNop())
	return srv, pool
}

func echoSource() *fakeSource {
	return &fakeSource{
		fetch: func(_ context.Context, subreddit string, _ scanner.Query, _ scanner.Token) ([]scanner.Post, error) {
			return []scanner.Post{{
				ID:         "p-" + subreddit,
				Title:      "Need automation help",
				Subreddit:  subreddit,
				CreatedUTC: time.Now().Add(-time.Hour),
				Score:      30,
			}}, nil
		},
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, echoSource(), testConfig())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsPool(t *testing.T) {
	srv, pool := newTestServer(t, echoSource(), testConfig())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, pool.AddAccount(context.Background(), "alice"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunSearches(t *testing.T) {
	srv, _ := newTestServer(t, echoSource(), testConfig(), "alice")

	body := `{"queries":[{"text":"automate invoices"},{"text":"manual data entry","subreddits":["golang","startups"]}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/searches", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)

	for _, result := range resp.Results {
		assert.Equal(t, "success", result.Status)
		assert.NotEmpty(t, result.QueryID)
	}
	// The first query fell back to the configured default subreddits.
	assert.Len(t, resp.Results[0].Posts, 1)
	assert.Equal(t, "smallbusiness", resp.Results[0].Posts[0].Subreddit)
	assert.Len(t, resp.Results[1].Posts, 2)
}

func TestRunSearchesValidation(t *testing.T) {
	srv, _ := newTestServer(t, echoSource(), testConfig(), "alice")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no queries", `{"queries":[]}`},
		{"missing text", `{"queries":[{"subreddits":["golang"]}]}`},
		{"unknown sort", `{"queries":[{"text":"x","sort":"sideways"}]}`},
		{"unknown time filter", `{"queries":[{"text":"x","time_filter":"decade"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/searches", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRunSearchesPartialFailure(t *testing.T) {
	src := &fakeSource{
		fetch: func(_ context.Context, subreddit string, _ scanner.Query, _ scanner.Token) ([]scanner.Post, error) {
			if subreddit == "bad" {
				return nil, fmt.Errorf("upstream exploded")
			}
			return []scanner.Post{{ID: "p1", Title: "t", Subreddit: subreddit, CreatedUTC: time.Now(), Score: 5}}, nil
		},
	}
	srv, _ := newTestServer(t, src, testConfig(), "alice")

	body := `{"queries":[{"text":"x","subreddits":["good","bad"]}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/searches", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "partial", resp.Results[0].Status)
	assert.NotEmpty(t, resp.Results[0].Error)
	assert.Len(t, resp.Results[0].Posts, 1)
}

func TestStreamSearch(t *testing.T) {
	srv, _ := newTestServer(t, echoSource(), testConfig(), "alice")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/searches/stream?q=automation&subreddits=golang,startups")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var lines []postResult
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var pr postResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &pr))
		lines = append(lines, pr)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, "p-golang", lines[0].ID)
	assert.Equal(t, "p-startups", lines[1].ID)
}

func TestStreamSearchRequiresText(t *testing.T) {
	srv, _ := newTestServer(t, echoSource(), testConfig(), "alice")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/searches/stream", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStats(t *testing.T) {
	srv, _ := newTestServer(t, echoSource(), testConfig(), "alice")

	body := `{"queries":[{"text":"automate"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/searches", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap["requests_made"])
	accounts := snap["accounts"].(map[string]any)
	assert.Contains(t, accounts, "alice")
}

func TestAccountLifecycle(t *testing.T) {
	srv, pool := newTestServer(t, echoSource(), testConfig())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/accounts/", bytes.NewReader([]byte(`{"username":"alice"}`))))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, pool.Len())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/accounts/", bytes.NewReader([]byte(`{"username":"ghost"}`))))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/accounts/alice", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, pool.Len())
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	srv, _ := newTestServer(t, echoSource(), cfg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
