package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/app"
	"github.com/bizradar/reddit-scanner/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.TokenDir = filepath.Join(t.TempDir(), "tokens")
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = filepath.Join(t.TempDir(), "exports")
	cfg.Scanner.KeywordsFile = filepath.Join(t.TempDir(), "missing-keywords.json")
	cfg.DB.Enabled = false
	cfg.PubSub.Enabled = false
	cfg.Reddit.Usernames = nil
	return cfg
}

func TestNewBuildsServiceGraph(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.NotNil(t, a.TokenStore)
	assert.NotNil(t, a.Pool)
	assert.NotNil(t, a.Stats)
	assert.NotNil(t, a.Hub)
	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.Recorder)
	assert.Equal(t, 0, a.Pool.Len())
}

func TestNewSkipsUnknownAccounts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reddit.Usernames = []string{"nobody"}

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	// The token for "nobody" does not exist, so the account is skipped
	// rather than failing startup.
	assert.Equal(t, 0, a.Pool.Len())
}

func TestNewUnknownStorageBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "tape"

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.NotNil(t, a.Recorder)
}

func TestCloseIsIdempotentWithoutBackends(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	a.Close(context.Background())
}
