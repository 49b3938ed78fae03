package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevelopmentLogger(t *testing.T) {
	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("production logger ready")
}

func TestComponentNilParent(t *testing.T) {
	assert.NotNil(t, Component(nil, "scanner"))
}

func TestComponentNames(t *testing.T) {
	logger, err := New(true)
	require.NoError(t, err)
	child := Component(logger, "pool")
	assert.NotNil(t, child)
}
