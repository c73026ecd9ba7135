package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, TypeMemory, cfg.Type)
	assert.Greater(t, cfg.PostgresMaxConns, cfg.PostgresMinConns)
	assert.Positive(t, cfg.PostgresTimeout)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		backend, err := Open(ctx, DefaultConfig(), nil)
		require.NoError(t, err)
		defer backend.Close()
		assert.NoError(t, backend.HealthCheck(ctx))
	})

	t.Run("postgres without url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = TypePostgres
		_, err := Open(ctx, cfg, nil)
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: "cassandra"}, nil)
		assert.ErrorContains(t, err, "unknown storage type")
	})
}
