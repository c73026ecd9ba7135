package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/content"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/payments"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
	"github.com/platinummonkey/lectern/pkg/storage/memory"
	"github.com/platinummonkey/lectern/pkg/storage/postgres"
)

// Backend is every store a lectern server needs, served by one database
type Backend interface {
	licensing.Store
	quota.Store
	permissions.Store
	institutes.Store
	content.Store
	payments.CallbackLog
	auth.Directory

	HealthCheck(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Backend types
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
)

// Config for storage backend
type Config struct {
	Type string // "memory" or "postgres"

	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
	}
}

// Open builds the backend named by cfg.Type. Postgres backends are migrated
// before they are returned.
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (Backend, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return memory.New(), nil
	case TypePostgres:
		store, err := postgres.Open(ctx, postgres.ConnectionConfig{
			PrimaryURL:  cfg.PostgresURL,
			ReplicaURLs: cfg.PostgresReplicaURLs,
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
			MaxLifetime: time.Hour,
			MaxIdleTime: 10 * time.Minute,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
