package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/content"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/payments"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

var (
	_ licensing.Store      = (*Store)(nil)
	_ quota.Store          = (*Store)(nil)
	_ permissions.Store    = (*Store)(nil)
	_ institutes.Store     = (*Store)(nil)
	_ content.Store        = (*Store)(nil)
	_ payments.CallbackLog = (*Store)(nil)
	_ auth.Directory       = (*Store)(nil)
)

// Store implements every lectern store on PostgreSQL. Writes and reads that
// feed a write go to the primary; plain listings may be served by a replica.
type Store struct {
	db     *sql.DB
	cm     *ConnectionManager
	logger *observability.Logger
}

// New wraps an open database handle
func New(db *sql.DB) *Store {
	return &Store{db: db, logger: observability.NewNopLogger()}
}

// Open connects through a ConnectionManager and applies pending migrations
func Open(ctx context.Context, config ConnectionConfig, logger *observability.Logger) (*Store, error) {
	cm, err := NewConnectionManager(ctx, config, logger)
	if err != nil {
		return nil, err
	}
	s := &Store{db: cm.Primary(), cm: cm, logger: cm.logger}
	if err := RunMigrations(ctx, s.db, s.logger); err != nil {
		cm.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the primary handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// reader returns a replica when a connection manager is configured
func (s *Store) reader() *sql.DB {
	if s.cm != nil {
		return s.cm.Replica()
	}
	return s.db
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.cm != nil {
		return s.cm.HealthCheck(ctx)
	}
	return s.db.PingContext(ctx)
}

// Close closes every pool
func (s *Store) Close() error {
	if s.cm != nil {
		return s.cm.Close()
	}
	return s.db.Close()
}

// withTx runs fn in a transaction, committing when it returns nil
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// conflictOr turns a unique violation into a Conflict error with message
func conflictOr(err error, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.Conflict(message)
	}
	return err
}

// notFoundOr turns sql.ErrNoRows into a NotFound error for resource
func notFoundOr(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
