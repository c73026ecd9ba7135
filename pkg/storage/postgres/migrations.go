package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/lectern/pkg/observability"
)

// migrationLockID serializes concurrent RunMigrations calls across processes
const migrationLockID int64 = 5381720934

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create principals and tokens",
			SQL: `
				CREATE TABLE IF NOT EXISTS principals (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					is_teacher BOOLEAN NOT NULL DEFAULT FALSE,
					is_student BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS principal_tokens (
					id BIGSERIAL PRIMARY KEY,
					principal_id TEXT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					token_prefix TEXT NOT NULL,
					expires_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create institute hierarchy",
			SQL: `
				CREATE TABLE IF NOT EXISTS institutes (
					id BIGSERIAL PRIMARY KEY,
					slug TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					owner_id TEXT NOT NULL,
					created_on BIGINT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS classes (
					id BIGSERIAL PRIMARY KEY,
					institute_id BIGINT NOT NULL REFERENCES institutes(id) ON DELETE CASCADE,
					slug TEXT NOT NULL,
					name TEXT NOT NULL,
					created_by TEXT NOT NULL,
					created_on BIGINT NOT NULL,
					UNIQUE(institute_id, slug)
				);

				CREATE TABLE IF NOT EXISTS subjects (
					id BIGSERIAL PRIMARY KEY,
					institute_id BIGINT NOT NULL REFERENCES institutes(id) ON DELETE CASCADE,
					class_id BIGINT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
					slug TEXT NOT NULL,
					name TEXT NOT NULL,
					created_by TEXT NOT NULL,
					created_on BIGINT NOT NULL,
					UNIQUE(class_id, slug)
				);

				CREATE TABLE IF NOT EXISTS sections (
					id BIGSERIAL PRIMARY KEY,
					institute_id BIGINT NOT NULL REFERENCES institutes(id) ON DELETE CASCADE,
					class_id BIGINT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
					slug TEXT NOT NULL,
					name TEXT NOT NULL,
					created_by TEXT NOT NULL,
					created_on BIGINT NOT NULL,
					UNIQUE(class_id, slug)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create permission tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS institute_permissions (
					id BIGSERIAL PRIMARY KEY,
					institute_id BIGINT NOT NULL,
					inviter_id TEXT NOT NULL,
					invitee_id TEXT NOT NULL,
					role VARCHAR(16) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT FALSE,
					request_date BIGINT NOT NULL,
					request_accepted_on BIGINT NOT NULL DEFAULT 0,
					UNIQUE(institute_id, invitee_id)
				);

				CREATE INDEX IF NOT EXISTS idx_institute_permissions_role ON institute_permissions(institute_id, role);

				CREATE TABLE IF NOT EXISTS scope_permissions (
					id BIGSERIAL PRIMARY KEY,
					kind VARCHAR(16) NOT NULL,
					institute_id BIGINT NOT NULL,
					entity_id BIGINT NOT NULL,
					inviter_id TEXT NOT NULL,
					invitee_id TEXT NOT NULL,
					created_on BIGINT NOT NULL,
					UNIQUE(kind, entity_id, invitee_id)
				);

				CREATE INDEX IF NOT EXISTS idx_scope_permissions_invitee ON scope_permissions(institute_id, invitee_id);
			`,
		},
		{
			Version:     4,
			Description: "Create usage counters",
			SQL: `
				CREATE TABLE IF NOT EXISTS institute_statistics (
					institute_id BIGINT PRIMARY KEY,
					storage DOUBLE PRECISION NOT NULL DEFAULT 0,
					no_of_admins INT NOT NULL DEFAULT 0,
					no_of_staffs INT NOT NULL DEFAULT 0,
					no_of_faculties INT NOT NULL DEFAULT 0,
					class_count INT NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS subject_storage (
					subject_id BIGINT PRIMARY KEY,
					storage DOUBLE PRECISION NOT NULL DEFAULT 0
				);
			`,
		},
		{
			Version:     5,
			Description: "Create entitlement ledger",
			SQL: `
				CREATE TABLE IF NOT EXISTS catalog_entries (
					id BIGSERIAL PRIMARY KEY,
					name TEXT NOT NULL,
					price DOUBLE PRECISION NOT NULL,
					gst_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
					discount_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
					billing_cycle VARCHAR(16) NOT NULL,
					limits JSONB NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_on BIGINT NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS storage_plans (
					id BIGINT PRIMARY KEY,
					price_per_gb DOUBLE PRECISION NOT NULL,
					gst_percent DOUBLE PRECISION NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS coupons (
					id BIGSERIAL PRIMARY KEY,
					code TEXT NOT NULL UNIQUE,
					discount DOUBLE PRECISION NOT NULL,
					expiry_date BIGINT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_on BIGINT NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS selected_licenses (
					id BIGSERIAL PRIMARY KEY,
					institute_id BIGINT NOT NULL,
					catalog_entry_id BIGINT NOT NULL,
					name TEXT NOT NULL,
					price DOUBLE PRECISION NOT NULL,
					gst_percent DOUBLE PRECISION NOT NULL,
					discount_percent DOUBLE PRECISION NOT NULL,
					billing_cycle VARCHAR(16) NOT NULL,
					limits JSONB NOT NULL,
					coupon_id BIGINT REFERENCES coupons(id),
					coupon_discount DOUBLE PRECISION NOT NULL DEFAULT 0,
					net_amount DOUBLE PRECISION NOT NULL,
					payment_id_generated BOOLEAN NOT NULL DEFAULT FALSE,
					selected_by TEXT NOT NULL,
					selected_on BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_selected_licenses_institute ON selected_licenses(institute_id);

				CREATE TABLE IF NOT EXISTS license_orders (
					id BIGSERIAL PRIMARY KEY,
					institute_id BIGINT NOT NULL,
					product VARCHAR(16) NOT NULL,
					selected_license_id BIGINT UNIQUE REFERENCES selected_licenses(id) ON DELETE CASCADE,
					no_of_gb INT NOT NULL DEFAULT 0,
					months INT NOT NULL DEFAULT 0,
					gateway VARCHAR(16) NOT NULL,
					gateway_order_id TEXT UNIQUE,
					gateway_payment_id TEXT,
					receipt TEXT,
					amount DOUBLE PRECISION NOT NULL,
					currency VARCHAR(8) NOT NULL,
					paid BOOLEAN NOT NULL DEFAULT FALSE,
					active BOOLEAN NOT NULL DEFAULT FALSE,
					start_date BIGINT NOT NULL DEFAULT 0,
					end_date BIGINT NOT NULL DEFAULT 0,
					payment_date BIGINT NOT NULL DEFAULT 0,
					order_created_on BIGINT NOT NULL,
					created_by TEXT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_license_orders_institute ON license_orders(institute_id, product, order_created_on DESC);

				-- one pending storage order per size and term
				CREATE UNIQUE INDEX IF NOT EXISTS idx_license_orders_pending_storage
					ON license_orders(institute_id, no_of_gb, months)
					WHERE product = 'STORAGE' AND NOT paid AND NOT active;

				CREATE TABLE IF NOT EXISTS license_statistics (
					institute_id BIGINT PRIMARY KEY,
					total_storage DOUBLE PRECISION NOT NULL DEFAULT 0,
					storage_license_end_date BIGINT NOT NULL DEFAULT 0
				);
			`,
		},
		{
			Version:     6,
			Description: "Create materials and payment callbacks",
			SQL: `
				CREATE TABLE IF NOT EXISTS materials (
					id BIGSERIAL PRIMARY KEY,
					institute_id BIGINT NOT NULL,
					class_id BIGINT NOT NULL,
					subject_id BIGINT NOT NULL,
					title TEXT NOT NULL,
					kind VARCHAR(16) NOT NULL,
					content_type TEXT NOT NULL,
					blob_key TEXT NOT NULL,
					url TEXT NOT NULL,
					size BIGINT NOT NULL,
					uploaded_by TEXT NOT NULL,
					created_on BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_materials_subject ON materials(subject_id);

				CREATE TABLE IF NOT EXISTS payment_callbacks (
					id BIGSERIAL PRIMARY KEY,
					source VARCHAR(16) NOT NULL,
					product VARCHAR(16) NOT NULL DEFAULT '',
					event TEXT NOT NULL DEFAULT '',
					gateway_order_id TEXT NOT NULL DEFAULT '',
					gateway_payment_id TEXT NOT NULL DEFAULT '',
					signature TEXT NOT NULL DEFAULT '',
					verified BOOLEAN NOT NULL,
					payload JSONB NOT NULL,
					received_on BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_payment_callbacks_order ON payment_callbacks(gateway_order_id);
			`,
		},
	}
}

// RunMigrations applies pending migrations under a session advisory lock
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)

	_, err = conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS lectern_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := conn.QueryContext(ctx, "SELECT version FROM lectern_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		log := logger.WithFields(map[string]interface{}{"version": m.Version, "description": m.Description})
		log.Info("applying migration")

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO lectern_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
