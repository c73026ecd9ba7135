// Package storage selects the persistence backend for a lectern server.
//
// Two backends implement Backend:
//
//   - memory: a mutex-guarded in-process store, used by tests and single-node demos
//   - postgres: PostgreSQL with optional read replicas and versioned migrations
//
// Both backends apply counter and order transitions atomically, so the quota
// tracker and payment processor can rely on exactly-once semantics regardless
// of which one is configured.
//
// # Usage
//
//	backend, err := storage.Open(ctx, storage.Config{
//		Type:        storage.TypePostgres,
//		PostgresURL: "postgres://lectern@localhost/lectern?sslmode=disable",
//	}, logger)
//	if err != nil {
//		return err
//	}
//	defer backend.Close()
package storage
