//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("lectern_test"),
		postgres.WithUsername("lectern"),
		postgres.WithPassword("lectern_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, ConnectionConfig{
		PrimaryURL: connStr,
		MaxConns:   5,
		MinConns:   1,
		Timeout:    10 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Integration(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	// migrations are idempotent
	require.NoError(t, RunMigrations(ctx, store.DB(), nil))

	require.NoError(t, store.UpsertPrincipal(ctx, &auth.Principal{ID: "owner-1", Name: "Owner", IsTeacher: true}))
	inst := &institutes.Institute{Slug: "springfield-high", Name: "Springfield High", OwnerID: "owner-1", CreatedOn: 1}
	require.NoError(t, store.CreateInstitute(ctx, inst))
	err := store.CreateInstitute(ctx, &institutes.Institute{Slug: "springfield-high", Name: "Dup", OwnerID: "owner-1", CreatedOn: 2})
	assert.True(t, apperr.IsConflict(err))

	t.Run("storage counters round", func(t *testing.T) {
		require.NoError(t, store.InitInstituteStatistics(ctx, inst.ID))
		for i := 0; i < 3; i++ {
			require.NoError(t, store.AddStorage(ctx, inst.ID, 0, 0.1))
		}
		st, err := store.GetInstituteStatistics(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.3, st.Storage)
	})

	t.Run("storage order activates once", func(t *testing.T) {
		require.NoError(t, store.InitLicenseStatistics(ctx, inst.ID))
		order := &licensing.Order{
			InstituteID:    inst.ID,
			Product:        licensing.ProductStorage,
			NoOfGB:         5,
			Months:         1,
			Gateway:        licensing.GatewayRazorpay,
			Amount:         59,
			Currency:       "INR",
			OrderCreatedOn: 10,
			CreatedBy:      "owner-1",
		}
		require.NoError(t, store.CreateOrder(ctx, order))

		dup := *order
		dup.ID = 0
		assert.True(t, apperr.IsConflict(store.CreateOrder(ctx, &dup)))

		params := licensing.ActivateParams{OrderID: order.ID, PaymentID: "pay_1", PaidOn: 20, StartDate: 20, EndDate: 5000}
		applied, err := store.ActivateOrder(ctx, params)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = store.ActivateOrder(ctx, params)
		require.NoError(t, err)
		assert.False(t, applied)

		st, err := store.GetLicenseStatistics(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 5.0, st.TotalStorage)
		assert.Equal(t, int64(5000), st.StorageLicenseEndDate)

		expired, err := store.ExpireOrder(ctx, order.ID, 6000)
		require.NoError(t, err)
		assert.True(t, expired)

		st, err = store.GetLicenseStatistics(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.0, st.TotalStorage)
	})
}
