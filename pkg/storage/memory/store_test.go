package memory

import (
	"context"
	"testing"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storageOrder(instituteID int64, gb int) *licensing.Order {
	return &licensing.Order{
		InstituteID: instituteID,
		Product:     licensing.ProductStorage,
		NoOfGB:      gb,
		Months:      1,
		Gateway:     licensing.GatewayRazorpay,
	}
}

func TestStore_StorageOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InitLicenseStatistics(ctx, 1))

	first := storageOrder(1, 5)
	require.NoError(t, s.CreateOrder(ctx, first))
	assert.True(t, apperr.IsConflict(s.CreateOrder(ctx, storageOrder(1, 5))))

	second := storageOrder(1, 3)
	require.NoError(t, s.CreateOrder(ctx, second))

	ok, err := s.ActivateOrder(ctx, licensing.ActivateParams{OrderID: first.ID, PaymentID: "pay_1", StartDate: 0, EndDate: 1000})
	require.NoError(t, err)
	assert.True(t, ok)

	// second activation is a no-op
	ok, err = s.ActivateOrder(ctx, licensing.ActivateParams{OrderID: first.ID, PaymentID: "pay_1", StartDate: 0, EndDate: 1000})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ActivateOrder(ctx, licensing.ActivateParams{OrderID: second.ID, PaymentID: "pay_2", StartDate: 0, EndDate: 2000})
	require.NoError(t, err)

	stats, err := s.GetLicenseStatistics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8.0, stats.TotalStorage)
	assert.Equal(t, int64(2000), stats.StorageLicenseEndDate)

	// not yet expired
	ok, err = s.ExpireOrder(ctx, second.ID, 1500)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ExpireOrder(ctx, first.ID, 1500)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err = s.GetLicenseStatistics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, stats.TotalStorage)
	assert.Equal(t, int64(2000), stats.StorageLicenseEndDate)

	ok, err = s.ExpireOrder(ctx, second.ID, 2000)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err = s.GetLicenseStatistics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.TotalStorage)
	assert.Equal(t, int64(0), stats.StorageLicenseEndDate)
}

func TestStore_DeleteUnpaidOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	unpaid := storageOrder(1, 2)
	require.NoError(t, s.CreateOrder(ctx, unpaid))
	paid := storageOrder(1, 4)
	require.NoError(t, s.CreateOrder(ctx, paid))
	_, err := s.ActivateOrder(ctx, licensing.ActivateParams{OrderID: paid.ID, EndDate: 10})
	require.NoError(t, err)

	ok, err := s.DeleteUnpaidOrder(ctx, unpaid.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok, "other institute")

	ok, err = s.DeleteUnpaidOrder(ctx, paid.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "paid orders stay")

	ok, err = s.DeleteUnpaidOrder(ctx, unpaid.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetOrder(ctx, unpaid.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestStore_OrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, created := range []int64{100, 300, 200} {
		o := storageOrder(1, i+1)
		o.OrderCreatedOn = created
		require.NoError(t, s.CreateOrder(ctx, o))
	}

	orders, err := s.ListOrders(ctx, 1, licensing.ProductStorage)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []int64{300, 200, 100}, []int64{orders[0].OrderCreatedOn, orders[1].OrderCreatedOn, orders[2].OrderCreatedOn})

	stale, err := s.ListStaleUnpaidOrders(ctx, 1, licensing.ProductStorage, 250)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	ids, err := s.ListInstitutesWithOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestStore_InstitutePermissionUnique(t *testing.T) {
	ctx := context.Background()
	s := New()

	perm := &permissions.InstitutePermission{InstituteID: 1, InviterID: "owner", InviteeID: "u1", Role: auth.RoleStaff}
	require.NoError(t, s.CreateInstitutePermission(ctx, perm))
	dup := &permissions.InstitutePermission{InstituteID: 1, InviterID: "owner", InviteeID: "u1", Role: auth.RoleAdmin}
	assert.True(t, apperr.IsConflict(s.CreateInstitutePermission(ctx, dup)))

	ok, err := s.ActivateInstitutePermission(ctx, 1, "u1", 42)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ActivateInstitutePermission(ctx, 1, "u1", 43)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetInstitutePermission(ctx, 1, "u1")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, int64(42), got.RequestAcceptedOn)
}

func TestStore_Counters(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.True(t, apperr.IsNotFound(s.AddStorage(ctx, 1, 0, 1)))
	require.NoError(t, s.InitInstituteStatistics(ctx, 1))

	require.NoError(t, s.AddStorage(ctx, 1, 7, 0.25))
	require.NoError(t, s.AddStorage(ctx, 1, 7, -0.05))
	require.NoError(t, s.AddRoleCount(ctx, 1, auth.RoleStaff, 1))
	require.NoError(t, s.AddClassCount(ctx, 1, 2))
	assert.True(t, apperr.IsValidation(s.AddRoleCount(ctx, 1, auth.Role("BOARD"), 1)))

	stats, err := s.GetInstituteStatistics(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, stats.Storage, 1e-9)
	assert.Equal(t, 1, stats.NoOfStaffs)
	assert.Equal(t, 2, stats.ClassCount)

	subject, err := s.GetSubjectStorage(ctx, 7)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, subject, 1e-9)
}

func TestStore_DeleteInstitute(t *testing.T) {
	ctx := context.Background()
	s := New()

	inst := &institutes.Institute{Name: "Springfield", Slug: "springfield", OwnerID: "owner"}
	require.NoError(t, s.CreateInstitute(ctx, inst))
	require.NoError(t, s.InitInstituteStatistics(ctx, inst.ID))
	require.NoError(t, s.InitLicenseStatistics(ctx, inst.ID))
	require.NoError(t, s.CreateInstitutePermission(ctx, &permissions.InstitutePermission{
		InstituteID: inst.ID, InviterID: "owner", InviteeID: "owner", Role: auth.RoleAdmin, Active: true,
	}))
	class := &institutes.Class{InstituteID: inst.ID, Name: "Grade 9", Slug: "grade-9"}
	require.NoError(t, s.CreateClass(ctx, class))

	ok, err := s.DeleteInstitute(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetInstituteBySlug(ctx, "springfield")
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.GetInstitutePermission(ctx, inst.ID, "owner")
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.GetInstituteStatistics(ctx, inst.ID)
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.GetClass(ctx, class.ID)
	assert.True(t, apperr.IsNotFound(err))

	ok, err = s.DeleteInstitute(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
