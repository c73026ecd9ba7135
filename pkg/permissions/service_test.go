package permissions_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
	"github.com/platinummonkey/lectern/pkg/storage/memory"
)

const inst = int64(1)

// fixedEntitlements serves one limits snapshot; nil means no license
type fixedEntitlements struct {
	limits *licensing.Limits
}

func (f *fixedEntitlements) ActiveLimits(ctx context.Context, instituteID int64) (*licensing.Limits, error) {
	if f.limits == nil {
		return nil, nil
	}
	cp := *f.limits
	return &cp, nil
}

func (f *fixedEntitlements) LicenseStatistics(ctx context.Context, instituteID int64) (*licensing.LicenseStatistics, error) {
	return &licensing.LicenseStatistics{InstituteID: instituteID}, nil
}

type harness struct {
	ctx          context.Context
	store        *memory.Store
	cached       *permissions.CachedStore
	entitlements *fixedEntitlements
	tracker      *quota.Tracker
	service      *permissions.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ctx:   context.Background(),
		store: memory.New(),
		entitlements: &fixedEntitlements{limits: &licensing.Limits{
			NoOfAdmin: 2, NoOfStaff: 2, NoOfFaculty: 3,
		}},
	}
	h.cached = permissions.NewCachedStore(h.store, permissions.DefaultCacheConfig(), nil)
	h.tracker = quota.NewTracker(h.store, h.entitlements)
	clock := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	h.service = permissions.NewService(h.cached, permissions.NewAuthorizer(h.cached, nil), h.tracker, h.store,
		permissions.WithClock(func() time.Time { return clock }),
	)

	for _, id := range []string{"owner", "t1", "t2", "t3", "t4"} {
		h.store.AddPrincipal(&auth.Principal{ID: id, IsTeacher: true})
	}
	h.store.AddPrincipal(&auth.Principal{ID: "student", IsStudent: true})

	require.NoError(t, h.tracker.InitInstitute(h.ctx, inst))
	_, err := h.service.Bootstrap(h.ctx, inst, "owner")
	require.NoError(t, err)
	return h
}

func (h *harness) stats(t *testing.T) *quota.InstituteStatistics {
	t.Helper()
	stats, err := h.tracker.Statistics(h.ctx, inst)
	require.NoError(t, err)
	return stats
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t)
	perm, err := h.store.GetInstitutePermission(h.ctx, inst, "owner")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, perm.Role)
	assert.True(t, perm.Active)
	assert.Equal(t, 1, h.stats(t).NoOfAdmins)
}

func TestInviteAcceptRevokeStaff(t *testing.T) {
	h := newHarness(t)

	perm, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleStaff)
	require.NoError(t, err)
	assert.False(t, perm.Active)
	assert.Zero(t, perm.RequestAcceptedOn)
	assert.Equal(t, 1, h.stats(t).NoOfStaffs)

	// pending members have no access yet
	err = h.service.Authorizer().RequireMember(h.ctx, inst, "t1")
	assert.True(t, apperr.IsPermissionDenied(err))

	accepted, err := h.service.Accept(h.ctx, inst, "t1")
	require.NoError(t, err)
	assert.True(t, accepted.Active)
	assert.NotZero(t, accepted.RequestAcceptedOn)
	assert.NoError(t, h.service.Authorizer().RequireMember(h.ctx, inst, "t1"))
	assert.Equal(t, 1, h.stats(t).NoOfStaffs)

	_, err = h.service.Accept(h.ctx, inst, "t1")
	assert.True(t, apperr.IsConflict(err))

	require.NoError(t, h.service.Revoke(h.ctx, inst, "owner", "t1"))
	assert.Equal(t, 0, h.stats(t).NoOfStaffs)
	_, err = h.store.GetInstitutePermission(h.ctx, inst, "t1")
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsPermissionDenied(h.service.Authorizer().RequireMember(h.ctx, inst, "t1")))
}

func TestInvite_FacultyIsImmediatelyActive(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleStaff)
	require.NoError(t, err)
	_, err = h.service.Accept(h.ctx, inst, "t1")
	require.NoError(t, err)

	perm, err := h.service.Invite(h.ctx, inst, "t1", "t2", auth.RoleFaculty)
	require.NoError(t, err)
	assert.True(t, perm.Active)
	assert.Equal(t, perm.RequestDate, perm.RequestAcceptedOn)
	assert.Equal(t, "t1", perm.InviterID)
	assert.Equal(t, 1, h.stats(t).NoOfFaculties)

	_, err = h.service.Accept(h.ctx, inst, "t2")
	assert.True(t, apperr.IsConflict(err))
}

func TestInvite_QuotaExceeded(t *testing.T) {
	h := newHarness(t)
	h.entitlements.limits.NoOfStaff = 1

	_, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleStaff)
	require.NoError(t, err)

	_, err = h.service.Invite(h.ctx, inst, "owner", "t2", auth.RoleStaff)
	require.Error(t, err)
	assert.True(t, quota.IsExceeded(err))
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))

	_, err = h.store.GetInstitutePermission(h.ctx, inst, "t2")
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, 1, h.stats(t).NoOfStaffs)

	// a declined invitation frees the seat
	require.NoError(t, h.service.Revoke(h.ctx, inst, "t1", ""))
	_, err = h.service.Invite(h.ctx, inst, "owner", "t2", auth.RoleStaff)
	assert.NoError(t, err)
}

func TestInvite_NoLicense(t *testing.T) {
	h := newHarness(t)
	h.entitlements.limits = nil

	_, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleFaculty)
	assert.ErrorIs(t, err, quota.ErrNoActiveLicense)
	assert.Equal(t, 0, h.stats(t).NoOfFaculties)
}

func TestInvite_Rejections(t *testing.T) {
	h := newHarness(t)
	seedMember(t, h.store, inst, "staffer", auth.RoleStaff, true)
	seedMember(t, h.store, inst, "prof", auth.RoleFaculty, true)

	tests := []struct {
		name    string
		inviter string
		invitee string
		role    auth.Role
		kind    apperr.Kind
		message string
	}{
		{"invalid role", "owner", "t1", auth.Role("DEAN"), apperr.KindValidation, "Invalid role."},
		{"inviter not a member", "t4", "t1", auth.RoleFaculty, apperr.KindPermissionDenied, permissions.ReasonNotMember},
		{"staff cannot invite staff", "staffer", "t1", auth.RoleStaff, apperr.KindPermissionDenied, permissions.ReasonAdminOnly},
		{"staff cannot invite admin", "staffer", "t1", auth.RoleAdmin, apperr.KindPermissionDenied, permissions.ReasonAdminOnly},
		{"faculty cannot invite faculty", "prof", "t1", auth.RoleFaculty, apperr.KindPermissionDenied, permissions.ReasonStaffOnly},
		{"unknown invitee", "owner", "ghost", auth.RoleFaculty, apperr.KindNotFound, ""},
		{"students cannot join", "owner", "student", auth.RoleFaculty, apperr.KindValidation, "Only teachers can be added to an institute."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.Invite(h.ctx, inst, tt.inviter, tt.invitee, tt.role)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			if tt.message != "" {
				assert.Equal(t, tt.message, apperr.Message(err))
			}
		})
	}
}

func TestInvite_ExistingRowMatrix(t *testing.T) {
	tests := []struct {
		name      string
		role      auth.Role
		active    bool
		inviter   string
		requested auth.Role
		want      string
	}{
		{"active admin as staff", auth.RoleAdmin, true, "owner", auth.RoleStaff, permissions.MsgUserIsAdmin},
		{"pending admin as admin", auth.RoleAdmin, false, "owner", auth.RoleAdmin, permissions.MsgAlreadyInvitedAdmin},
		{"pending admin as staff", auth.RoleAdmin, false, "owner", auth.RoleStaff, permissions.MsgPendingAdminBeforeStaff},
		{"active staff as admin", auth.RoleStaff, true, "owner", auth.RoleAdmin, permissions.MsgStaffBeforeAdmin},
		{"active staff as staff", auth.RoleStaff, true, "owner", auth.RoleStaff, permissions.MsgAlreadyStaff},
		{"pending staff as admin", auth.RoleStaff, false, "owner", auth.RoleAdmin, permissions.MsgPendingStaffBeforeAdmin},
		{"pending staff as staff", auth.RoleStaff, false, "owner", auth.RoleStaff, permissions.MsgAlreadyInvitedStaff},
		{"active faculty as staff", auth.RoleFaculty, true, "owner", auth.RoleStaff, permissions.MsgFacultyBeforeInvite},
		{"pending faculty as admin", auth.RoleFaculty, false, "owner", auth.RoleAdmin, permissions.MsgPendingFacultyBeforeInvite},

		{"active admin as faculty", auth.RoleAdmin, true, "owner", auth.RoleFaculty, permissions.MsgUserIsAdmin},
		{"pending admin as faculty", auth.RoleAdmin, false, "owner", auth.RoleFaculty, permissions.MsgPendingAdmin},
		{"pending staff as faculty", auth.RoleStaff, false, "owner", auth.RoleFaculty, permissions.MsgPendingStaff},
		{"active staff as faculty by admin", auth.RoleStaff, true, "owner", auth.RoleFaculty, permissions.MsgStaffBeforeFaculty},
		{"active staff as faculty by staff", auth.RoleStaff, true, "staffer", auth.RoleFaculty, permissions.MsgUserIsStaffUnauthorised},
		{"active faculty as faculty", auth.RoleFaculty, true, "staffer", auth.RoleFaculty, permissions.MsgAlreadyFaculty},
		{"pending faculty as faculty", auth.RoleFaculty, false, "owner", auth.RoleFaculty, permissions.MsgPendingFaculty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			seedMember(t, h.store, inst, "staffer", auth.RoleStaff, true)
			seedMember(t, h.store, inst, "t1", tt.role, tt.active)
			before := *h.stats(t)

			_, err := h.service.Invite(h.ctx, inst, tt.inviter, "t1", tt.requested)
			require.Error(t, err)
			assert.True(t, apperr.IsConflict(err))
			assert.Equal(t, tt.want, apperr.Message(err))

			assert.Equal(t, before, *h.stats(t))
			perm, err := h.store.GetInstitutePermission(h.ctx, inst, "t1")
			require.NoError(t, err)
			assert.Equal(t, tt.role, perm.Role)
			assert.Equal(t, tt.active, perm.Active)
		})
	}
}

func TestRevoke(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleAdmin)
	require.NoError(t, err)
	_, err = h.service.Accept(h.ctx, inst, "t1")
	require.NoError(t, err)
	_, err = h.service.Invite(h.ctx, inst, "owner", "t2", auth.RoleStaff)
	require.NoError(t, err)
	_, err = h.service.Accept(h.ctx, inst, "t2")
	require.NoError(t, err)
	_, err = h.service.Invite(h.ctx, inst, "t2", "t3", auth.RoleFaculty)
	require.NoError(t, err)

	err = h.service.Revoke(h.ctx, inst, "owner", "t1")
	require.Error(t, err)
	assert.True(t, apperr.IsPermissionDenied(err))
	assert.Equal(t, "Unauthorised. Admin permission can only be removed by the admin.", apperr.Message(err))

	err = h.service.Revoke(h.ctx, inst, "t2", "t3")
	assert.True(t, apperr.IsPermissionDenied(err))

	err = h.service.Revoke(h.ctx, inst, "owner", "t4")
	assert.True(t, apperr.IsNotFound(err))

	err = h.service.Revoke(h.ctx, inst, "t4", "")
	assert.True(t, apperr.IsNotFound(err))

	// admins leave on their own
	require.NoError(t, h.service.Revoke(h.ctx, inst, "t1", "t1"))
	assert.Equal(t, 1, h.stats(t).NoOfAdmins)

	require.NoError(t, h.service.Revoke(h.ctx, inst, "owner", "t3"))
	assert.Equal(t, 0, h.stats(t).NoOfFaculties)
}

func TestRevoke_PendingAdminInvitation(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 2, h.stats(t).NoOfAdmins)

	_, err = h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleStaff)
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, "User has a pending admin invitation. Delete it before inviting as staff.", apperr.Message(err))

	require.NoError(t, h.service.Revoke(h.ctx, inst, "owner", "t1"))
	assert.Equal(t, 1, h.stats(t).NoOfAdmins)
	_, err = h.store.GetInstitutePermission(h.ctx, inst, "t1")
	assert.True(t, apperr.IsNotFound(err))

	perm, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleStaff, perm.Role)
	assert.False(t, perm.Active)
	assert.Equal(t, 1, h.stats(t).NoOfStaffs)
}

func TestRevoke_ClearsScopeGrants(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleStaff)
	require.NoError(t, err)
	_, err = h.service.Accept(h.ctx, inst, "t1")
	require.NoError(t, err)

	class := permissions.ClassScope(inst, 10)
	_, err = h.service.GrantScopePermission(h.ctx, class, "owner", "t1")
	require.NoError(t, err)

	ok, err := h.service.HasScopePermission(h.ctx, permissions.SubjectScope(inst, 10, 55), "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.service.Revoke(h.ctx, inst, "t1", ""))

	grant, err := h.store.FindScopePermission(h.ctx, permissions.ScopeClass, 10, "t1")
	require.NoError(t, err)
	assert.Nil(t, grant)

	// the cached authorizer sees the removal immediately
	ok, err = h.service.HasScopePermission(h.ctx, class, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScopeGrants(t *testing.T) {
	h := newHarness(t)
	seedMember(t, h.store, inst, "staffer", auth.RoleStaff, true)
	seedMember(t, h.store, inst, "pending", auth.RoleStaff, false)
	seedMember(t, h.store, inst, "prof", auth.RoleFaculty, true)
	section := permissions.SectionScope(inst, 10, 30)

	_, err := h.service.GrantScopePermission(h.ctx, permissions.InstituteScope(inst), "owner", "staffer")
	assert.True(t, apperr.IsValidation(err))

	_, err = h.service.GrantScopePermission(h.ctx, section, "staffer", "staffer")
	assert.True(t, apperr.IsPermissionDenied(err))

	_, err = h.service.GrantScopePermission(h.ctx, section, "owner", "pending")
	assert.True(t, apperr.IsValidation(err))

	_, err = h.service.GrantScopePermission(h.ctx, section, "owner", "prof")
	require.Error(t, err)
	assert.Equal(t, "Faculty cannot be assigned as in-charge.", apperr.Message(err))

	grant, err := h.service.GrantScopePermission(h.ctx, section, "owner", "staffer")
	require.NoError(t, err)
	assert.Equal(t, permissions.ScopeSection, grant.Kind)
	assert.Equal(t, int64(30), grant.EntityID)
	assert.Equal(t, "owner", grant.InviterID)

	_, err = h.service.GrantScopePermission(h.ctx, section, "owner", "staffer")
	require.Error(t, err)
	assert.Equal(t, "User is already in-charge.", apperr.Message(err))

	list, err := h.service.ListScopePermissions(h.ctx, section, "prof")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "staffer", list[0].InviteeID)

	_, err = h.service.ListScopePermissions(h.ctx, section, "t4")
	assert.True(t, apperr.IsPermissionDenied(err))

	assert.True(t, apperr.IsPermissionDenied(h.service.RevokeScopePermission(h.ctx, section, "staffer", "staffer")))
	require.NoError(t, h.service.RevokeScopePermission(h.ctx, section, "owner", "staffer"))
	assert.True(t, apperr.IsNotFound(h.service.RevokeScopePermission(h.ctx, section, "owner", "staffer")))

	ok, err := h.service.HasScopePermission(h.ctx, section, "staffer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListMembers(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Invite(h.ctx, inst, "owner", "t1", auth.RoleStaff)
	require.NoError(t, err)
	_, err = h.service.Invite(h.ctx, inst, "owner", "t2", auth.RoleFaculty)
	require.NoError(t, err)

	all, err := h.service.ListMembers(h.ctx, inst, "t2", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	staff, err := h.service.ListMembers(h.ctx, inst, "owner", auth.RoleStaff)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, "t1", staff[0].InviteeID)

	_, err = h.service.ListMembers(h.ctx, inst, "owner", auth.Role("DEAN"))
	assert.True(t, apperr.IsValidation(err))

	// t1 is still pending
	_, err = h.service.ListMembers(h.ctx, inst, "t1", "")
	assert.True(t, apperr.IsPermissionDenied(err))
}
