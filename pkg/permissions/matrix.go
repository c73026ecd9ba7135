package permissions

import "github.com/platinummonkey/lectern/pkg/auth"

// Messages for invitations blocked by an existing row
const (
	MsgUserIsAdmin                = "Unauthorised. User is admin."
	MsgUserIsStaffUnauthorised    = "Unauthorised. User is staff."
	MsgAlreadyInvitedAdmin        = "User has already been invited as admin."
	MsgAlreadyInvitedStaff        = "User has already been invited as staff."
	MsgPendingAdminBeforeStaff    = "User has a pending admin invitation. Delete it before inviting as staff."
	MsgPendingStaffBeforeAdmin    = "User has a pending staff invitation. Delete it before inviting as admin."
	MsgStaffBeforeAdmin           = "User is staff. Remove staff permission before inviting as admin."
	MsgAlreadyStaff               = "User is already staff."
	MsgFacultyBeforeInvite        = "User is faculty. Remove faculty permission before inviting."
	MsgPendingFacultyBeforeInvite = "User has a pending faculty permission. Delete it before inviting."
	MsgPendingAdmin               = "User has a pending admin invitation."
	MsgPendingStaff               = "User has a pending staff invitation."
	MsgStaffBeforeFaculty         = "User is staff. Remove staff permission before adding as faculty."
	MsgAlreadyFaculty             = "User is already faculty."
	MsgPendingFaculty             = "User has a pending faculty permission."
)

// inviteConflict returns why existing blocks inviting its invitee as
// requested by an inviter holding inviterRole.
func inviteConflict(existing *InstitutePermission, requested, inviterRole auth.Role) string {
	if requested == auth.RoleFaculty {
		return facultyInviteConflict(existing, inviterRole)
	}

	switch existing.Role {
	case auth.RoleAdmin:
		if existing.Active {
			return MsgUserIsAdmin
		}
		if requested == auth.RoleAdmin {
			return MsgAlreadyInvitedAdmin
		}
		return MsgPendingAdminBeforeStaff
	case auth.RoleStaff:
		switch {
		case existing.Active && requested == auth.RoleAdmin:
			return MsgStaffBeforeAdmin
		case existing.Active:
			return MsgAlreadyStaff
		case requested == auth.RoleAdmin:
			return MsgPendingStaffBeforeAdmin
		default:
			return MsgAlreadyInvitedStaff
		}
	default:
		if existing.Active {
			return MsgFacultyBeforeInvite
		}
		return MsgPendingFacultyBeforeInvite
	}
}

func facultyInviteConflict(existing *InstitutePermission, inviterRole auth.Role) string {
	switch existing.Role {
	case auth.RoleAdmin:
		if existing.Active {
			return MsgUserIsAdmin
		}
		return MsgPendingAdmin
	case auth.RoleStaff:
		switch {
		case !existing.Active:
			return MsgPendingStaff
		case inviterRole == auth.RoleAdmin:
			return MsgStaffBeforeFaculty
		default:
			return MsgUserIsStaffUnauthorised
		}
	default:
		if existing.Active {
			return MsgAlreadyFaculty
		}
		return MsgPendingFaculty
	}
}
