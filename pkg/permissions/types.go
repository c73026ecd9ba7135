package permissions

import (
	"context"

	"github.com/platinummonkey/lectern/pkg/auth"
)

// ScopeKind is a level of the institute hierarchy
type ScopeKind string

const (
	ScopeInstitute ScopeKind = "institute"
	ScopeClass     ScopeKind = "class"
	ScopeSubject   ScopeKind = "subject"
	ScopeSection   ScopeKind = "section"
)

// Valid reports whether k is a known scope kind
func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeInstitute, ScopeClass, ScopeSubject, ScopeSection:
		return true
	default:
		return false
	}
}

// Grantable reports whether in-charge grants exist at this level
func (k ScopeKind) Grantable() bool {
	return k == ScopeClass || k == ScopeSubject || k == ScopeSection
}

// Scope is a resolved node of the hierarchy. ClassID is the owning class for
// subjects and sections and equals EntityID for classes.
type Scope struct {
	Kind        ScopeKind `json:"kind"`
	InstituteID int64     `json:"institute_id"`
	ClassID     int64     `json:"class_id,omitempty"`
	EntityID    int64     `json:"entity_id"`
}

// InstituteScope addresses the institute itself
func InstituteScope(instituteID int64) Scope {
	return Scope{Kind: ScopeInstitute, InstituteID: instituteID, EntityID: instituteID}
}

// ClassScope addresses a class
func ClassScope(instituteID, classID int64) Scope {
	return Scope{Kind: ScopeClass, InstituteID: instituteID, ClassID: classID, EntityID: classID}
}

// SubjectScope addresses a subject under classID
func SubjectScope(instituteID, classID, subjectID int64) Scope {
	return Scope{Kind: ScopeSubject, InstituteID: instituteID, ClassID: classID, EntityID: subjectID}
}

// SectionScope addresses a section under classID
func SectionScope(instituteID, classID, sectionID int64) Scope {
	return Scope{Kind: ScopeSection, InstituteID: instituteID, ClassID: classID, EntityID: sectionID}
}

// Action is what a principal wants to do at a scope
type Action string

const (
	ActionView          Action = "view"
	ActionEdit          Action = "edit"
	ActionEditStudents  Action = "edit_students"
	ActionManageMembers Action = "manage_members"
	ActionManageLicense Action = "manage_license"
)

// adminOnly reports whether only an institute admin may perform a
func (a Action) adminOnly() bool {
	return a == ActionManageMembers || a == ActionManageLicense
}

// InstitutePermission is a role grant. Active is false while the invitation
// is pending.
type InstitutePermission struct {
	ID                int64     `json:"id"`
	InstituteID       int64     `json:"institute_id"`
	InviterID         string    `json:"inviter"`
	InviteeID         string    `json:"invitee"`
	Role              auth.Role `json:"role"`
	Active            bool      `json:"active"`
	RequestDate       int64     `json:"request_date"`
	RequestAcceptedOn int64     `json:"request_accepted_on,omitempty"`
}

// ScopePermission makes InviteeID in-charge of one hierarchy node
type ScopePermission struct {
	ID          int64     `json:"id"`
	Kind        ScopeKind `json:"kind"`
	InstituteID int64     `json:"institute_id"`
	EntityID    int64     `json:"entity_id"`
	InviterID   string    `json:"inviter"`
	InviteeID   string    `json:"invitee"`
	CreatedOn   int64     `json:"created_on"`
}

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Store persists role and scope grants
type Store interface {
	// CreateInstitutePermission returns a Conflict error when the invitee
	// already has a row for the institute.
	CreateInstitutePermission(ctx context.Context, perm *InstitutePermission) error
	// GetInstitutePermission returns a NotFound error when there is no row
	GetInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (*InstitutePermission, error)
	// ActivateInstitutePermission reports false when the row is missing or already active
	ActivateInstitutePermission(ctx context.Context, instituteID int64, inviteeID string, acceptedOn int64) (bool, error)
	DeleteInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (bool, error)
	// ListInstitutePermissions filters by role unless role is empty
	ListInstitutePermissions(ctx context.Context, instituteID int64, role auth.Role) ([]*InstitutePermission, error)

	// CreateScopePermission returns a Conflict error for a duplicate grant
	CreateScopePermission(ctx context.Context, perm *ScopePermission) error
	// FindScopePermission returns nil when there is no grant
	FindScopePermission(ctx context.Context, kind ScopeKind, entityID int64, inviteeID string) (*ScopePermission, error)
	DeleteScopePermission(ctx context.Context, kind ScopeKind, entityID int64, inviteeID string) (bool, error)
	ListScopePermissions(ctx context.Context, kind ScopeKind, entityID int64) ([]*ScopePermission, error)
	DeleteScopePermissionsForInvitee(ctx context.Context, instituteID int64, inviteeID string) (int64, error)
}

// SeatTracker keeps role seat counters in step with invitations
type SeatTracker interface {
	ReserveRole(ctx context.Context, instituteID int64, role auth.Role) error
	ReleaseRole(ctx context.Context, instituteID int64, role auth.Role) error
	AdjustRoleCount(ctx context.Context, instituteID int64, role auth.Role, delta int) error
}
