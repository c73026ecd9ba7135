package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// Service runs the invitation state machine and scope grants
type Service struct {
	store     Store
	authz     *Authorizer
	seats     SeatTracker
	directory auth.Directory
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables invitation metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a permission service. store should be the same store
// the authorizer reads so that cache invalidation applies.
func NewService(store Store, authz *Authorizer, seats SeatTracker, directory auth.Directory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		authz:     authz,
		seats:     seats,
		directory: directory,
		logger:    observability.NewNopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorizer returns the authorizer the service checks against
func (s *Service) Authorizer() *Authorizer {
	return s.authz
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Bootstrap makes ownerID the first active admin of a new institute. The
// owner's seat is counted without a quota check since no license exists yet.
func (s *Service) Bootstrap(ctx context.Context, instituteID int64, ownerID string) (*InstitutePermission, error) {
	now := s.nowMillis()
	perm := &InstitutePermission{
		InstituteID:       instituteID,
		InviterID:         ownerID,
		InviteeID:         ownerID,
		Role:              auth.RoleAdmin,
		Active:            true,
		RequestDate:       now,
		RequestAcceptedOn: now,
	}
	if err := s.store.CreateInstitutePermission(ctx, perm); err != nil {
		return nil, fmt.Errorf("failed to create owner permission: %w", err)
	}
	if err := s.seats.AdjustRoleCount(ctx, instituteID, auth.RoleAdmin, 1); err != nil {
		return nil, err
	}
	return perm, nil
}

// Invite grants role to inviteeID. Admin and staff invitations stay pending
// until accepted; faculty invitations are accepted immediately. The invitee
// takes a seat as soon as the row exists.
func (s *Service) Invite(ctx context.Context, instituteID int64, inviterID, inviteeID string, role auth.Role) (*InstitutePermission, error) {
	if !role.Valid() {
		return nil, apperr.Validation("role", "Invalid role.")
	}

	inviter, err := s.authz.Membership(ctx, instituteID, inviterID)
	if err != nil {
		return nil, err
	}
	switch {
	case inviter == nil:
		return nil, apperr.PermissionDenied(ReasonNotMember)
	case role == auth.RoleFaculty && !inviter.Role.AtLeast(auth.RoleStaff):
		return nil, apperr.PermissionDenied(ReasonStaffOnly)
	case role != auth.RoleFaculty && inviter.Role != auth.RoleAdmin:
		return nil, apperr.PermissionDenied(ReasonAdminOnly)
	}

	invitee, err := s.directory.GetPrincipal(ctx, inviteeID)
	if err != nil {
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("failed to get invitee: %w", err)
	}
	if !invitee.IsTeacher {
		return nil, apperr.Validation("invitee", "Only teachers can be added to an institute.")
	}

	existing, err := s.store.GetInstitutePermission(ctx, instituteID, inviteeID)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get institute permission: %w", err)
	}
	if existing != nil {
		msg := inviteConflict(existing, role, inviter.Role)
		s.metrics.RecordInvitation(string(role), "conflict")
		return nil, apperr.Conflict(msg)
	}

	if err := s.seats.ReserveRole(ctx, instituteID, role); err != nil {
		s.metrics.RecordInvitation(string(role), "quota_exceeded")
		return nil, err
	}

	now := s.nowMillis()
	perm := &InstitutePermission{
		InstituteID: instituteID,
		InviterID:   inviterID,
		InviteeID:   inviteeID,
		Role:        role,
		RequestDate: now,
	}
	if role == auth.RoleFaculty {
		perm.Active = true
		perm.RequestAcceptedOn = now
	}
	if err := s.store.CreateInstitutePermission(ctx, perm); err != nil {
		if rerr := s.seats.ReleaseRole(ctx, instituteID, role); rerr != nil {
			s.logger.WithError(rerr).Error("failed to release seat after invitation failure")
		}
		if apperr.IsConflict(err) {
			// lost a race with a concurrent invite for the same user
			return nil, apperr.Conflict("User has already been invited.")
		}
		return nil, fmt.Errorf("failed to create institute permission: %w", err)
	}

	s.metrics.RecordInvitation(string(role), "created")
	s.logger.WithFields(map[string]interface{}{
		"institute_id": instituteID,
		"inviter":      inviterID,
		"invitee":      inviteeID,
		"role":         role,
		"active":       perm.Active,
	}).Info("institute permission created")
	return perm, nil
}

// Accept activates the caller's pending invitation
func (s *Service) Accept(ctx context.Context, instituteID int64, inviteeID string) (*InstitutePermission, error) {
	perm, err := s.store.GetInstitutePermission(ctx, instituteID, inviteeID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("invitation")
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if perm.Active {
		return nil, apperr.Conflict("Invitation already accepted.")
	}

	now := s.nowMillis()
	ok, err := s.store.ActivateInstitutePermission(ctx, instituteID, inviteeID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("Invitation already accepted.")
	}

	perm.Active = true
	perm.RequestAcceptedOn = now
	s.metrics.RecordInvitation(string(perm.Role), "accepted")
	s.logger.WithFields(map[string]interface{}{
		"institute_id": instituteID,
		"invitee":      inviteeID,
		"role":         perm.Role,
	}).Info("invitation accepted")
	return perm, nil
}

// Revoke removes an institute permission. With an empty targetID, or one
// equal to actorID, the caller leaves the institute (which also declines a
// pending invitation). Otherwise the actor must be an active admin and the
// target anything but another active admin.
func (s *Service) Revoke(ctx context.Context, instituteID int64, actorID, targetID string) error {
	if targetID == "" || targetID == actorID {
		perm, err := s.store.GetInstitutePermission(ctx, instituteID, actorID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return apperr.NotFound("institute permission")
			}
			return fmt.Errorf("failed to get institute permission: %w", err)
		}
		return s.remove(ctx, perm, actorID)
	}

	actor, err := s.authz.Membership(ctx, instituteID, actorID)
	if err != nil {
		return err
	}
	if actor == nil || actor.Role != auth.RoleAdmin {
		return apperr.PermissionDenied("Only an active admin can remove users.")
	}

	target, err := s.store.GetInstitutePermission(ctx, instituteID, targetID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.NotFound("institute permission")
		}
		return fmt.Errorf("failed to get institute permission: %w", err)
	}
	if target.Role == auth.RoleAdmin && target.Active {
		return apperr.PermissionDenied("Unauthorised. Admin permission can only be removed by the admin.")
	}
	return s.remove(ctx, target, actorID)
}

func (s *Service) remove(ctx context.Context, perm *InstitutePermission, actorID string) error {
	deleted, err := s.store.DeleteInstitutePermission(ctx, perm.InstituteID, perm.InviteeID)
	if err != nil {
		return fmt.Errorf("failed to delete institute permission: %w", err)
	}
	if !deleted {
		// a concurrent revoke already released the seat
		return nil
	}
	if err := s.seats.ReleaseRole(ctx, perm.InstituteID, perm.Role); err != nil {
		return err
	}
	cleared, err := s.store.DeleteScopePermissionsForInvitee(ctx, perm.InstituteID, perm.InviteeID)
	if err != nil {
		return fmt.Errorf("failed to delete scope permissions: %w", err)
	}

	s.metrics.RecordInvitation(string(perm.Role), "revoked")
	s.logger.WithFields(map[string]interface{}{
		"institute_id":      perm.InstituteID,
		"actor":             actorID,
		"invitee":           perm.InviteeID,
		"role":              perm.Role,
		"scope_grants_gone": cleared,
	}).Info("institute permission revoked")
	return nil
}

// ListMembers lists the institute's permissions, optionally for one role.
// Any active member may list.
func (s *Service) ListMembers(ctx context.Context, instituteID int64, principalID string, role auth.Role) ([]*InstitutePermission, error) {
	if role != "" && !role.Valid() {
		return nil, apperr.Validation("role", "Invalid role.")
	}
	if err := s.authz.RequireMember(ctx, instituteID, principalID); err != nil {
		return nil, err
	}
	perms, err := s.store.ListInstitutePermissions(ctx, instituteID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list institute permissions: %w", err)
	}
	return perms, nil
}

// GrantScopePermission makes inviteeID in-charge of scope
func (s *Service) GrantScopePermission(ctx context.Context, scope Scope, inviterID, inviteeID string) (*ScopePermission, error) {
	if !scope.Kind.Grantable() {
		return nil, apperr.Validation("scope", "In-charge can only be assigned to a class, subject or section.")
	}
	if err := s.authz.RequireAdmin(ctx, scope.InstituteID, inviterID); err != nil {
		return nil, err
	}

	invitee, err := s.authz.Membership(ctx, scope.InstituteID, inviteeID)
	if err != nil {
		return nil, err
	}
	if invitee == nil {
		return nil, apperr.Validation("invitee", ReasonNotMember)
	}
	if invitee.Role == auth.RoleFaculty {
		return nil, apperr.Validation("invitee", "Faculty cannot be assigned as in-charge.")
	}

	perm := &ScopePermission{
		Kind:        scope.Kind,
		InstituteID: scope.InstituteID,
		EntityID:    scope.EntityID,
		InviterID:   inviterID,
		InviteeID:   inviteeID,
		CreatedOn:   s.nowMillis(),
	}
	if err := s.store.CreateScopePermission(ctx, perm); err != nil {
		if apperr.IsConflict(err) {
			return nil, apperr.Conflict("User is already in-charge.")
		}
		return nil, fmt.Errorf("failed to create scope permission: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"institute_id": scope.InstituteID,
		"scope":        scope.Kind,
		"entity_id":    scope.EntityID,
		"invitee":      inviteeID,
	}).Info("scope permission granted")
	return perm, nil
}

// RevokeScopePermission removes an in-charge grant. Admin only.
func (s *Service) RevokeScopePermission(ctx context.Context, scope Scope, actorID, inviteeID string) error {
	if !scope.Kind.Grantable() {
		return apperr.Validation("scope", "In-charge can only be assigned to a class, subject or section.")
	}
	if err := s.authz.RequireAdmin(ctx, scope.InstituteID, actorID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteScopePermission(ctx, scope.Kind, scope.EntityID, inviteeID)
	if err != nil {
		return fmt.Errorf("failed to delete scope permission: %w", err)
	}
	if !deleted {
		return apperr.NotFound("scope permission")
	}
	return nil
}

// ListScopePermissions lists the in-charges of scope for any active member
func (s *Service) ListScopePermissions(ctx context.Context, scope Scope, principalID string) ([]*ScopePermission, error) {
	if !scope.Kind.Grantable() {
		return nil, apperr.Validation("scope", "In-charge can only be assigned to a class, subject or section.")
	}
	if err := s.authz.RequireMember(ctx, scope.InstituteID, principalID); err != nil {
		return nil, err
	}
	perms, err := s.store.ListScopePermissions(ctx, scope.Kind, scope.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scope permissions: %w", err)
	}
	return perms, nil
}

// HasScopePermission reports whether principalID may edit at scope
func (s *Service) HasScopePermission(ctx context.Context, scope Scope, principalID string) (bool, error) {
	decision, err := s.authz.Authorize(ctx, principalID, scope, ActionEdit)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}
