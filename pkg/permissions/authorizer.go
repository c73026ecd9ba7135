package permissions

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// Denial reasons
const (
	ReasonNotMember   = "User is not an active member of this institute."
	ReasonAdminOnly   = "Only institute admins can perform this action."
	ReasonStaffOnly   = "Only institute admins or staff can perform this action."
	ReasonNotInCharge = "User is not in-charge of this scope."
)

// Authorizer resolves actions against the permission lattice
type Authorizer struct {
	store   Store
	metrics *observability.Metrics
}

// NewAuthorizer creates an authorizer over store
func NewAuthorizer(store Store, metrics *observability.Metrics) *Authorizer {
	return &Authorizer{store: store, metrics: metrics}
}

// Membership returns the principal's active institute permission, or nil
func (a *Authorizer) Membership(ctx context.Context, instituteID int64, principalID string) (*InstitutePermission, error) {
	perm, err := a.store.GetInstitutePermission(ctx, instituteID, principalID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get institute permission: %w", err)
	}
	if !perm.Active {
		return nil, nil
	}
	return perm, nil
}

// Authorize decides whether principalID may perform action at scope
func (a *Authorizer) Authorize(ctx context.Context, principalID string, scope Scope, action Action) (*Decision, error) {
	_, span := observability.Tracer().Start(ctx, "permissions.Authorize", trace.WithAttributes(
		attribute.String("scope.kind", string(scope.Kind)),
		attribute.Int64("scope.entity_id", scope.EntityID),
		attribute.String("action", string(action)),
	))
	defer span.End()

	decision, err := a.resolve(ctx, principalID, scope, action)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("allowed", decision.Allowed))
	a.metrics.RecordAuthorization(string(action), string(scope.Kind), decision.Allowed)
	return decision, nil
}

func (a *Authorizer) resolve(ctx context.Context, principalID string, scope Scope, action Action) (*Decision, error) {
	if !scope.Kind.Valid() {
		return nil, fmt.Errorf("unknown scope kind %q", scope.Kind)
	}

	member, err := a.Membership(ctx, scope.InstituteID, principalID)
	if err != nil {
		return nil, err
	}
	if member != nil && member.Role == auth.RoleAdmin {
		return &Decision{Allowed: true, Reason: "admin"}, nil
	}

	if action.adminOnly() {
		return deny(ReasonAdminOnly), nil
	}
	if action == ActionEditStudents {
		if member != nil && member.Role == auth.RoleStaff {
			return &Decision{Allowed: true, Reason: "staff"}, nil
		}
		return deny(ReasonStaffOnly), nil
	}

	if scope.Kind != ScopeInstitute {
		grant, err := a.store.FindScopePermission(ctx, scope.Kind, scope.EntityID, principalID)
		if err != nil {
			return nil, fmt.Errorf("failed to get scope permission: %w", err)
		}
		if grant != nil {
			return &Decision{Allowed: true, Reason: string(scope.Kind) + " in-charge"}, nil
		}
		if (scope.Kind == ScopeSubject || scope.Kind == ScopeSection) && scope.ClassID != 0 {
			grant, err := a.store.FindScopePermission(ctx, ScopeClass, scope.ClassID, principalID)
			if err != nil {
				return nil, fmt.Errorf("failed to get class permission: %w", err)
			}
			if grant != nil {
				return &Decision{Allowed: true, Reason: "class in-charge"}, nil
			}
		}
		return deny(ReasonNotInCharge), nil
	}

	if action == ActionView && member != nil {
		return &Decision{Allowed: true, Reason: "member"}, nil
	}
	if member == nil {
		return deny(ReasonNotMember), nil
	}
	return deny(ReasonAdminOnly), nil
}

func deny(reason string) *Decision {
	return &Decision{Allowed: false, Reason: reason}
}

// Require turns a denial into a PermissionDenied error
func (a *Authorizer) Require(ctx context.Context, principalID string, scope Scope, action Action) error {
	decision, err := a.Authorize(ctx, principalID, scope, action)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return apperr.PermissionDenied(decision.Reason)
	}
	return nil
}

// RequireAdmin fails unless principalID is an active admin of the institute
func (a *Authorizer) RequireAdmin(ctx context.Context, instituteID int64, principalID string) error {
	return a.Require(ctx, principalID, InstituteScope(instituteID), ActionManageLicense)
}

// RequireMember fails unless principalID is an active member of the institute
func (a *Authorizer) RequireMember(ctx context.Context, instituteID int64, principalID string) error {
	return a.Require(ctx, principalID, InstituteScope(instituteID), ActionView)
}
