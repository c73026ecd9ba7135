package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/permissions"
)

const institutePermissionColumns = "id, institute_id, inviter_id, invitee_id, role, active, request_date, request_accepted_on"

func scanInstitutePermission(row interface{ Scan(...interface{}) error }) (*permissions.InstitutePermission, error) {
	var p permissions.InstitutePermission
	err := row.Scan(&p.ID, &p.InstituteID, &p.InviterID, &p.InviteeID, &p.Role, &p.Active, &p.RequestDate, &p.RequestAcceptedOn)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateInstitutePermission(ctx context.Context, perm *permissions.InstitutePermission) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO institute_permissions (institute_id, inviter_id, invitee_id, role, active, request_date, request_accepted_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, perm.InstituteID, perm.InviterID, perm.InviteeID, perm.Role, perm.Active, perm.RequestDate, perm.RequestAcceptedOn).Scan(&perm.ID)
	if err != nil {
		return conflictOr(err, "institute permission already exists")
	}
	return nil
}

func (s *Store) GetInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (*permissions.InstitutePermission, error) {
	p, err := scanInstitutePermission(s.db.QueryRowContext(ctx,
		"SELECT "+institutePermissionColumns+" FROM institute_permissions WHERE institute_id = $1 AND invitee_id = $2",
		instituteID, inviteeID))
	if err != nil {
		return nil, notFoundOr(err, "institute permission")
	}
	return p, nil
}

func (s *Store) ActivateInstitutePermission(ctx context.Context, instituteID int64, inviteeID string, acceptedOn int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE institute_permissions SET active = TRUE, request_accepted_on = $3
		WHERE institute_id = $1 AND invitee_id = $2 AND NOT active
	`, instituteID, inviteeID, acceptedOn)
	if err != nil {
		return false, fmt.Errorf("failed to activate institute permission: %w", err)
	}
	return affected(res)
}

func (s *Store) DeleteInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM institute_permissions WHERE institute_id = $1 AND invitee_id = $2", instituteID, inviteeID)
	if err != nil {
		return false, fmt.Errorf("failed to delete institute permission: %w", err)
	}
	return affected(res)
}

func (s *Store) ListInstitutePermissions(ctx context.Context, instituteID int64, role auth.Role) ([]*permissions.InstitutePermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+institutePermissionColumns+` FROM institute_permissions
		WHERE institute_id = $1 AND ($2 = '' OR role = $2)
		ORDER BY id
	`, instituteID, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list institute permissions: %w", err)
	}
	defer rows.Close()

	var out []*permissions.InstitutePermission
	for rows.Next() {
		p, err := scanInstitutePermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan institute permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const scopePermissionColumns = "id, kind, institute_id, entity_id, inviter_id, invitee_id, created_on"

func scanScopePermission(row interface{ Scan(...interface{}) error }) (*permissions.ScopePermission, error) {
	var p permissions.ScopePermission
	if err := row.Scan(&p.ID, &p.Kind, &p.InstituteID, &p.EntityID, &p.InviterID, &p.InviteeID, &p.CreatedOn); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateScopePermission(ctx context.Context, perm *permissions.ScopePermission) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scope_permissions (kind, institute_id, entity_id, inviter_id, invitee_id, created_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, perm.Kind, perm.InstituteID, perm.EntityID, perm.InviterID, perm.InviteeID, perm.CreatedOn).Scan(&perm.ID)
	if err != nil {
		return conflictOr(err, "scope permission already exists")
	}
	return nil
}

func (s *Store) FindScopePermission(ctx context.Context, kind permissions.ScopeKind, entityID int64, inviteeID string) (*permissions.ScopePermission, error) {
	p, err := scanScopePermission(s.db.QueryRowContext(ctx,
		"SELECT "+scopePermissionColumns+" FROM scope_permissions WHERE kind = $1 AND entity_id = $2 AND invitee_id = $3",
		kind, entityID, inviteeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find scope permission: %w", err)
	}
	return p, nil
}

func (s *Store) DeleteScopePermission(ctx context.Context, kind permissions.ScopeKind, entityID int64, inviteeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM scope_permissions WHERE kind = $1 AND entity_id = $2 AND invitee_id = $3", kind, entityID, inviteeID)
	if err != nil {
		return false, fmt.Errorf("failed to delete scope permission: %w", err)
	}
	return affected(res)
}

func (s *Store) ListScopePermissions(ctx context.Context, kind permissions.ScopeKind, entityID int64) ([]*permissions.ScopePermission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+scopePermissionColumns+" FROM scope_permissions WHERE kind = $1 AND entity_id = $2 ORDER BY id",
		kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scope permissions: %w", err)
	}
	defer rows.Close()

	var out []*permissions.ScopePermission
	for rows.Next() {
		p, err := scanScopePermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scope permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteScopePermissionsForInvitee(ctx context.Context, instituteID int64, inviteeID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM scope_permissions WHERE institute_id = $1 AND invitee_id = $2", instituteID, inviteeID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete scope permissions: %w", err)
	}
	return res.RowsAffected()
}
