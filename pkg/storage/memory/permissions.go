package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/permissions"
)

var _ permissions.Store = (*Store)(nil)

func institutePermKey(instituteID int64, inviteeID string) string {
	return fmt.Sprintf("%d/%s", instituteID, inviteeID)
}

func scopePermKey(kind permissions.ScopeKind, entityID int64, inviteeID string) string {
	return fmt.Sprintf("%s/%d/%s", kind, entityID, inviteeID)
}

func (s *Store) CreateInstitutePermission(ctx context.Context, perm *permissions.InstitutePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := institutePermKey(perm.InstituteID, perm.InviteeID)
	if _, ok := s.institutePerms[key]; ok {
		return apperr.Conflict("institute permission already exists")
	}
	perm.ID = s.id()
	cp := *perm
	s.institutePerms[key] = &cp
	return nil
}

func (s *Store) GetInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (*permissions.InstitutePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.institutePerms[institutePermKey(instituteID, inviteeID)]
	if !ok {
		return nil, apperr.NotFound("institute permission")
	}
	cp := *perm
	return &cp, nil
}

func (s *Store) ActivateInstitutePermission(ctx context.Context, instituteID int64, inviteeID string, acceptedOn int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.institutePerms[institutePermKey(instituteID, inviteeID)]
	if !ok || perm.Active {
		return false, nil
	}
	perm.Active = true
	perm.RequestAcceptedOn = acceptedOn
	return true, nil
}

func (s *Store) DeleteInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := institutePermKey(instituteID, inviteeID)
	if _, ok := s.institutePerms[key]; !ok {
		return false, nil
	}
	delete(s.institutePerms, key)
	return true, nil
}

func (s *Store) ListInstitutePermissions(ctx context.Context, instituteID int64, role auth.Role) ([]*permissions.InstitutePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*permissions.InstitutePermission
	for _, perm := range s.institutePerms {
		if perm.InstituteID == instituteID && (role == "" || perm.Role == role) {
			cp := *perm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateScopePermission(ctx context.Context, perm *permissions.ScopePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopePermKey(perm.Kind, perm.EntityID, perm.InviteeID)
	if _, ok := s.scopePerms[key]; ok {
		return apperr.Conflict("scope permission already exists")
	}
	perm.ID = s.id()
	cp := *perm
	s.scopePerms[key] = &cp
	return nil
}

func (s *Store) FindScopePermission(ctx context.Context, kind permissions.ScopeKind, entityID int64, inviteeID string) (*permissions.ScopePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.scopePerms[scopePermKey(kind, entityID, inviteeID)]
	if !ok {
		return nil, nil
	}
	cp := *perm
	return &cp, nil
}

func (s *Store) DeleteScopePermission(ctx context.Context, kind permissions.ScopeKind, entityID int64, inviteeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopePermKey(kind, entityID, inviteeID)
	if _, ok := s.scopePerms[key]; !ok {
		return false, nil
	}
	delete(s.scopePerms, key)
	return true, nil
}

func (s *Store) ListScopePermissions(ctx context.Context, kind permissions.ScopeKind, entityID int64) ([]*permissions.ScopePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*permissions.ScopePermission
	for _, perm := range s.scopePerms {
		if perm.Kind == kind && perm.EntityID == entityID {
			cp := *perm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteScopePermissionsForInvitee(ctx context.Context, instituteID int64, inviteeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, perm := range s.scopePerms {
		if perm.InstituteID == instituteID && perm.InviteeID == inviteeID {
			delete(s.scopePerms, key)
			n++
		}
	}
	return n, nil
}

// deleteScopePermissionsFor drops grants on a deleted entity; callers hold mu
func (s *Store) deleteScopePermissionsFor(kind permissions.ScopeKind, entityID int64) {
	for key, perm := range s.scopePerms {
		if perm.Kind == kind && perm.EntityID == entityID {
			delete(s.scopePerms, key)
		}
	}
}
