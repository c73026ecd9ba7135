package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/permissions"
)

// MemberHandlers serves institute membership and in-charge grants
type MemberHandlers struct {
	permissions *permissions.Service
	institutes  *institutes.Service
}

// NewMemberHandlers creates a new MemberHandlers
func NewMemberHandlers(perms *permissions.Service, inst *institutes.Service) *MemberHandlers {
	return &MemberHandlers{permissions: perms, institutes: inst}
}

// RegisterRoutes registers membership routes
func (h *MemberHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/institutes/{institute_id:[0-9]+}/members", h.Invite).Methods(http.MethodPost)
	router.HandleFunc("/institutes/{institute_id:[0-9]+}/members", h.ListMembers).Methods(http.MethodGet)
	router.HandleFunc("/institutes/{institute_id:[0-9]+}/members/accept", h.Accept).Methods(http.MethodPost)
	router.HandleFunc("/institutes/{institute_id:[0-9]+}/members/{principal_id}", h.Revoke).Methods(http.MethodDelete)

	router.HandleFunc("/scopes/{kind}/{scope_id:[0-9]+}/permissions", h.GrantScope).Methods(http.MethodPost)
	router.HandleFunc("/scopes/{kind}/{scope_id:[0-9]+}/permissions", h.ListScope).Methods(http.MethodGet)
	router.HandleFunc("/scopes/{kind}/{scope_id:[0-9]+}/permissions/me", h.CheckScope).Methods(http.MethodGet)
	router.HandleFunc("/scopes/{kind}/{scope_id:[0-9]+}/permissions/{principal_id}", h.RevokeScope).Methods(http.MethodDelete)
}

// InviteRequest invites a principal into an institute
type InviteRequest struct {
	InviteeID string    `json:"invitee_id"`
	Role      auth.Role `json:"role"`
}

// GrantRequest makes a member in-charge of a scope
type GrantRequest struct {
	InviteeID string `json:"invitee_id"`
}

func (h *MemberHandlers) Invite(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	var req InviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.InviteeID == "" {
		httputil.WriteServiceError(w, r, apperr.Validation("invitee_id", "invitee_id is required"))
		return
	}
	perm, err := h.permissions.Invite(r.Context(), id, pid, req.InviteeID, req.Role)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, perm)
}

func (h *MemberHandlers) Accept(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	perm, err := h.permissions.Accept(r.Context(), id, pid)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perm)
}

func (h *MemberHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	target, err := httputil.ParsePathString(r, "principal_id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if err := h.permissions.Revoke(r.Context(), id, pid, target); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *MemberHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	role := auth.Role(httputil.ParseQueryString(r, "role", ""))
	perms, err := h.permissions.ListMembers(r.Context(), id, pid, role)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// scope resolves {kind}/{scope_id} against the hierarchy
func (h *MemberHandlers) scope(w http.ResponseWriter, r *http.Request) (permissions.Scope, bool) {
	kind := permissions.ScopeKind(mux.Vars(r)["kind"])
	if !kind.Valid() {
		httputil.WriteServiceError(w, r, apperr.Validation("kind", "Unknown scope."))
		return permissions.Scope{}, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "scope_id")
	if !ok {
		return permissions.Scope{}, false
	}
	scope, err := h.institutes.ResolveScope(r.Context(), kind, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return permissions.Scope{}, false
	}
	return scope, true
}

func (h *MemberHandlers) GrantScope(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	perm, err := h.permissions.GrantScopePermission(r.Context(), scope, pid, req.InviteeID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, perm)
}

func (h *MemberHandlers) ListScope(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	perms, err := h.permissions.ListScopePermissions(r.Context(), scope, pid)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

func (h *MemberHandlers) RevokeScope(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	target, err := httputil.ParsePathString(r, "principal_id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if err := h.permissions.RevokeScopePermission(r.Context(), scope, pid, target); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CheckScope reports whether the caller may edit at the scope
func (h *MemberHandlers) CheckScope(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	allowed, err := h.permissions.HasScopePermission(r.Context(), scope, pid)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"allowed": allowed})
}
