package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// AuthMiddleware resolves the bearer token to a principal
type AuthMiddleware struct {
	directory auth.Directory
	optional  bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(directory auth.Directory, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		directory: directory,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.directory.LookupByTokenHash(r.Context(), auth.HashToken(parts[1]))
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("principal lookup failed")
			httputil.WriteServiceUnavailable(w, "authentication unavailable")
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		logger := observability.FromContext(ctx).WithField("principal_id", principal.ID)
		ctx = observability.WithLogger(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal extracts the authenticated principal from request
func GetPrincipal(r *http.Request) *auth.Principal {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return nil
	}
	return p
}

// RequirePrincipal rejects requests that reached it without a principal
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
