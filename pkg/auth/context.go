package auth

import (
	"context"

	"github.com/platinummonkey/lectern/pkg/contextkeys"
)

// WithPrincipal stores the authenticated principal in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextkeys.PrincipalKey, p)
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}
