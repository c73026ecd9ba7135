package auth

import (
	"context"
	"errors"
	"time"
)

// ErrPrincipalNotFound is returned by a Directory when no principal matches
var ErrPrincipalNotFound = errors.New("principal not found")

// Principal is an authenticated caller
type Principal struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsTeacher bool      `json:"is_teacher"`
	IsStudent bool      `json:"is_student"`
	CreatedAt time.Time `json:"created_at"`
}

// PrincipalToken is a stored bearer token credential
type PrincipalToken struct {
	ID          int64      `json:"id"`
	PrincipalID string     `json:"principal_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsExpired reports whether the token has expired at now
func (t *PrincipalToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Directory resolves principals
type Directory interface {
	// GetPrincipal returns the principal with the given id or ErrPrincipalNotFound
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	// LookupByTokenHash resolves a principal from a stored token hash
	LookupByTokenHash(ctx context.Context, tokenHash string) (*Principal, error)
}

// Role is an institute-wide role, ordered FACULTY < STAFF < ADMIN
type Role string

const (
	RoleFaculty Role = "FACULTY"
	RoleStaff   Role = "STAFF"
	RoleAdmin   Role = "ADMIN"
)

// Roles lists every role from least to most privileged
var Roles = []Role{RoleFaculty, RoleStaff, RoleAdmin}

// Rank orders roles; unknown roles rank 0
func (r Role) Rank() int {
	switch r {
	case RoleFaculty:
		return 1
	case RoleStaff:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r is at least as privileged as other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}
