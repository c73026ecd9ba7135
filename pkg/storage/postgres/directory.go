package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/lectern/pkg/auth"
)

// UpsertPrincipal inserts or updates a principal
func (s *Store) UpsertPrincipal(ctx context.Context, p *auth.Principal) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (id, name, is_teacher, is_student, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, is_teacher = EXCLUDED.is_teacher, is_student = EXCLUDED.is_student
	`, p.ID, p.Name, p.IsTeacher, p.IsStudent, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert principal: %w", err)
	}
	return nil
}

// CreateToken stores a hashed bearer token for a principal
func (s *Store) CreateToken(ctx context.Context, token *auth.PrincipalToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO principal_tokens (principal_id, token_hash, token_prefix, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, token.PrincipalID, token.TokenHash, token.TokenPrefix, token.ExpiresAt, token.CreatedAt).Scan(&token.ID)
	if err != nil {
		return conflictOr(err, "token already exists")
	}
	return nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	var p auth.Principal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_teacher, is_student, created_at
		FROM principals WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.IsTeacher, &p.IsStudent, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return &p, nil
}

// LookupByTokenHash ignores expired tokens
func (s *Store) LookupByTokenHash(ctx context.Context, tokenHash string) (*auth.Principal, error) {
	var p auth.Principal
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.is_teacher, p.is_student, p.created_at
		FROM principal_tokens t
		JOIN principals p ON p.id = t.principal_id
		WHERE t.token_hash = $1 AND (t.expires_at IS NULL OR t.expires_at > NOW())
	`, tokenHash).Scan(&p.ID, &p.Name, &p.IsTeacher, &p.IsStudent, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return &p, nil
}
