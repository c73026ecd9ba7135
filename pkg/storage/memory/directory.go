package memory

import (
	"context"
	"time"

	"github.com/platinummonkey/lectern/pkg/auth"
)

var _ auth.Directory = (*Store)(nil)

// AddPrincipal registers a principal
func (s *Store) AddPrincipal(p *auth.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.principals[p.ID] = &cp
}

// AddToken registers a bearer token hash for a principal
func (s *Store) AddToken(principalID, tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenHash] = principalID
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, auth.ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) LookupByTokenHash(ctx context.Context, tokenHash string) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[tokenHash]
	if !ok {
		return nil, auth.ErrPrincipalNotFound
	}
	p, ok := s.principals[id]
	if !ok {
		return nil, auth.ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}
