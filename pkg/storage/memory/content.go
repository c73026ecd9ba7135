package memory

import (
	"context"
	"sort"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/content"
)

var _ content.Store = (*Store)(nil)

func (s *Store) CreateMaterial(ctx context.Context, m *content.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	cp := *m
	s.materials[m.ID] = &cp
	return nil
}

func (s *Store) GetMaterial(ctx context.Context, id int64) (*content.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.materials[id]
	if !ok {
		return nil, apperr.NotFound("material")
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListMaterials(ctx context.Context, subjectID int64) ([]*content.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*content.Material
	for _, m := range s.materials {
		if m.SubjectID == subjectID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteMaterial(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.materials[id]; !ok {
		return false, nil
	}
	delete(s.materials, id)
	return true, nil
}
