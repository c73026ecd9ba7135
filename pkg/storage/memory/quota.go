package memory

import (
	"context"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/quota"
)

var _ quota.Store = (*Store)(nil)

func (s *Store) InitInstituteStatistics(ctx context.Context, instituteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instituteStats[instituteID]; !ok {
		s.instituteStats[instituteID] = &quota.InstituteStatistics{InstituteID: instituteID}
	}
	return nil
}

func (s *Store) GetInstituteStatistics(ctx context.Context, instituteID int64) (*quota.InstituteStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.instituteStats[instituteID]
	if !ok {
		return nil, apperr.NotFound("institute statistics")
	}
	cp := *stats
	return &cp, nil
}

func (s *Store) AddStorage(ctx context.Context, instituteID, subjectID int64, deltaGB float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.instituteStats[instituteID]
	if !ok {
		return apperr.NotFound("institute statistics")
	}
	stats.Storage = quota.RoundGB(stats.Storage + deltaGB)
	if subjectID != 0 {
		s.subjectStorage[subjectID] = quota.RoundGB(s.subjectStorage[subjectID] + deltaGB)
	}
	return nil
}

func (s *Store) AddRoleCount(ctx context.Context, instituteID int64, role auth.Role, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.instituteStats[instituteID]
	if !ok {
		return apperr.NotFound("institute statistics")
	}
	switch role {
	case auth.RoleAdmin:
		stats.NoOfAdmins += delta
	case auth.RoleStaff:
		stats.NoOfStaffs += delta
	case auth.RoleFaculty:
		stats.NoOfFaculties += delta
	default:
		return apperr.Validation("role", "Invalid role.")
	}
	return nil
}

func (s *Store) AddClassCount(ctx context.Context, instituteID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.instituteStats[instituteID]
	if !ok {
		return apperr.NotFound("institute statistics")
	}
	stats.ClassCount += delta
	return nil
}

func (s *Store) GetSubjectStorage(ctx context.Context, subjectID int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subjectStorage[subjectID], nil
}
