package memory

import (
	"context"
	"sort"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/permissions"
)

var _ institutes.Store = (*Store)(nil)

func (s *Store) CreateInstitute(ctx context.Context, inst *institutes.Institute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.institutes {
		if existing.Slug == inst.Slug {
			return apperr.Conflict("institute slug already exists")
		}
	}
	inst.ID = s.id()
	cp := *inst
	s.institutes[inst.ID] = &cp
	return nil
}

// DeleteInstitute removes an institute with its hierarchy, permissions and counters
func (s *Store) DeleteInstitute(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.institutes[id]; !ok {
		return false, nil
	}
	delete(s.institutes, id)
	delete(s.instituteStats, id)
	delete(s.licenseStats, id)
	for key, perm := range s.institutePerms {
		if perm.InstituteID == id {
			delete(s.institutePerms, key)
		}
	}
	for key, perm := range s.scopePerms {
		if perm.InstituteID == id {
			delete(s.scopePerms, key)
		}
	}
	for cid, class := range s.classes {
		if class.InstituteID == id {
			delete(s.classes, cid)
		}
	}
	for sid, subject := range s.subjects {
		if subject.InstituteID == id {
			delete(s.subjects, sid)
			delete(s.subjectStorage, sid)
		}
	}
	for sid, section := range s.sections {
		if section.InstituteID == id {
			delete(s.sections, sid)
		}
	}
	return true, nil
}

func (s *Store) GetInstitute(ctx context.Context, id int64) (*institutes.Institute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.institutes[id]
	if !ok {
		return nil, apperr.NotFound("institute")
	}
	cp := *inst
	return &cp, nil
}

func (s *Store) GetInstituteBySlug(ctx context.Context, slug string) (*institutes.Institute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.institutes {
		if inst.Slug == slug {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("institute")
}

func (s *Store) CreateClass(ctx context.Context, class *institutes.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.classes {
		if existing.InstituteID == class.InstituteID && existing.Slug == class.Slug {
			return apperr.Conflict("class slug already exists")
		}
	}
	class.ID = s.id()
	cp := *class
	s.classes[class.ID] = &cp
	return nil
}

func (s *Store) GetClass(ctx context.Context, id int64) (*institutes.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	class, ok := s.classes[id]
	if !ok {
		return nil, apperr.NotFound("class")
	}
	cp := *class
	return &cp, nil
}

func (s *Store) ListClasses(ctx context.Context, instituteID int64) ([]*institutes.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*institutes.Class
	for _, class := range s.classes {
		if class.InstituteID == instituteID {
			cp := *class
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteClass removes the class with its subjects, sections and their grants
func (s *Store) DeleteClass(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[id]; !ok {
		return false, nil
	}
	delete(s.classes, id)
	s.deleteScopePermissionsFor(permissions.ScopeClass, id)
	for sid, subject := range s.subjects {
		if subject.ClassID == id {
			delete(s.subjects, sid)
			s.deleteScopePermissionsFor(permissions.ScopeSubject, sid)
		}
	}
	for sid, section := range s.sections {
		if section.ClassID == id {
			delete(s.sections, sid)
			s.deleteScopePermissionsFor(permissions.ScopeSection, sid)
		}
	}
	return true, nil
}

func (s *Store) CreateSubject(ctx context.Context, subject *institutes.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subjects {
		if existing.ClassID == subject.ClassID && existing.Slug == subject.Slug {
			return apperr.Conflict("subject slug already exists")
		}
	}
	subject.ID = s.id()
	cp := *subject
	s.subjects[subject.ID] = &cp
	return nil
}

func (s *Store) GetSubject(ctx context.Context, id int64) (*institutes.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[id]
	if !ok {
		return nil, apperr.NotFound("subject")
	}
	cp := *subject
	return &cp, nil
}

func (s *Store) ListSubjects(ctx context.Context, classID int64) ([]*institutes.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*institutes.Subject
	for _, subject := range s.subjects {
		if subject.ClassID == classID {
			cp := *subject
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteSubject(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[id]; !ok {
		return false, nil
	}
	delete(s.subjects, id)
	s.deleteScopePermissionsFor(permissions.ScopeSubject, id)
	return true, nil
}

func (s *Store) CreateSection(ctx context.Context, section *institutes.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sections {
		if existing.ClassID == section.ClassID && existing.Slug == section.Slug {
			return apperr.Conflict("section slug already exists")
		}
	}
	section.ID = s.id()
	cp := *section
	s.sections[section.ID] = &cp
	return nil
}

func (s *Store) GetSection(ctx context.Context, id int64) (*institutes.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section, ok := s.sections[id]
	if !ok {
		return nil, apperr.NotFound("section")
	}
	cp := *section
	return &cp, nil
}

func (s *Store) ListSections(ctx context.Context, classID int64) ([]*institutes.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*institutes.Section
	for _, section := range s.sections {
		if section.ClassID == classID {
			cp := *section
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteSection(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sections[id]; !ok {
		return false, nil
	}
	delete(s.sections, id)
	s.deleteScopePermissionsFor(permissions.ScopeSection, id)
	return true, nil
}
