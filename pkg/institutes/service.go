package institutes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/permissions"
)

// slugAttempts bounds retries when a generated slug collides
const slugAttempts = 3

// Bootstrapper makes the creator of an institute its first admin
type Bootstrapper interface {
	Bootstrap(ctx context.Context, instituteID int64, ownerID string) (*permissions.InstitutePermission, error)
}

// Quota is the slice of the quota tracker the hierarchy needs
type Quota interface {
	InitInstitute(ctx context.Context, instituteID int64) error
	ReserveClassroom(ctx context.Context, instituteID int64) error
	ReleaseClassroom(ctx context.Context, instituteID int64) error
	AdjustClassCount(ctx context.Context, instituteID int64, delta int) error
	SubjectStorage(ctx context.Context, subjectID int64) (float64, error)
	WithInstituteLock(ctx context.Context, instituteID int64, fn func() error) error
}

// LedgerInitializer zeroes an institute's license statistics
type LedgerInitializer interface {
	InitInstitute(ctx context.Context, instituteID int64) error
}

// Service manages the hierarchy
type Service struct {
	store     Store
	authz     *permissions.Authorizer
	owners    Bootstrapper
	quota     Quota
	ledger    LedgerInitializer
	directory auth.Directory
	logger    *observability.Logger
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a hierarchy service
func NewService(store Store, authz *permissions.Authorizer, owners Bootstrapper, quota Quota, ledger LedgerInitializer, directory auth.Directory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		authz:     authz,
		owners:    owners,
		quota:     quota,
		ledger:    ledger,
		directory: directory,
		logger:    observability.NewNopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("name", "Name is required.")
	}
	if Slugify(name) == "" {
		return "", apperr.Validation("name", "Name must contain a letter or digit.")
	}
	return name, nil
}

// createWithSlug calls create with the name's slug, retrying with a random
// suffix while the slug is taken.
func createWithSlug(name string, create func(slug string) error) error {
	slug := Slugify(name)
	var err error
	for i := 0; i < slugAttempts; i++ {
		if err = create(slug); err == nil || !apperr.IsConflict(err) {
			return err
		}
		slug = withSuffix(Slugify(name))
	}
	return err
}

// CreateInstitute creates an institute owned by principalID, who must be a
// teacher. The owner becomes an active admin holding one admin seat.
func (s *Service) CreateInstitute(ctx context.Context, principalID, name string) (*Institute, error) {
	name, err := requireName(name)
	if err != nil {
		return nil, err
	}
	principal, err := s.directory.GetPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	if !principal.IsTeacher {
		return nil, apperr.PermissionDenied("Only teachers can create an institute.")
	}

	inst := &Institute{Name: name, OwnerID: principalID, CreatedOn: s.nowMillis()}
	err = createWithSlug(name, func(slug string) error {
		inst.Slug = slug
		return s.store.CreateInstitute(ctx, inst)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create institute: %w", err)
	}

	if err := s.bootstrap(ctx, inst.ID, principalID); err != nil {
		s.abandon(ctx, inst, err)
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"institute_id": inst.ID,
		"slug":         inst.Slug,
		"owner":        principalID,
	}).Info("institute created")
	return inst, nil
}

// bootstrap creates the counters and the owner's admin row of a new institute
func (s *Service) bootstrap(ctx context.Context, instituteID int64, ownerID string) error {
	if err := s.quota.InitInstitute(ctx, instituteID); err != nil {
		return err
	}
	if err := s.ledger.InitInstitute(ctx, instituteID); err != nil {
		return err
	}
	if _, err := s.owners.Bootstrap(ctx, instituteID, ownerID); err != nil {
		return err
	}
	return nil
}

// abandon removes an institute whose bootstrap failed so no admin-less
// institute is left behind.
func (s *Service) abandon(ctx context.Context, inst *Institute, cause error) {
	logger := s.logger.WithError(cause).WithFields(map[string]interface{}{
		"institute_id": inst.ID,
		"slug":         inst.Slug,
	})
	if _, err := s.store.DeleteInstitute(context.WithoutCancel(ctx), inst.ID); err != nil {
		logger.WithField("cleanup_error", err.Error()).Error("institute bootstrap failed; partial institute left in place")
		return
	}
	logger.Warn("institute bootstrap failed; institute removed")
}

// GetInstitute returns an institute to any active member
func (s *Service) GetInstitute(ctx context.Context, principalID string, instituteID int64) (*Institute, error) {
	if err := s.authz.RequireMember(ctx, instituteID, principalID); err != nil {
		return nil, err
	}
	return s.store.GetInstitute(ctx, instituteID)
}

// GetInstituteBySlug looks an institute up by slug for any active member
func (s *Service) GetInstituteBySlug(ctx context.Context, principalID, slug string) (*Institute, error) {
	inst, err := s.store.GetInstituteBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireMember(ctx, inst.ID, principalID); err != nil {
		return nil, err
	}
	return inst, nil
}

// CreateClass adds a class, consuming one classroom slot. Admin only.
func (s *Service) CreateClass(ctx context.Context, principalID string, instituteID int64, name string) (*Class, error) {
	name, err := requireName(name)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, principalID, permissions.InstituteScope(instituteID), permissions.ActionEdit); err != nil {
		return nil, err
	}
	if err := s.quota.ReserveClassroom(ctx, instituteID); err != nil {
		return nil, err
	}

	class := &Class{InstituteID: instituteID, Name: name, CreatedBy: principalID, CreatedOn: s.nowMillis()}
	err = createWithSlug(name, func(slug string) error {
		class.Slug = slug
		return s.store.CreateClass(ctx, class)
	})
	if err != nil {
		if rerr := s.quota.ReleaseClassroom(ctx, instituteID); rerr != nil {
			s.logger.WithError(rerr).Error("failed to release classroom after create failure")
		}
		return nil, fmt.Errorf("failed to create class: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"institute_id": instituteID,
		"class_id":     class.ID,
	}).Info("class created")
	return class, nil
}

// DeleteClass removes a class with its subjects and sections and frees its
// classroom slot. Classes still holding materials cannot be deleted. Admin only.
func (s *Service) DeleteClass(ctx context.Context, principalID string, classID int64) error {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, principalID, permissions.InstituteScope(class.InstituteID), permissions.ActionEdit); err != nil {
		return err
	}

	// Uploads reserve storage under the same lock, so the emptiness check
	// and the delete see a consistent subject storage counter.
	var deleted bool
	err = s.quota.WithInstituteLock(ctx, class.InstituteID, func() error {
		subjects, err := s.store.ListSubjects(ctx, classID)
		if err != nil {
			return fmt.Errorf("failed to list subjects: %w", err)
		}
		for _, subject := range subjects {
			if err := s.requireEmptySubject(ctx, subject.ID); err != nil {
				return err
			}
		}

		deleted, err = s.store.DeleteClass(ctx, classID)
		if err != nil {
			return fmt.Errorf("failed to delete class: %w", err)
		}
		if !deleted {
			return nil
		}
		return s.quota.AdjustClassCount(ctx, class.InstituteID, -1)
	})
	if err != nil || !deleted {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"institute_id": class.InstituteID,
		"class_id":     classID,
	}).Info("class deleted")
	return nil
}

func (s *Service) requireEmptySubject(ctx context.Context, subjectID int64) error {
	used, err := s.quota.SubjectStorage(ctx, subjectID)
	if err != nil {
		return err
	}
	if used > 0 {
		return apperr.Conflict("Delete the subject's materials first.")
	}
	return nil
}

// ListClasses lists an institute's classes to any active member
func (s *Service) ListClasses(ctx context.Context, principalID string, instituteID int64) ([]*Class, error) {
	if err := s.authz.RequireMember(ctx, instituteID, principalID); err != nil {
		return nil, err
	}
	return s.store.ListClasses(ctx, instituteID)
}

// GetClass returns a class to any active member of its institute
func (s *Service) GetClass(ctx context.Context, principalID string, classID int64) (*Class, error) {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireMember(ctx, class.InstituteID, principalID); err != nil {
		return nil, err
	}
	return class, nil
}

// CreateSubject adds a subject to a class. Admins and the class in-charge may.
func (s *Service) CreateSubject(ctx context.Context, principalID string, classID int64, name string) (*Subject, error) {
	name, err := requireName(name)
	if err != nil {
		return nil, err
	}
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, principalID, permissions.ClassScope(class.InstituteID, classID), permissions.ActionEdit); err != nil {
		return nil, err
	}

	subject := &Subject{
		InstituteID: class.InstituteID,
		ClassID:     classID,
		Name:        name,
		CreatedBy:   principalID,
		CreatedOn:   s.nowMillis(),
	}
	err = createWithSlug(name, func(slug string) error {
		subject.Slug = slug
		return s.store.CreateSubject(ctx, subject)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subject: %w", err)
	}
	return subject, nil
}

// DeleteSubject removes an empty subject. Admins and the class in-charge may.
func (s *Service) DeleteSubject(ctx context.Context, principalID string, subjectID int64) error {
	subject, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, principalID, permissions.ClassScope(subject.InstituteID, subject.ClassID), permissions.ActionEdit); err != nil {
		return err
	}
	return s.quota.WithInstituteLock(ctx, subject.InstituteID, func() error {
		if err := s.requireEmptySubject(ctx, subjectID); err != nil {
			return err
		}
		if _, err := s.store.DeleteSubject(ctx, subjectID); err != nil {
			return fmt.Errorf("failed to delete subject: %w", err)
		}
		return nil
	})
}

// ListSubjects lists a class's subjects to any active member
func (s *Service) ListSubjects(ctx context.Context, principalID string, classID int64) ([]*Subject, error) {
	class, err := s.GetClass(ctx, principalID, classID)
	if err != nil {
		return nil, err
	}
	return s.store.ListSubjects(ctx, class.ID)
}

// CreateSection adds a section to a class. Admins and the class in-charge may.
func (s *Service) CreateSection(ctx context.Context, principalID string, classID int64, name string) (*Section, error) {
	name, err := requireName(name)
	if err != nil {
		return nil, err
	}
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, principalID, permissions.ClassScope(class.InstituteID, classID), permissions.ActionEdit); err != nil {
		return nil, err
	}

	section := &Section{
		InstituteID: class.InstituteID,
		ClassID:     classID,
		Name:        name,
		CreatedBy:   principalID,
		CreatedOn:   s.nowMillis(),
	}
	err = createWithSlug(name, func(slug string) error {
		section.Slug = slug
		return s.store.CreateSection(ctx, section)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create section: %w", err)
	}
	return section, nil
}

// DeleteSection removes a section. Admins and the class in-charge may.
func (s *Service) DeleteSection(ctx context.Context, principalID string, sectionID int64) error {
	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, principalID, permissions.ClassScope(section.InstituteID, section.ClassID), permissions.ActionEdit); err != nil {
		return err
	}
	if _, err := s.store.DeleteSection(ctx, sectionID); err != nil {
		return fmt.Errorf("failed to delete section: %w", err)
	}
	return nil
}

// ListSections lists a class's sections to any active member
func (s *Service) ListSections(ctx context.Context, principalID string, classID int64) ([]*Section, error) {
	class, err := s.GetClass(ctx, principalID, classID)
	if err != nil {
		return nil, err
	}
	return s.store.ListSections(ctx, class.ID)
}

// ResolveScope loads the hierarchy node kind/id and returns its scope
func (s *Service) ResolveScope(ctx context.Context, kind permissions.ScopeKind, id int64) (permissions.Scope, error) {
	switch kind {
	case permissions.ScopeInstitute:
		inst, err := s.store.GetInstitute(ctx, id)
		if err != nil {
			return permissions.Scope{}, err
		}
		return permissions.InstituteScope(inst.ID), nil
	case permissions.ScopeClass:
		class, err := s.store.GetClass(ctx, id)
		if err != nil {
			return permissions.Scope{}, err
		}
		return permissions.ClassScope(class.InstituteID, class.ID), nil
	case permissions.ScopeSubject:
		subject, err := s.store.GetSubject(ctx, id)
		if err != nil {
			return permissions.Scope{}, err
		}
		return permissions.SubjectScope(subject.InstituteID, subject.ClassID, subject.ID), nil
	case permissions.ScopeSection:
		section, err := s.store.GetSection(ctx, id)
		if err != nil {
			return permissions.Scope{}, err
		}
		return permissions.SectionScope(section.InstituteID, section.ClassID, section.ID), nil
	default:
		return permissions.Scope{}, apperr.Validation("scope", "Unknown scope.")
	}
}
