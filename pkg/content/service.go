package content

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/blobstore"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
)

// maxTitleLength bounds material titles
const maxTitleLength = 200

// ErrLMSNotLicensed is returned when the active license lacks the LMS feature
var ErrLMSNotLicensed = apperr.PermissionDenied("Institute license does not include LMS.")

// Subjects resolves the subject a material belongs to
type Subjects interface {
	GetSubject(ctx context.Context, id int64) (*institutes.Subject, error)
}

// Entitlements exposes the active license limits
type Entitlements interface {
	ActiveLimits(ctx context.Context, instituteID int64) (*licensing.Limits, error)
}

// Quota is the storage slice of the quota tracker
type Quota interface {
	CheckStorageCapacity(ctx context.Context, instituteID, additionalBytes int64) error
	AdjustStorage(ctx context.Context, instituteID, subjectID, deltaBytes int64) error
	ReleaseStorage(ctx context.Context, instituteID, subjectID, bytes int64) error
	WithInstituteLock(ctx context.Context, instituteID int64, fn func() error) error
}

// Service uploads, lists and deletes materials
type Service struct {
	store        Store
	subjects     Subjects
	authz        *permissions.Authorizer
	entitlements Entitlements
	quota        Quota
	blobs        blobstore.Store
	validator    *blobstore.Validator
	logger       *observability.Logger
	now          func() time.Time
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

// NewService creates a material service
func NewService(store Store, subjects Subjects, authz *permissions.Authorizer, entitlements Entitlements, tracker Quota, blobs blobstore.Store, validator *blobstore.Validator, opts ...Option) *Service {
	s := &Service{
		store:        store,
		subjects:     subjects,
		authz:        authz,
		entitlements: entitlements,
		quota:        tracker,
		blobs:        blobs,
		validator:    validator,
		logger:       observability.NewNopLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func materialKind(k blobstore.Kind) (MaterialKind, error) {
	switch k {
	case blobstore.KindPDF:
		return KindPDF, nil
	case blobstore.KindImage:
		return KindImage, nil
	default:
		return "", fmt.Errorf("unsupported blob kind %q", k)
	}
}

func (s *Service) requireLMS(ctx context.Context, instituteID int64) error {
	limits, err := s.entitlements.ActiveLimits(ctx, instituteID)
	if err != nil {
		return err
	}
	if limits == nil {
		return quota.ErrNoActiveLicense
	}
	if !limits.LMS {
		return ErrLMSNotLicensed
	}
	return nil
}

// Upload stores data as a material under subjectID. The caller must be able
// to edit the subject. Storage is reserved before the blob is written and
// released again if any later step fails.
func (s *Service) Upload(ctx context.Context, principalID string, subjectID int64, title string, data []byte) (*Material, error) {
	ctx, span := observability.Tracer().Start(ctx, "content.Upload", trace.WithAttributes(
		attribute.Int64("subject.id", subjectID),
		attribute.Int("upload.bytes", len(data)),
	))
	defer span.End()

	m, err := s.upload(ctx, principalID, subjectID, title, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("material.id", m.ID))
	return m, nil
}

func (s *Service) upload(ctx context.Context, principalID string, subjectID int64, title string, data []byte) (*Material, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("title", "Title is required.")
	}
	if len(title) > maxTitleLength {
		return nil, apperr.Validation("title", "Title is too long.")
	}

	subject, err := s.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	scope := permissions.SubjectScope(subject.InstituteID, subject.ClassID, subject.ID)
	if err := s.authz.Require(ctx, principalID, scope, permissions.ActionEdit); err != nil {
		return nil, err
	}
	if err := s.requireLMS(ctx, subject.InstituteID); err != nil {
		return nil, err
	}

	sniffed, err := s.validator.Validate(data)
	if err != nil {
		return nil, err
	}
	kind, err := materialKind(sniffed.Kind)
	if err != nil {
		return nil, err
	}

	size := int64(len(data))
	if err := s.reserve(ctx, subject, size); err != nil {
		return nil, err
	}
	logger := s.logger.WithFields(map[string]interface{}{
		"institute_id": subject.InstituteID,
		"subject_id":   subject.ID,
		"bytes":        size,
	})
	release := func() {
		if err := s.quota.ReleaseStorage(ctx, subject.InstituteID, subject.ID, size); err != nil {
			logger.WithError(err).Error("failed to release storage after upload failure")
		}
	}

	key := blobstore.NewKey(subject.InstituteID, subject.ID, sniffed.Ext)
	obj, err := s.blobs.Put(ctx, key, bytes.NewReader(data), sniffed.ContentType)
	if err != nil {
		release()
		return nil, apperr.Internal("Failed to store file.", err)
	}

	m := &Material{
		InstituteID: subject.InstituteID,
		ClassID:     subject.ClassID,
		SubjectID:   subject.ID,
		Title:       title,
		Kind:        kind,
		ContentType: sniffed.ContentType,
		BlobKey:     obj.Key,
		URL:         obj.URL,
		Size:        size,
		UploadedBy:  principalID,
		CreatedOn:   s.now().UnixMilli(),
	}
	if err := s.store.CreateMaterial(ctx, m); err != nil {
		if derr := s.blobs.Delete(ctx, obj.Key); derr != nil {
			logger.WithError(derr).Warn("failed to remove orphaned blob")
		}
		release()
		return nil, fmt.Errorf("failed to create material: %w", err)
	}

	logger.WithField("material_id", m.ID).Info("material uploaded")
	return m, nil
}

// reserve records size bytes against the subject. The subject is re-read under
// the institute lock, which class and subject deletion also hold, so storage
// is never charged to a subject that is already gone.
func (s *Service) reserve(ctx context.Context, subject *institutes.Subject, size int64) error {
	return s.quota.WithInstituteLock(ctx, subject.InstituteID, func() error {
		if _, err := s.subjects.GetSubject(ctx, subject.ID); err != nil {
			return err
		}
		if err := s.quota.CheckStorageCapacity(ctx, subject.InstituteID, size); err != nil {
			return err
		}
		return s.quota.AdjustStorage(ctx, subject.InstituteID, subject.ID, size)
	})
}

// Delete removes a material and returns its bytes to the institute and
// subject storage counters.
func (s *Service) Delete(ctx context.Context, principalID string, materialID int64) error {
	m, err := s.store.GetMaterial(ctx, materialID)
	if err != nil {
		return err
	}
	scope := permissions.SubjectScope(m.InstituteID, m.ClassID, m.SubjectID)
	if err := s.authz.Require(ctx, principalID, scope, permissions.ActionEdit); err != nil {
		return err
	}

	deleted, err := s.store.DeleteMaterial(ctx, materialID)
	if err != nil {
		return fmt.Errorf("failed to delete material: %w", err)
	}
	if !deleted {
		return apperr.NotFound("material")
	}
	if err := s.quota.ReleaseStorage(ctx, m.InstituteID, m.SubjectID, m.Size); err != nil {
		return err
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"institute_id": m.InstituteID,
		"material_id":  m.ID,
	})
	if err := s.blobs.Delete(ctx, m.BlobKey); err != nil {
		logger.WithError(err).Warn("failed to delete blob")
	}
	logger.Info("material deleted")
	return nil
}

// List returns a subject's materials to any active member of its institute
func (s *Service) List(ctx context.Context, principalID string, subjectID int64) ([]*Material, error) {
	subject, err := s.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireMember(ctx, subject.InstituteID, principalID); err != nil {
		return nil, err
	}
	return s.store.ListMaterials(ctx, subjectID)
}

// Get returns one material to any active member of its institute
func (s *Service) Get(ctx context.Context, principalID string, materialID int64) (*Material, error) {
	m, err := s.store.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireMember(ctx, m.InstituteID, principalID); err != nil {
		return nil, err
	}
	return m, nil
}
