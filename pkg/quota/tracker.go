package quota

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/lock"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// gbTolerance absorbs float error when usage lands exactly on the limit
const gbTolerance = 1e-9

// Tracker checks and adjusts usage counters
type Tracker struct {
	store        Store
	entitlements Entitlements
	locker       lock.Locker
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLocker replaces the default in-process locker
func WithLocker(l lock.Locker) Option {
	return func(t *Tracker) { t.locker = l }
}

// WithLogger sets the tracker logger
func WithLogger(logger *observability.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics enables quota rejection metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(t *Tracker) { t.metrics = metrics }
}

// NewTracker creates a quota tracker
func NewTracker(store Store, entitlements Entitlements, opts ...Option) *Tracker {
	t := &Tracker{
		store:        store,
		entitlements: entitlements,
		locker:       lock.NewLocalLocker(),
		logger:       observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func lockKey(instituteID int64) string {
	return "quota:institute:" + strconv.FormatInt(instituteID, 10)
}

// InitInstitute creates zeroed counters for a new institute
func (t *Tracker) InitInstitute(ctx context.Context, instituteID int64) error {
	if err := t.store.InitInstituteStatistics(ctx, instituteID); err != nil {
		return fmt.Errorf("failed to init institute statistics: %w", err)
	}
	return nil
}

// Statistics returns the institute's usage counters
func (t *Tracker) Statistics(ctx context.Context, instituteID int64) (*InstituteStatistics, error) {
	stats, err := t.store.GetInstituteStatistics(ctx, instituteID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("institute statistics")
		}
		return nil, fmt.Errorf("failed to get institute statistics: %w", err)
	}
	return stats, nil
}

// SubjectStorage returns the GB stored under a subject
func (t *Tracker) SubjectStorage(ctx context.Context, subjectID int64) (float64, error) {
	gb, err := t.store.GetSubjectStorage(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to get subject storage: %w", err)
	}
	return gb, nil
}

// StorageLimit returns the entitled GB: the current common license's storage
// plus every active storage license.
func (t *Tracker) StorageLimit(ctx context.Context, instituteID int64) (float64, error) {
	limits, err := t.entitlements.ActiveLimits(ctx, instituteID)
	if err != nil {
		return 0, err
	}
	if limits == nil {
		return 0, ErrNoActiveLicense
	}
	stats, err := t.entitlements.LicenseStatistics(ctx, instituteID)
	if err != nil {
		return 0, err
	}
	return RoundGB(limits.StorageGB + stats.TotalStorage), nil
}

// CheckStorageCapacity fails when storing additionalBytes more would exceed
// the entitled storage, or when usage is already over it.
func (t *Tracker) CheckStorageCapacity(ctx context.Context, instituteID, additionalBytes int64) error {
	limit, err := t.StorageLimit(ctx, instituteID)
	if err != nil {
		return err
	}
	stats, err := t.Statistics(ctx, instituteID)
	if err != nil {
		return err
	}

	additional := BytesToGB(additionalBytes)
	if stats.Storage > limit+gbTolerance || stats.Storage+additional > limit+gbTolerance {
		return t.reject(instituteID, &ExceededError{
			Resource: ResourceStorage,
			Current:  RoundGB(stats.Storage),
			Limit:    limit,
		})
	}
	return nil
}

// AdjustStorage applies a signed byte delta to the institute and subject counters
func (t *Tracker) AdjustStorage(ctx context.Context, instituteID, subjectID, deltaBytes int64) error {
	if deltaBytes == 0 {
		return nil
	}
	if err := t.store.AddStorage(ctx, instituteID, subjectID, BytesToGB(deltaBytes)); err != nil {
		return fmt.Errorf("failed to adjust storage: %w", err)
	}
	t.metrics.RecordStoredBytes(deltaBytes)
	return nil
}

// CheckRoleQuota fails when every seat for role is taken
func (t *Tracker) CheckRoleQuota(ctx context.Context, instituteID int64, role auth.Role) error {
	resource, err := ResourceForRole(role)
	if err != nil {
		return apperr.Validation("role", "Invalid role.")
	}
	limits, err := t.entitlements.ActiveLimits(ctx, instituteID)
	if err != nil {
		return err
	}
	if limits == nil {
		return ErrNoActiveLicense
	}
	stats, err := t.Statistics(ctx, instituteID)
	if err != nil {
		return err
	}

	current, limit := stats.RoleCount(role), RoleLimit(limits, role)
	if current >= limit {
		return t.reject(instituteID, &ExceededError{
			Resource: resource,
			Current:  float64(current),
			Limit:    float64(limit),
		})
	}
	return nil
}

// AdjustRoleCount applies a signed delta to the seat counter for role
func (t *Tracker) AdjustRoleCount(ctx context.Context, instituteID int64, role auth.Role, delta int) error {
	if _, err := ResourceForRole(role); err != nil {
		return err
	}
	if err := t.store.AddRoleCount(ctx, instituteID, role, delta); err != nil {
		return fmt.Errorf("failed to adjust %s count: %w", role, err)
	}
	return nil
}

// CheckClassroomQuota fails when the classroom limit is reached
func (t *Tracker) CheckClassroomQuota(ctx context.Context, instituteID int64) error {
	limits, err := t.entitlements.ActiveLimits(ctx, instituteID)
	if err != nil {
		return err
	}
	if limits == nil {
		return ErrNoActiveLicense
	}
	stats, err := t.Statistics(ctx, instituteID)
	if err != nil {
		return err
	}

	if stats.ClassCount >= limits.ClassroomLimit {
		return t.reject(instituteID, &ExceededError{
			Resource: ResourceClassroom,
			Current:  float64(stats.ClassCount),
			Limit:    float64(limits.ClassroomLimit),
		})
	}
	return nil
}

// AdjustClassCount applies a signed delta to the classroom counter
func (t *Tracker) AdjustClassCount(ctx context.Context, instituteID int64, delta int) error {
	if err := t.store.AddClassCount(ctx, instituteID, delta); err != nil {
		return fmt.Errorf("failed to adjust class count: %w", err)
	}
	return nil
}

// ReserveStorage checks capacity and records bytes as used, under the
// institute lock. Callers release the reservation if the write fails.
func (t *Tracker) ReserveStorage(ctx context.Context, instituteID, subjectID, bytes int64) error {
	return t.WithInstituteLock(ctx, instituteID, func() error {
		if err := t.CheckStorageCapacity(ctx, instituteID, bytes); err != nil {
			return err
		}
		return t.AdjustStorage(ctx, instituteID, subjectID, bytes)
	})
}

// ReleaseStorage returns bytes to the institute and subject counters
func (t *Tracker) ReleaseStorage(ctx context.Context, instituteID, subjectID, bytes int64) error {
	return t.WithInstituteLock(ctx, instituteID, func() error {
		return t.AdjustStorage(ctx, instituteID, subjectID, -bytes)
	})
}

// ReserveRole takes a seat for role
func (t *Tracker) ReserveRole(ctx context.Context, instituteID int64, role auth.Role) error {
	return t.WithInstituteLock(ctx, instituteID, func() error {
		if err := t.CheckRoleQuota(ctx, instituteID, role); err != nil {
			return err
		}
		return t.AdjustRoleCount(ctx, instituteID, role, 1)
	})
}

// ReleaseRole frees a seat for role
func (t *Tracker) ReleaseRole(ctx context.Context, instituteID int64, role auth.Role) error {
	return t.WithInstituteLock(ctx, instituteID, func() error {
		return t.AdjustRoleCount(ctx, instituteID, role, -1)
	})
}

// ReserveClassroom takes a classroom slot
func (t *Tracker) ReserveClassroom(ctx context.Context, instituteID int64) error {
	return t.WithInstituteLock(ctx, instituteID, func() error {
		if err := t.CheckClassroomQuota(ctx, instituteID); err != nil {
			return err
		}
		return t.AdjustClassCount(ctx, instituteID, 1)
	})
}

// ReleaseClassroom frees a classroom slot
func (t *Tracker) ReleaseClassroom(ctx context.Context, instituteID int64) error {
	return t.WithInstituteLock(ctx, instituteID, func() error {
		return t.AdjustClassCount(ctx, instituteID, -1)
	})
}

// WithInstituteLock runs fn while holding the institute's counter lock. The
// lock is not reentrant: fn uses the Check and Adjust methods, never Reserve
// or Release.
func (t *Tracker) WithInstituteLock(ctx context.Context, instituteID int64, fn func() error) error {
	unlock, err := t.locker.Lock(ctx, lockKey(instituteID))
	if err != nil {
		return fmt.Errorf("failed to lock institute %d counters: %w", instituteID, err)
	}
	defer unlock()
	return fn()
}

func (t *Tracker) reject(instituteID int64, qe *ExceededError) error {
	t.metrics.RecordQuotaRejection(string(qe.Resource))
	t.logger.WithFields(map[string]interface{}{
		"institute_id": instituteID,
		"resource":     qe.Resource,
		"current":      qe.Current,
		"limit":        qe.Limit,
	}).Info("quota rejected")
	return qe
}
