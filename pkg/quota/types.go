package quota

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/licensing"
)

// BytesPerGB is the decimal gigabyte used for every stored storage value
const BytesPerGB = 1e9

// gbPrecision bounds float noise in stored GB values
const gbPrecision = 1e9

// Resource names a metered counter
type Resource string

const (
	ResourceStorage   Resource = "storage"
	ResourceAdmins    Resource = "admins"
	ResourceStaff     Resource = "staff"
	ResourceFaculty   Resource = "faculty"
	ResourceClassroom Resource = "classrooms"
)

// ResourceForRole maps a role onto its seat counter
func ResourceForRole(role auth.Role) (Resource, error) {
	switch role {
	case auth.RoleAdmin:
		return ResourceAdmins, nil
	case auth.RoleStaff:
		return ResourceStaff, nil
	case auth.RoleFaculty:
		return ResourceFaculty, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// InstituteStatistics are the live usage counters of an institute
type InstituteStatistics struct {
	InstituteID   int64   `json:"institute_id"`
	Storage       float64 `json:"storage"`
	NoOfAdmins    int     `json:"no_of_admins"`
	NoOfStaffs    int     `json:"no_of_staffs"`
	NoOfFaculties int     `json:"no_of_faculties"`
	ClassCount    int     `json:"class_count"`
}

// RoleCount returns the seat counter for role
func (s *InstituteStatistics) RoleCount(role auth.Role) int {
	switch role {
	case auth.RoleAdmin:
		return s.NoOfAdmins
	case auth.RoleStaff:
		return s.NoOfStaffs
	case auth.RoleFaculty:
		return s.NoOfFaculties
	default:
		return 0
	}
}

// RoleLimit returns the entitled seats for role
func RoleLimit(limits *licensing.Limits, role auth.Role) int {
	switch role {
	case auth.RoleAdmin:
		return limits.NoOfAdmin
	case auth.RoleStaff:
		return limits.NoOfStaff
	case auth.RoleFaculty:
		return limits.NoOfFaculty
	default:
		return 0
	}
}

// Store persists usage counters. Add methods apply a signed delta atomically.
type Store interface {
	InitInstituteStatistics(ctx context.Context, instituteID int64) error
	GetInstituteStatistics(ctx context.Context, instituteID int64) (*InstituteStatistics, error)
	// AddStorage applies deltaGB to the institute counter and, when subjectID
	// is non-zero, to the subject counter.
	AddStorage(ctx context.Context, instituteID, subjectID int64, deltaGB float64) error
	AddRoleCount(ctx context.Context, instituteID int64, role auth.Role, delta int) error
	AddClassCount(ctx context.Context, instituteID int64, delta int) error
	GetSubjectStorage(ctx context.Context, subjectID int64) (float64, error)
}

// Entitlements exposes the limits a tracker enforces
type Entitlements interface {
	// ActiveLimits returns nil when the institute has no current license
	ActiveLimits(ctx context.Context, instituteID int64) (*licensing.Limits, error)
	LicenseStatistics(ctx context.Context, instituteID int64) (*licensing.LicenseStatistics, error)
}

// ExceededError reports the limit a write would have crossed
type ExceededError struct {
	Resource Resource
	Current  float64
	Limit    float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: current %s, limit %s",
		e.Resource, formatAmount(e.Current), formatAmount(e.Limit))
}

// ErrorKind classifies quota errors for the HTTP layer
func (e *ExceededError) ErrorKind() apperr.Kind {
	return apperr.KindQuotaExceeded
}

// IsExceeded checks if an error is a quota exceeded error
func IsExceeded(err error) bool {
	var qe *ExceededError
	return errors.As(err, &qe)
}

// AsExceeded extracts the quota error from err's chain
func AsExceeded(err error) (*ExceededError, bool) {
	var qe *ExceededError
	ok := errors.As(err, &qe)
	return qe, ok
}

// ErrNoActiveLicense is returned when a metered write has no entitlement at all
var ErrNoActiveLicense = apperr.PermissionDenied("Institute has no active license.")

// BytesToGB converts a byte count to decimal gigabytes
func BytesToGB(bytes int64) float64 {
	return RoundGB(float64(bytes) / BytesPerGB)
}

// RoundGB removes float noise below a byte
func RoundGB(gb float64) float64 {
	return math.Round(gb*gbPrecision) / gbPrecision
}

func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
