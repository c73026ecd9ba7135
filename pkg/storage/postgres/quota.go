package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/quota"
)

// gbScale matches quota.RoundGB: values are stored rounded to the byte
const gbScale = 9

func (s *Store) InitInstituteStatistics(ctx context.Context, instituteID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO institute_statistics (institute_id) VALUES ($1) ON CONFLICT (institute_id) DO NOTHING", instituteID)
	if err != nil {
		return fmt.Errorf("failed to init institute statistics: %w", err)
	}
	return nil
}

func (s *Store) GetInstituteStatistics(ctx context.Context, instituteID int64) (*quota.InstituteStatistics, error) {
	var st quota.InstituteStatistics
	err := s.db.QueryRowContext(ctx, `
		SELECT institute_id, storage, no_of_admins, no_of_staffs, no_of_faculties, class_count
		FROM institute_statistics WHERE institute_id = $1
	`, instituteID).Scan(&st.InstituteID, &st.Storage, &st.NoOfAdmins, &st.NoOfStaffs, &st.NoOfFaculties, &st.ClassCount)
	if err != nil {
		return nil, notFoundOr(err, "institute statistics")
	}
	return &st, nil
}

// AddStorage increments in SQL so concurrent writers never lose an update
func (s *Store) AddStorage(ctx context.Context, instituteID, subjectID int64, deltaGB float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE institute_statistics SET storage = ROUND((storage + $2)::numeric, $3)::double precision
			WHERE institute_id = $1
		`, instituteID, deltaGB, gbScale)
		if err != nil {
			return fmt.Errorf("failed to update institute storage: %w", err)
		}
		if ok, err := affected(res); err != nil {
			return err
		} else if !ok {
			return apperr.NotFound("institute statistics")
		}
		if subjectID == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subject_storage (subject_id, storage) VALUES ($1, ROUND($2::numeric, $3)::double precision)
			ON CONFLICT (subject_id) DO UPDATE
			SET storage = ROUND((subject_storage.storage + $2)::numeric, $3)::double precision
		`, subjectID, deltaGB, gbScale)
		if err != nil {
			return fmt.Errorf("failed to update subject storage: %w", err)
		}
		return nil
	})
}

func roleColumn(role auth.Role) (string, error) {
	switch role {
	case auth.RoleAdmin:
		return "no_of_admins", nil
	case auth.RoleStaff:
		return "no_of_staffs", nil
	case auth.RoleFaculty:
		return "no_of_faculties", nil
	default:
		return "", apperr.Validation("role", "Invalid role.")
	}
}

func (s *Store) AddRoleCount(ctx context.Context, instituteID int64, role auth.Role, delta int) error {
	column, err := roleColumn(role)
	if err != nil {
		return err
	}
	return s.addCounter(ctx, instituteID, column, delta)
}

func (s *Store) AddClassCount(ctx context.Context, instituteID int64, delta int) error {
	return s.addCounter(ctx, instituteID, "class_count", delta)
}

// addCounter applies delta to a whitelisted integer column
func (s *Store) addCounter(ctx context.Context, instituteID int64, column string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE institute_statistics SET "+column+" = "+column+" + $2 WHERE institute_id = $1", instituteID, delta)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("institute statistics")
	}
	return nil
}

func (s *Store) GetSubjectStorage(ctx context.Context, subjectID int64) (float64, error) {
	var gb float64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE((SELECT storage FROM subject_storage WHERE subject_id = $1), 0)", subjectID).Scan(&gb)
	if err != nil {
		return 0, fmt.Errorf("failed to get subject storage: %w", err)
	}
	return gb, nil
}
