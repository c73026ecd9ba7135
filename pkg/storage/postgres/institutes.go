package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/permissions"
)

func (s *Store) CreateInstitute(ctx context.Context, inst *institutes.Institute) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO institutes (slug, name, owner_id, created_on)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, inst.Slug, inst.Name, inst.OwnerID, inst.CreatedOn).Scan(&inst.ID)
	if err != nil {
		return conflictOr(err, "institute slug already exists")
	}
	return nil
}

// instituteOwnedTables hold rows keyed by institute_id without a foreign key
var instituteOwnedTables = []string{
	"institute_permissions",
	"scope_permissions",
	"institute_statistics",
	"license_statistics",
}

// DeleteInstitute removes an institute with its permissions and counters.
// Classes, subjects and sections cascade.
func (s *Store) DeleteInstitute(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range instituteOwnedTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE institute_id = $1", id); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM institutes WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete institute: %w", err)
		}
		deleted, err = affected(res)
		return err
	})
	return deleted, err
}

func (s *Store) getInstitute(ctx context.Context, where string, arg interface{}) (*institutes.Institute, error) {
	var inst institutes.Institute
	err := s.db.QueryRowContext(ctx,
		"SELECT id, slug, name, owner_id, created_on FROM institutes WHERE "+where, arg,
	).Scan(&inst.ID, &inst.Slug, &inst.Name, &inst.OwnerID, &inst.CreatedOn)
	if err != nil {
		return nil, notFoundOr(err, "institute")
	}
	return &inst, nil
}

func (s *Store) GetInstitute(ctx context.Context, id int64) (*institutes.Institute, error) {
	return s.getInstitute(ctx, "id = $1", id)
}

func (s *Store) GetInstituteBySlug(ctx context.Context, slug string) (*institutes.Institute, error) {
	return s.getInstitute(ctx, "slug = $1", slug)
}

func (s *Store) CreateClass(ctx context.Context, class *institutes.Class) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO classes (institute_id, slug, name, created_by, created_on)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, class.InstituteID, class.Slug, class.Name, class.CreatedBy, class.CreatedOn).Scan(&class.ID)
	if err != nil {
		return conflictOr(err, "class slug already exists")
	}
	return nil
}

const classColumns = "id, institute_id, slug, name, created_by, created_on"

func scanClass(row interface{ Scan(...interface{}) error }) (*institutes.Class, error) {
	var c institutes.Class
	if err := row.Scan(&c.ID, &c.InstituteID, &c.Slug, &c.Name, &c.CreatedBy, &c.CreatedOn); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetClass(ctx context.Context, id int64) (*institutes.Class, error) {
	c, err := scanClass(s.db.QueryRowContext(ctx, "SELECT "+classColumns+" FROM classes WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "class")
	}
	return c, nil
}

func (s *Store) ListClasses(ctx context.Context, instituteID int64) ([]*institutes.Class, error) {
	rows, err := s.reader().QueryContext(ctx,
		"SELECT "+classColumns+" FROM classes WHERE institute_id = $1 ORDER BY id", instituteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	defer rows.Close()

	var out []*institutes.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteClass removes the class; subjects and sections cascade. Grants on
// any of them are removed in the same transaction.
func (s *Store) DeleteClass(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM scope_permissions
			WHERE (kind = $1 AND entity_id = $2)
			   OR (kind = $3 AND entity_id IN (SELECT id FROM subjects WHERE class_id = $2))
			   OR (kind = $4 AND entity_id IN (SELECT id FROM sections WHERE class_id = $2))
		`, permissions.ScopeClass, id, permissions.ScopeSubject, permissions.ScopeSection)
		if err != nil {
			return fmt.Errorf("failed to delete class grants: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM classes WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete class: %w", err)
		}
		deleted, err = affected(res)
		return err
	})
	return deleted, err
}

func (s *Store) CreateSubject(ctx context.Context, subject *institutes.Subject) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subjects (institute_id, class_id, slug, name, created_by, created_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, subject.InstituteID, subject.ClassID, subject.Slug, subject.Name, subject.CreatedBy, subject.CreatedOn).Scan(&subject.ID)
	if err != nil {
		return conflictOr(err, "subject slug already exists")
	}
	return nil
}

const childColumns = "id, institute_id, class_id, slug, name, created_by, created_on"

func (s *Store) GetSubject(ctx context.Context, id int64) (*institutes.Subject, error) {
	var sub institutes.Subject
	err := s.db.QueryRowContext(ctx, "SELECT "+childColumns+" FROM subjects WHERE id = $1", id).
		Scan(&sub.ID, &sub.InstituteID, &sub.ClassID, &sub.Slug, &sub.Name, &sub.CreatedBy, &sub.CreatedOn)
	if err != nil {
		return nil, notFoundOr(err, "subject")
	}
	return &sub, nil
}

func (s *Store) ListSubjects(ctx context.Context, classID int64) ([]*institutes.Subject, error) {
	rows, err := s.reader().QueryContext(ctx,
		"SELECT "+childColumns+" FROM subjects WHERE class_id = $1 ORDER BY id", classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var out []*institutes.Subject
	for rows.Next() {
		var sub institutes.Subject
		if err := rows.Scan(&sub.ID, &sub.InstituteID, &sub.ClassID, &sub.Slug, &sub.Name, &sub.CreatedBy, &sub.CreatedOn); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSubject(ctx context.Context, id int64) (bool, error) {
	return s.deleteChild(ctx, "subjects", permissions.ScopeSubject, id)
}

func (s *Store) CreateSection(ctx context.Context, section *institutes.Section) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sections (institute_id, class_id, slug, name, created_by, created_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, section.InstituteID, section.ClassID, section.Slug, section.Name, section.CreatedBy, section.CreatedOn).Scan(&section.ID)
	if err != nil {
		return conflictOr(err, "section slug already exists")
	}
	return nil
}

func (s *Store) GetSection(ctx context.Context, id int64) (*institutes.Section, error) {
	var sec institutes.Section
	err := s.db.QueryRowContext(ctx, "SELECT "+childColumns+" FROM sections WHERE id = $1", id).
		Scan(&sec.ID, &sec.InstituteID, &sec.ClassID, &sec.Slug, &sec.Name, &sec.CreatedBy, &sec.CreatedOn)
	if err != nil {
		return nil, notFoundOr(err, "section")
	}
	return &sec, nil
}

func (s *Store) ListSections(ctx context.Context, classID int64) ([]*institutes.Section, error) {
	rows, err := s.reader().QueryContext(ctx,
		"SELECT "+childColumns+" FROM sections WHERE class_id = $1 ORDER BY id", classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var out []*institutes.Section
	for rows.Next() {
		var sec institutes.Section
		if err := rows.Scan(&sec.ID, &sec.InstituteID, &sec.ClassID, &sec.Slug, &sec.Name, &sec.CreatedBy, &sec.CreatedOn); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		out = append(out, &sec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSection(ctx context.Context, id int64) (bool, error) {
	return s.deleteChild(ctx, "sections", permissions.ScopeSection, id)
}

// deleteChild removes a subject or section together with its grants
func (s *Store) deleteChild(ctx context.Context, table string, kind permissions.ScopeKind, id int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM scope_permissions WHERE kind = $1 AND entity_id = $2", kind, id); err != nil {
			return fmt.Errorf("failed to delete %s grants: %w", kind, err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", kind, err)
		}
		deleted, err = affected(res)
		return err
	})
	return deleted, err
}
