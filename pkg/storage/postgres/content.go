package postgres

import (
	"context"
	"fmt"

	"github.com/platinummonkey/lectern/pkg/content"
)

const materialColumns = "id, institute_id, class_id, subject_id, title, kind, content_type, blob_key, url, size, uploaded_by, created_on"

func scanMaterial(row interface{ Scan(...interface{}) error }) (*content.Material, error) {
	var m content.Material
	err := row.Scan(&m.ID, &m.InstituteID, &m.ClassID, &m.SubjectID, &m.Title, &m.Kind, &m.ContentType,
		&m.BlobKey, &m.URL, &m.Size, &m.UploadedBy, &m.CreatedOn)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMaterial(ctx context.Context, m *content.Material) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO materials (institute_id, class_id, subject_id, title, kind, content_type, blob_key, url, size, uploaded_by, created_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, m.InstituteID, m.ClassID, m.SubjectID, m.Title, m.Kind, m.ContentType, m.BlobKey, m.URL, m.Size, m.UploadedBy, m.CreatedOn).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert material: %w", err)
	}
	return nil
}

func (s *Store) GetMaterial(ctx context.Context, id int64) (*content.Material, error) {
	m, err := scanMaterial(s.db.QueryRowContext(ctx, "SELECT "+materialColumns+" FROM materials WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "material")
	}
	return m, nil
}

func (s *Store) ListMaterials(ctx context.Context, subjectID int64) ([]*content.Material, error) {
	rows, err := s.reader().QueryContext(ctx,
		"SELECT "+materialColumns+" FROM materials WHERE subject_id = $1 ORDER BY id", subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	var out []*content.Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMaterial(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM materials WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete material: %w", err)
	}
	return affected(res)
}
