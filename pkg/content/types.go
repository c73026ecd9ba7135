package content

import "context"

// MaterialKind is the validated type of an uploaded file
type MaterialKind string

const (
	KindPDF   MaterialKind = "PDF"
	KindImage MaterialKind = "IMAGE"
)

// Material is a lecture file stored under a subject
type Material struct {
	ID          int64        `json:"id"`
	InstituteID int64        `json:"institute_id"`
	ClassID     int64        `json:"class_id"`
	SubjectID   int64        `json:"subject_id"`
	Title       string       `json:"title"`
	Kind        MaterialKind `json:"kind"`
	ContentType string       `json:"content_type"`
	BlobKey     string       `json:"-"`
	URL         string       `json:"url"`
	Size        int64        `json:"size"`
	UploadedBy  string       `json:"uploaded_by"`
	CreatedOn   int64        `json:"created_on"`
}

// Store persists material metadata
type Store interface {
	CreateMaterial(ctx context.Context, m *Material) error
	GetMaterial(ctx context.Context, id int64) (*Material, error)
	ListMaterials(ctx context.Context, subjectID int64) ([]*Material, error)
	DeleteMaterial(ctx context.Context, id int64) (bool, error)
}
