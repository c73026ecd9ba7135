package institutes

import "context"

// Institute is a tenant
type Institute struct {
	ID        int64  `json:"id"`
	Slug      string `json:"institute_slug"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner"`
	CreatedOn int64  `json:"created_on"`
}

// Class groups subjects and sections
type Class struct {
	ID          int64  `json:"id"`
	InstituteID int64  `json:"institute_id"`
	Slug        string `json:"class_slug"`
	Name        string `json:"name"`
	CreatedBy   string `json:"created_by"`
	CreatedOn   int64  `json:"created_on"`
}

// Subject is a course unit under a class
type Subject struct {
	ID          int64  `json:"id"`
	InstituteID int64  `json:"institute_id"`
	ClassID     int64  `json:"class_id"`
	Slug        string `json:"subject_slug"`
	Name        string `json:"name"`
	CreatedBy   string `json:"created_by"`
	CreatedOn   int64  `json:"created_on"`
}

// Section is a student grouping under a class
type Section struct {
	ID          int64  `json:"id"`
	InstituteID int64  `json:"institute_id"`
	ClassID     int64  `json:"class_id"`
	Slug        string `json:"section_slug"`
	Name        string `json:"name"`
	CreatedBy   string `json:"created_by"`
	CreatedOn   int64  `json:"created_on"`
}

// Store persists the hierarchy. Create methods return a Conflict error when
// the slug is taken within its parent; Get methods return NotFound.
type Store interface {
	CreateInstitute(ctx context.Context, inst *Institute) error
	GetInstitute(ctx context.Context, id int64) (*Institute, error)
	GetInstituteBySlug(ctx context.Context, slug string) (*Institute, error)
	// DeleteInstitute also removes the institute's permissions and counters
	DeleteInstitute(ctx context.Context, id int64) (bool, error)

	CreateClass(ctx context.Context, class *Class) error
	GetClass(ctx context.Context, id int64) (*Class, error)
	ListClasses(ctx context.Context, instituteID int64) ([]*Class, error)
	DeleteClass(ctx context.Context, id int64) (bool, error)

	CreateSubject(ctx context.Context, subject *Subject) error
	GetSubject(ctx context.Context, id int64) (*Subject, error)
	ListSubjects(ctx context.Context, classID int64) ([]*Subject, error)
	DeleteSubject(ctx context.Context, id int64) (bool, error)

	CreateSection(ctx context.Context, section *Section) error
	GetSection(ctx context.Context, id int64) (*Section, error)
	ListSections(ctx context.Context, classID int64) ([]*Section, error)
	DeleteSection(ctx context.Context, id int64) (bool, error)
}
