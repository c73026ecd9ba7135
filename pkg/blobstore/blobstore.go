package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for keys that are empty, absolute or escape the
// store root
var ErrInvalidKey = errors.New("invalid blob key")

// Object describes a stored blob
type Object struct {
	Key            string `json:"key"`
	URL            string `json:"url"`
	Size           int64  `json:"size"`
	ContentType    string `json:"content_type"`
	ChecksumSHA256 string `json:"checksum_sha256"`
}

// Store is a blob backend
type Store interface {
	// Put writes body under key, replacing any existing blob
	Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// NewKey returns a fresh key for a material under a subject
func NewKey(instituteID, subjectID int64, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	return fmt.Sprintf("institutes/%d/subjects/%d/%s", instituteID, subjectID, name)
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
