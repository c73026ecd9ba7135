package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/lectern/pkg/observability"
)

// FilesPathPrefix is where Handler is mounted by the server
const FilesPathPrefix = "/files/"

// FileStore keeps blobs under a local directory
type FileStore struct {
	rootDir string
	baseURL string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the root directory if needed. baseURL prefixes the
// URL of stored objects and may be empty.
func NewFileStore(rootDir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileStore{rootDir: rootDir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put implements Store.Put. The blob is written to a temporary file and
// renamed into place so readers never see a partial file.
func (s *FileStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error) {
	_, span := observability.Tracer().Start(ctx, "blobstore.FileStore.Put", trace.WithAttributes(
		attribute.String("blob.key", key),
		attribute.String("content.type", contentType),
	))
	defer span.End()

	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	target := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), body)
	if err != nil {
		tmp.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("failed to move blob into place: %w", err)
	}

	span.SetAttributes(attribute.Int64("content.size", size))
	return &Object{
		Key:            key,
		URL:            s.url(key),
		Size:           size,
		ContentType:    contentType,
		ChecksumSHA256: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Delete implements Store.Delete
func (s *FileStore) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.rootDir, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// HealthCheck verifies the root directory is still there
func (s *FileStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("blob root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root %s is not a directory", s.rootDir)
	}
	return nil
}

func (s *FileStore) url(key string) string {
	if s.baseURL == "" {
		return "/" + key
	}
	return s.baseURL + "/" + key
}

// Handler serves stored blobs under FilesPathPrefix. Directory listings are
// not served.
func (s *FileStore) Handler() http.Handler {
	files := http.StripPrefix(FilesPathPrefix, http.FileServer(http.Dir(s.rootDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || strings.Contains(r.URL.Path, "/.") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
