package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore copies artifacts under a directory. URLs use baseURL when set and
// file:// otherwise.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) *LocalStore {
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalStore) path(objectName string) (string, error) {
	clean := filepath.Clean("/" + objectName)[1:]
	if clean == "" {
		return "", fmt.Errorf("invalid object name %q", objectName)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *LocalStore) Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	dst, err := s.path(objectName)
	if err != nil {
		return "", err
	}
	clean, _ := filepath.Rel(s.dir, dst)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + filepath.ToSlash(clean), nil
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (s *LocalStore) Delete(ctx context.Context, objectName string) error {
	dst, err := s.path(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// HealthCheck verifies the artifact directory is writable
func (s *LocalStore) HealthCheck(ctx context.Context) (bool, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return false, err
	}
	f, err := os.CreateTemp(s.dir, ".health-*")
	if err != nil {
		return false, err
	}
	f.Close()
	os.Remove(f.Name())
	return true, nil
}
