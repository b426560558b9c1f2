package storage

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// Uploader publishes artifacts and returns the URL they can be fetched from.
// Delete of a missing object is not an error.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (url string, err error)
	Delete(ctx context.Context, objectName string) error
}

// UploadFile uploads a local file, inferring its content type from the extension
func UploadFile(ctx context.Context, u Uploader, objectName, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return u.Upload(ctx, objectName, contentType, f)
}
