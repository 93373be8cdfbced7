package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalStorage is the directory-backed fallback used when no S3
// credentials are configured, so development runs still produce real
// artifacts on disk.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

func (l *LocalStorage) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	path := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &AssetIOError{Op: "upload", Key: key, Err: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", &AssetIOError{Op: "upload", Key: key, Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", &AssetIOError{Op: "upload", Key: key, Err: err}
	}
	return l.GetPublicURL(key), nil
}

func (l *LocalStorage) Download(_ context.Context, key string, dst io.Writer) error {
	f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(key)))
	if err != nil {
		return &AssetIOError{Op: "download", Key: key, Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return &AssetIOError{Op: "download", Key: key, Err: err}
	}
	return nil
}

func (l *LocalStorage) Delete(_ context.Context, key string) error {
	return os.Remove(filepath.Join(l.root, filepath.FromSlash(key)))
}

func (l *LocalStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return l.GetPublicURL(key), nil
}

func (l *LocalStorage) GetPublicURL(key string) string {
	return "file://" + filepath.Join(l.root, filepath.FromSlash(key))
}
