package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/petgo/apiserver/config"
)

// LocalClient stores objects as files under a directory on local disk.
// It is the default backend for uploaded photos; keys map to file names
// and URLs are served-relative paths (e.g. "/uploads/<key>").
type LocalClient struct {
	dir     string
	baseURL string
}

// NewLocalClient constructs a local-disk backend from config.
func NewLocalClient(cfg config.LocalStoreConfig) (*LocalClient, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("uploads dir is required")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "/uploads"
	}

	return &LocalClient{
		dir:     cfg.Dir,
		baseURL: baseURL,
	}, nil
}

// EnsureBucket creates the upload directory if it does not exist.
func (l *LocalClient) EnsureBucket(ctx context.Context) error {
	return os.MkdirAll(l.dir, 0o755)
}

// Put writes an object to the upload directory.
func (l *LocalClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	path, err := l.objectPath(key)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	return file.Close()
}

// Get opens a reader for an object in the upload directory.
func (l *LocalClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.objectPath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes an object from the upload directory.
func (l *LocalClient) Delete(ctx context.Context, key string) error {
	path, err := l.objectPath(key)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// URL returns the served-relative path of an object.
func (l *LocalClient) URL(key string) string {
	return l.baseURL + "/" + key
}

// Bucket returns the upload directory.
func (l *LocalClient) Bucket() string {
	return l.dir
}

func (l *LocalClient) objectPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || key != filepath.Base(key) {
		return "", errors.New("invalid object key")
	}
	return filepath.Join(l.dir, key), nil
}
