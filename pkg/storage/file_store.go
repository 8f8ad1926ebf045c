package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore saves objects to disk under a base directory. Keys are
// slash-separated paths relative to the base.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Put writes the object atomically: temp file, fsync, rename.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Get opens a stored file.
func (f *FileStore) Get(_ context.Context, key string) (Object, error) {
	target, err := f.resolve(key)
	if err != nil {
		return Object{}, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return Object{}, ErrObjectNotFound
		}
		return Object{}, fmt.Errorf("open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return Object{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return Object{}, ErrObjectNotFound
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(target)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Object{Body: file, Size: info.Size(), ContentType: contentType}, nil
}

// Delete removes a single file.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// DeletePrefix removes the directory named by prefix and everything under it.
func (f *FileStore) DeletePrefix(_ context.Context, prefix string) error {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return errors.New("delete prefix: empty prefix")
	}
	target, err := f.resolve(prefix)
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(target)
}

func (f *FileStore) resolve(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))
	if cleaned == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}
