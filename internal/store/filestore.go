package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskFileStore keeps shared file attachments under a single directory.
// Names are flattened to their base name so a crafted name can never write
// outside the directory.
type DiskFileStore struct {
	dir string
}

// NewDiskFileStore creates the storage directory if needed.
func NewDiskFileStore(dir string) (*DiskFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create file storage directory: %w", err)
	}
	return &DiskFileStore{dir: dir}, nil
}

func (f *DiskFileStore) resolve(name string) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) || strings.TrimSpace(base) == "" {
		return "", ErrUnsafePath
	}
	return filepath.Join(f.dir, base), nil
}

// SaveFile writes the content atomically: a temp file rename so readers never
// observe a half-written file.
func (f *DiskFileStore) SaveFile(ctx context.Context, name string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.resolve(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	return nil
}

// GetFilePath returns the on-disk path of a stored file.
func (f *DiskFileStore) GetFilePath(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := f.resolve(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file not found: %w", err)
	}
	return path, nil
}
