package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps every blob as a flat file inside one directory.
type FileStore struct {
	directory string
}

func NewFileStore(directory string) (*FileStore, error) {
	if directory == "" {
		directory = "uploads"
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", directory, err)
	}
	return &FileStore{directory: directory}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid blob key %q", key)
	}
	target := filepath.Join(s.directory, key)
	tmp, err := os.CreateTemp(s.directory, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name()) // fails harmlessly once renamed
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move blob %s into place: %w", key, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: invalid key %q", ErrBlobNotFound, key)
	}
	data, err := os.ReadFile(filepath.Join(s.directory, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}
