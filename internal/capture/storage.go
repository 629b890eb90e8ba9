package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage holds captured images for the lifetime of a single run
type Storage interface {
	// Save writes data under name and returns the stored name
	Save(name string, data []byte) (string, error)

	// Open returns a reader over a stored image
	Open(name string) (io.ReadCloser, error)

	// Delete removes a stored image
	Delete(name string) error
}

// LocalStorage implements Storage on a spool directory of the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the spool directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path keeps every name inside the spool directory
func (l *LocalStorage) path(name string) string {
	return filepath.Join(l.basePath, filepath.Base(name))
}

// Save writes an image into the spool directory
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	if err := os.WriteFile(l.path(name), data, 0600); err != nil {
		return "", fmt.Errorf("writing spool file: %w", err)
	}
	return name, nil
}

// Open opens a spooled image for reading
func (l *LocalStorage) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(name))
	if err != nil {
		return nil, fmt.Errorf("opening spool file: %w", err)
	}
	return f, nil
}

// Delete removes a spooled image
func (l *LocalStorage) Delete(name string) error {
	if err := os.Remove(l.path(name)); err != nil {
		return fmt.Errorf("deleting spool file: %w", err)
	}
	return nil
}
