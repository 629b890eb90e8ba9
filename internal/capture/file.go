package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileCapturer captures an image that already exists on disk
type FileCapturer struct {
	path    string
	maxSize int64
}

// NewFileCapturer creates a capturer for the image at path
func NewFileCapturer(path string, maxSize int64) *FileCapturer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &FileCapturer{path: path, maxSize: maxSize}
}

// Capture reads the file into memory
func (f *FileCapturer) Capture(ctx context.Context) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(f.path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %w", ErrPermission, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	case info.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnavailable, f.path)
	case info.Size() == 0:
		return nil, ErrEmpty
	case info.Size() > f.maxSize:
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, info.Size(), f.maxSize)
	}

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrPermission, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	contentType := DetectContentType(data, "", f.path)
	if !Supported(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}

	return NewMemoryImage(filepath.Base(f.path), contentType, data), nil
}

// Release drops the buffered bytes
func (f *FileCapturer) Release(img *Image) error {
	if img != nil {
		img.markReleased()
	}
	return nil
}
