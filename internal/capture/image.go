// Package capture provides the still images a scan run works on and the
// collaborators that acquire and release them.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

var (
	ErrPermission  = errors.New("capture permission denied")
	ErrUnavailable = errors.New("capture source unavailable")
	ErrEmpty       = errors.New("captured image is empty")
	ErrTooLarge    = errors.New("captured image is too large")
	ErrUnsupported = errors.New("unsupported image format")
	ErrReleased    = errors.New("image already released")
)

// Capturer acquires one still image per call and releases it afterwards
type Capturer interface {
	// Capture acquires an image. The caller must Release it.
	Capture(ctx context.Context) (*Image, error)
	// Release frees whatever backs the image
	Release(img *Image) error
}

// Image is an opaque handle to captured image bytes owned by a Capturer
type Image struct {
	ID          string
	ContentType string
	Size        int64

	open     func() (io.ReadCloser, error)
	released atomic.Bool
}

func newImage(id, contentType string, size int64, open func() (io.ReadCloser, error)) *Image {
	return &Image{
		ID:          id,
		ContentType: contentType,
		Size:        size,
		open:        open,
	}
}

// NewMemoryImage wraps bytes that are already in memory
func NewMemoryImage(id, contentType string, data []byte) *Image {
	return newImage(id, contentType, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// Open returns a reader over the image bytes
func (i *Image) Open() (io.ReadCloser, error) {
	if i.released.Load() {
		return nil, ErrReleased
	}
	return i.open()
}

// Bytes reads the whole image
func (i *Image) Bytes() ([]byte, error) {
	rc, err := i.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", i.ID, err)
	}
	return data, nil
}

// Released reports whether the owning Capturer has released the image
func (i *Image) Released() bool {
	return i.released.Load()
}

// markReleased returns false if the image was already released
func (i *Image) markReleased() bool {
	return i.released.CompareAndSwap(false, true)
}
