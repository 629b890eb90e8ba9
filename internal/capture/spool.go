package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultMaxSize bounds a single upload (high-resolution phone photos fit comfortably)
const DefaultMaxSize = 20 << 20

// Upload is an image handed to the server by a client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SpoolCapturer turns one upload into a captured image backed by Storage
type SpoolCapturer struct {
	storage Storage
	upload  Upload
	maxSize int64
	newID   func() string
}

// NewSpoolCapturer creates a capturer for a single upload
func NewSpoolCapturer(storage Storage, upload Upload, maxSize int64) *SpoolCapturer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &SpoolCapturer{
		storage: storage,
		upload:  upload,
		maxSize: maxSize,
		newID:   uuid.NewString,
	}
}

// Capture validates the upload and writes it into the spool
func (s *SpoolCapturer) Capture(ctx context.Context) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := s.upload.Data
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), s.maxSize)
	}

	contentType := DetectContentType(data, s.upload.ContentType, s.upload.Filename)
	if !Supported(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}

	id := s.newID()
	name, err := s.storage.Save(id, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	// The spool now owns the bytes
	s.upload.Data = nil

	return newImage(id, contentType, int64(len(data)), func() (io.ReadCloser, error) {
		return s.storage.Open(name)
	}), nil
}

// Release deletes the spooled image
func (s *SpoolCapturer) Release(img *Image) error {
	if img == nil || !img.markReleased() {
		return nil
	}
	if err := s.storage.Delete(img.ID); err != nil {
		slog.Warn("Failed to delete spooled image", "image_id", img.ID, "error", err)
		return err
	}
	return nil
}
