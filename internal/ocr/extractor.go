package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/vegan-scanner/internal/capture"
)

// DefaultTimeout bounds a single OCR call
const DefaultTimeout = 30 * time.Second

// Extractor runs the OCR engine on a captured image and normalizes the result
type Extractor struct {
	recognizer Recognizer
	timeout    time.Duration
	logger     *slog.Logger
}

// NewExtractor creates an Extractor. A zero timeout means DefaultTimeout.
func NewExtractor(recognizer Recognizer, timeout time.Duration, logger *slog.Logger) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		recognizer: recognizer,
		timeout:    timeout,
		logger:     logger,
	}
}

// Extract returns the image's text. Engine failures wrap ErrRecognition and an
// image without usable text fails with ErrNoText. Nothing is retried here.
func (e *Extractor) Extract(ctx context.Context, img *capture.Image) (ExtractedText, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	blocks, err := e.recognizer.Recognize(ctx, img)
	if err != nil {
		return ExtractedText{}, fmt.Errorf("%w: %w", ErrRecognition, err)
	}

	text, err := NewExtractedText(blocks)
	if err != nil {
		e.logger.WarnContext(ctx, "No text found in image",
			"image_id", img.ID,
			"blocks", len(blocks),
		)
		return ExtractedText{}, err
	}

	e.logger.DebugContext(ctx, "Extracted text",
		"image_id", img.ID,
		"blocks", len(blocks),
		"length", len(text.Normalized),
	)
	return text, nil
}
