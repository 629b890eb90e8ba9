package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/vegan-scanner/internal/capture"
)

// pdfToPNG renders the first page of a PDF (ingredient sheets are single page)
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	return encodePNG(img)
}

// imageToPNG decodes JPEG, GIF, PNG or HEIC data and re-encodes it as PNG
func imageToPNG(data []byte, contentType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)

	if capture.IsHEIC(data) || capture.IsHEICType(contentType) {
		// Go's standard image package doesn't know HEIC
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// preparePNG reads a captured image and returns it as PNG bytes, which every
// vision backend accepts
func preparePNG(img *capture.Image) ([]byte, error) {
	data, err := img.Bytes()
	if err != nil {
		return nil, err
	}

	switch {
	case img.ContentType == "application/pdf":
		return pdfToPNG(data)
	case img.ContentType == "image/png" && !capture.IsHEIC(data):
		return data, nil
	default:
		return imageToPNG(data, img.ContentType)
	}
}
