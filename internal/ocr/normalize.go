package ocr

import (
	"errors"
	"strings"
)

// ErrNoText is returned when the recognized blocks collapse to nothing.
var ErrNoText = errors.New("no text found in image")

// ExtractedText holds the raw OCR blocks and their normalized form
type ExtractedText struct {
	Raw        []string
	Normalized string
}

// NewExtractedText normalizes blocks and fails with ErrNoText when nothing is left
func NewExtractedText(blocks []string) (ExtractedText, error) {
	normalized := Normalize(blocks)
	if normalized == "" {
		return ExtractedText{}, ErrNoText
	}
	raw := make([]string, len(blocks))
	copy(raw, blocks)
	return ExtractedText{Raw: raw, Normalized: normalized}, nil
}

// Normalize joins blocks with a newline, collapses every whitespace run to a
// single space and trims the result. Empty or whitespace-only input yields "".
func Normalize(blocks []string) string {
	if len(blocks) == 0 {
		return ""
	}
	// strings.Fields splits on unicode.IsSpace, which covers the joining newlines
	return strings.Join(strings.Fields(strings.Join(blocks, "\n")), " ")
}
