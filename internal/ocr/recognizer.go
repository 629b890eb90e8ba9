package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/zombor/vegan-scanner/internal/capture"
)

// ErrRecognition wraps every failure of the OCR engine itself
var ErrRecognition = errors.New("text recognition failed")

// Recognizer is the OCR engine. An empty block list is a valid answer.
type Recognizer interface {
	// Recognize returns the text blocks of the image in reading order
	Recognize(ctx context.Context, img *capture.Image) ([]string, error)
	// Close releases the engine's resources
	Close() error
}

// recognizePrompt is shared by the vision backends
const recognizePrompt = `You are an OCR engine. Transcribe all printed text in the image exactly as written, in reading order, without translating, correcting or summarizing it.

Return ONLY a JSON array of strings, one string per visually separate text block, for example:
["Ingredienser: vatten, socker", "Bäst före: se förpackningen"]

If the image contains no readable text, return [].
Do not include any text before or after the JSON.`

// parseBlocks decodes a vision model reply into text blocks. Models sometimes
// wrap the array in prose or code fences, or answer with plain text; plain
// text is split into blocks on blank lines.
func parseBlocks(reply string) []string {
	text := strings.TrimSpace(reply)
	if text == "" {
		return nil
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start != -1 && end > start {
		var blocks []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &blocks); err == nil {
			return compactBlocks(blocks)
		}
	}

	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return compactBlocks(strings.Split(text, "\n\n"))
}

func compactBlocks(blocks []string) []string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
