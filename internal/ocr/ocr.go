// Package ocr turns a captured page image into plain text.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// RefinementPrompt is sent with the image to vision models.
const RefinementPrompt = `This image was captured by a blind user.
Extract the exact text from the book page.
Do not paraphrase or modify anything.
Do not add asterisks or other formatting.`

// Extractor reads the text printed on an image. An empty result means the
// page was blank or unreadable; it is not an error.
type Extractor interface {
	ExtractText(ctx context.Context, imagePath string) (string, error)
}

var errNoImage = errors.New("image path is empty")

func encodeImage(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errNoImage
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image %s is empty", path)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

type mockExtractor struct {
	text string
}

// NewMockExtractor returns text for every image.
func NewMockExtractor(text string) Extractor {
	return &mockExtractor{text: text}
}

func (m *mockExtractor) ExtractText(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(imagePath) == "" {
		return "", errNoImage
	}
	return m.text, nil
}
