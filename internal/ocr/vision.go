package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-reader/internal/llm"
)

type visionExtractor struct {
	generator llm.Generator
	maxTokens int
	logger    *slog.Logger
}

// NewVisionExtractor transcribes pages with a multimodal model, for example
// an Ollama llava generator.
func NewVisionExtractor(generator llm.Generator, maxTokens int, logger *slog.Logger) Extractor {
	return &visionExtractor{
		generator: generator,
		maxTokens: maxTokens,
		logger:    logger.With(slog.String("component", "ocr")),
	}
}

func (v *visionExtractor) ExtractText(ctx context.Context, imagePath string) (string, error) {
	image, err := encodeImage(imagePath)
	if err != nil {
		return "", err
	}
	start := time.Now()
	text, _, err := llm.Collect(ctx, v.generator, llm.Request{
		Prompt:    RefinementPrompt,
		MaxTokens: v.maxTokens,
		Images:    []string{image},
	})
	if err != nil {
		return "", fmt.Errorf("vision ocr: %w", err)
	}
	v.logger.Info("page transcribed",
		slog.String("image", imagePath),
		slog.Int("chars", len(text)),
		slog.Duration("latency", time.Since(start)))
	return text, nil
}
