package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-reader/internal/config"
)

const summarySystemPrompt = "You are an AI summarizer for a blind reader. Answer in plain spoken sentences without formatting."

// ErrEmptySummary is returned when the model answered with nothing.
var ErrEmptySummary = errors.New("model returned an empty summary")

// Summarizer condenses narrated text with a Generator.
type Summarizer struct {
	generator Generator
	defaults  Request
	logger    *slog.Logger
}

func NewSummarizer(generator Generator, cfg config.LLMConfig, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		generator: generator,
		defaults:  Request{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature},
		logger:    logger.With(slog.String("component", "summarizer")),
	}
}

// Summarize returns a concise summary of text. Blank input yields a fixed
// reply without calling the model.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "No text provided.", nil
	}

	req := s.defaults
	req.System = summarySystemPrompt
	req.Prompt = SummaryPrompt(text)

	start := time.Now()
	summary, usage, err := Collect(ctx, s.generator, req)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	if summary == "" {
		return "", ErrEmptySummary
	}
	s.logger.Info("summary generated",
		slog.Int("input_chars", len(text)),
		slog.Int("summary_chars", len(summary)),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens),
		slog.Duration("latency", time.Since(start)))
	return summary, nil
}

// SummaryPrompt caps the summary at roughly a quarter of the input's length
// in words.
func SummaryPrompt(text string) string {
	limit := utf8.RuneCountInString(text) / 4
	if limit < 1 {
		limit = 1
	}
	return fmt.Sprintf("Summarize the following text clearly and concisely without changing the meaning (%d words max):\n\nTEXT:\n\"\"\"%s\"\"\"", limit, text)
}
