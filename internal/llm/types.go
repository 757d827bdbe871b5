// Package llm talks to language models: the summarizer for narrated text
// and the vision model behind page transcription.
package llm

import (
	"context"
	"strings"
)

// Request is one prompt. Zero MaxTokens or Temperature keep the backend
// default.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	// Images are base64-encoded pictures for vision models.
	Images []string
}

// Usage is the token accounting a backend reported, if any.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Chunk is a piece of streamed output. Usage is only set on the Done chunk.
type Chunk struct {
	Content string
	Done    bool
	Usage   Usage
}

// Generator streams a completion to consumer. An error from consumer stops
// generation and is returned as is.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// Collect runs req to completion and returns the trimmed output.
func Collect(ctx context.Context, gen Generator, req Request) (string, Usage, error) {
	var (
		out   strings.Builder
		usage Usage
	)
	err := gen.Generate(ctx, req, func(chunk Chunk) error {
		out.WriteString(chunk.Content)
		if chunk.Done {
			usage = chunk.Usage
		}
		return nil
	})
	return strings.TrimSpace(out.String()), usage, err
}
