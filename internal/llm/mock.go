package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator echoes the first sentence of the quoted text back, which
// is enough to exercise the summary lane without a model.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	body := req.Prompt
	if start := strings.Index(body, `"""`); start >= 0 {
		body = body[start+3:]
		if end := strings.Index(body, `"""`); end >= 0 {
			body = body[:end]
		}
	}
	body = strings.TrimSpace(body)
	if idx := strings.IndexAny(body, ".!?"); idx >= 0 {
		body = body[:idx+1]
	}
	return consumer(Chunk{Content: "In short: " + body, Done: true})
}
