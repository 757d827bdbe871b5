package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-reader/internal/procexec"
)

// execGenerator sends the request as JSON on stdin. The command answers
// with one {"content", "done", "prompt_tokens", "completion_tokens"} object
// per line; an object without "done" counts as final.
type execGenerator struct {
	command procexec.Command
	mu      sync.Mutex
}

func NewExecGenerator(command string) (Generator, error) {
	cmd, err := procexec.Parse("llm", command)
	if err != nil {
		return nil, err
	}
	return &execGenerator{command: cmd}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	input := struct {
		Prompt      string   `json:"prompt"`
		System      string   `json:"system,omitempty"`
		MaxTokens   int      `json:"max_tokens"`
		Temperature float64  `json:"temperature"`
		Images      []string `json:"images,omitempty"`
	}{req.Prompt, req.System, req.MaxTokens, req.Temperature, req.Images}

	return g.command.Stream(ctx, input, func(line []byte) error {
		var resp struct {
			Content          string `json:"content"`
			Done             *bool  `json:"done"`
			PromptTokens     int    `json:"prompt_tokens"`
			CompletionTokens int    `json:"completion_tokens"`
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			return fmt.Errorf("decode llm response: %w", err)
		}
		chunk := Chunk{Content: resp.Content, Done: resp.Done == nil || *resp.Done}
		if chunk.Done {
			chunk.Usage = Usage{PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens}
		}
		return consumer(chunk)
	})
}
