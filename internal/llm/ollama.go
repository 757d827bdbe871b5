package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOllamaModel = "llama3.2:latest"

// ollamaGenerator streams from Ollama's /api/generate, which answers with
// newline-delimited JSON objects until one has "done": true.
type ollamaGenerator struct {
	url    string
	model  string
	client *http.Client
}

func NewOllamaGenerator(endpoint, model string, client *http.Client) Generator {
	if client == nil {
		client = http.DefaultClient
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollamaGenerator{
		url:    strings.TrimRight(endpoint, "/") + "/api/generate",
		model:  model,
		client: client,
	}
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	resp, err := g.post(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var part struct {
			Response        string `json:"response"`
			Done            bool   `json:"done"`
			Error           string `json:"error"`
			EvalCount       int    `json:"eval_count"`
			PromptEvalCount int    `json:"prompt_eval_count"`
		}
		if err := dec.Decode(&part); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("ollama stream ended before done")
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("decode ollama stream: %w", err)
		}
		if part.Error != "" {
			return fmt.Errorf("ollama: %s", part.Error)
		}
		chunk := Chunk{Content: part.Response, Done: part.Done}
		if part.Done {
			chunk.Usage = Usage{PromptTokens: part.PromptEvalCount, CompletionTokens: part.EvalCount}
		}
		if err := consumer(chunk); err != nil {
			return err
		}
		if part.Done {
			return nil
		}
	}
}

func (g *ollamaGenerator) post(ctx context.Context, req Request) (*http.Response, error) {
	type options struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	}
	body, err := json.Marshal(struct {
		Model   string   `json:"model"`
		Prompt  string   `json:"prompt"`
		System  string   `json:"system,omitempty"`
		Images  []string `json:"images,omitempty"`
		Stream  bool     `json:"stream"`
		Options options  `json:"options"`
	}{g.model, req.Prompt, req.System, req.Images, true, options{req.Temperature, req.MaxTokens}})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
