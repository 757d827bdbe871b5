package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-reader/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingGenerator struct {
	req    Request
	chunks []string
	err    error
}

func (r *recordingGenerator) Generate(_ context.Context, req Request, consumer func(Chunk) error) error {
	r.req = req
	if r.err != nil {
		return r.err
	}
	for i, c := range r.chunks {
		if err := consumer(Chunk{Content: c, Done: i == len(r.chunks)-1}); err != nil {
			return err
		}
	}
	return nil
}

func TestSummarizeJoinsChunks(t *testing.T) {
	gen := &recordingGenerator{chunks: []string{"The doctor ", "left early."}}
	s := NewSummarizer(gen, config.Default().LLM, newLogger())
	got, err := s.Summarize(context.Background(), "Hi. Dr. Smith left. Ok.")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != "The doctor left early." {
		t.Fatalf("unexpected summary %q", got)
	}
	if !strings.Contains(gen.req.Prompt, `"""Hi. Dr. Smith left. Ok."""`) {
		t.Fatalf("prompt does not quote the text: %q", gen.req.Prompt)
	}
	if gen.req.MaxTokens != config.Default().LLM.MaxTokens {
		t.Fatalf("expected config defaults, got %+v", gen.req)
	}
}

func TestSummarizeBlankInputSkipsModel(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("must not be called")}
	s := NewSummarizer(gen, config.Default().LLM, newLogger())
	got, err := s.Summarize(context.Background(), "   ")
	if err != nil || got != "No text provided." {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSummarizeErrors(t *testing.T) {
	s := NewSummarizer(&recordingGenerator{err: errors.New("offline")}, config.Default().LLM, newLogger())
	if _, err := s.Summarize(context.Background(), "text"); err == nil {
		t.Fatal("expected generator error")
	}
	s = NewSummarizer(&recordingGenerator{chunks: []string{"  "}}, config.Default().LLM, newLogger())
	if _, err := s.Summarize(context.Background(), "text"); !errors.Is(err, ErrEmptySummary) {
		t.Fatalf("expected ErrEmptySummary, got %v", err)
	}
}

func TestSummaryPromptWordLimit(t *testing.T) {
	if p := SummaryPrompt(strings.Repeat("a", 40)); !strings.Contains(p, "(10 words max)") {
		t.Fatalf("unexpected prompt %q", p)
	}
	if p := SummaryPrompt("ab"); !strings.Contains(p, "(1 words max)") {
		t.Fatalf("unexpected prompt %q", p)
	}
}

func TestMockGeneratorSummarizesFirstSentence(t *testing.T) {
	s := NewSummarizer(NewMockGenerator(), config.Default().LLM, newLogger())
	got, err := s.Summarize(context.Background(), "First thing happened. Then another.")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != "In short: First thing happened." {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, `{"response":"Smith ","done":false}`)
		fmt.Fprintln(w, `{"response":"left.","done":true,"eval_count":3,"prompt_eval_count":12}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL+"/", "tiny", srv.Client())
	var parts []Chunk
	err := gen.Generate(context.Background(), Request{Prompt: "x"}, func(c Chunk) error {
		parts = append(parts, c)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(parts) != 2 || parts[0].Done || !parts[1].Done {
		t.Fatalf("unexpected chunks %+v", parts)
	}
	if parts[1].Usage.CompletionTokens != 3 || parts[1].Usage.PromptTokens != 12 {
		t.Fatalf("token counts not propagated: %+v", parts[1])
	}
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()
	gen := NewOllamaGenerator(srv.URL, "", srv.Client())
	if err := gen.Generate(context.Background(), Request{Prompt: "x"}, func(Chunk) error { return nil }); err == nil {
		t.Fatal("expected status error")
	}
}

func TestOllamaGeneratorStreamErrors(t *testing.T) {
	cases := map[string]string{
		"error field": `{"error":"model is loading"}`,
		"no done":     `{"response":"half","done":false}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, body)
			}))
			defer srv.Close()
			gen := NewOllamaGenerator(srv.URL, "tiny", srv.Client())
			if err := gen.Generate(context.Background(), Request{Prompt: "x"}, func(Chunk) error { return nil }); err == nil {
				t.Fatal("expected stream error")
			}
		})
	}
}

func TestExecGeneratorStreamsLines(t *testing.T) {
	gen, err := NewExecGenerator(`sh -c "echo '{\"content\":\"Smith \",\"done\":false}'; echo '{\"content\":\"left.\",\"completion_tokens\":2}'"`)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, usage, err := Collect(context.Background(), gen, Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "Smith left." || usage.CompletionTokens != 2 {
		t.Fatalf("got %q %+v", text, usage)
	}
}
