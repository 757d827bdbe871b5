package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/config"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPipelineCyclesMockPhrases(t *testing.T) {
	p := NewPipeline(NewMockCapturer(mono16k, false), NewMockRecognizer([]string{" resume ", "quit"}), newLogger())
	ctx := context.Background()
	for _, want := range []string{"resume", "quit", "resume"} {
		got, err := p.CaptureAndTranscribe(ctx, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestPipelineWithoutPhrasesHearsNothing(t *testing.T) {
	p := NewPipeline(NewMockCapturer(mono16k, false), NewMockRecognizer(nil), newLogger())
	got, err := p.CaptureAndTranscribe(context.Background(), 50*time.Millisecond)
	if err != nil || got != "" {
		t.Fatalf("expected empty transcript, got %q (%v)", got, err)
	}
}

type failingCapturer struct{}

func (failingCapturer) Capture(context.Context, time.Duration) (*audio.Clip, error) {
	return nil, errors.New("microphone busy")
}

func TestPipelineCaptureError(t *testing.T) {
	p := NewPipeline(failingCapturer{}, NewMockRecognizer([]string{"resume"}), newLogger())
	if _, err := p.CaptureAndTranscribe(context.Background(), time.Second); err == nil {
		t.Fatal("expected capture error")
	}
}

func TestRealtimeCaptureHonoursContext(t *testing.T) {
	c := NewMockCapturer(mono16k, true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Capture(ctx, 5*time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestExecCapturerDropsDanglingByte(t *testing.T) {
	c, err := NewExecCapturer("head -c 5 /dev/zero", mono16k)
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}
	clip, err := c.Capture(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if clip.Frames() != 2 {
		t.Fatalf("expected 2 frames, got %d", clip.Frames())
	}
}

func TestExecRecognizerReadsTranscript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "transcribe.sh")
	body := "#!/bin/sh\ntest \"$1\" = --audio && test -s \"$2\" || exit 1\necho '{\"text\":\" resume \",\"confidence\":0.5}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := config.Default().STT
	cfg.Command = script
	cfg.Language = ""
	cfg.ModelPath = ""
	r, err := NewExecRecognizer(cfg)
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	p := NewPipeline(NewMockCapturer(mono16k, false), r, newLogger())
	got, err := p.CaptureAndTranscribe(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "resume" {
		t.Fatalf("got %q", got)
	}
}

func TestExecRecognizerSilence(t *testing.T) {
	cfg := config.Default().STT
	cfg.Command = "true"
	r, err := NewExecRecognizer(cfg)
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	heard, err := r.Transcribe(context.Background(), audio.Silence(mono16k, 10*time.Millisecond))
	if err != nil || heard.Text != "" {
		t.Fatalf("expected silence, got %+v (%v)", heard, err)
	}
}

func TestExecRecognizerEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.STTConfig{Command: "  "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
