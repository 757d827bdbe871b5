// Package stt turns a spoken utterance into text for the voice command lane.
package stt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

// Transcript is what a recognizer heard. Empty Text means nothing usable.
type Transcript struct {
	Text       string
	Confidence float64
}

type Recognizer interface {
	Transcribe(ctx context.Context, utterance *audio.Clip) (Transcript, error)
}

// Capturer records a fixed-length utterance from the microphone.
type Capturer interface {
	Capture(ctx context.Context, d time.Duration) (*audio.Clip, error)
}

// Listener records and transcribes one utterance. An empty string means
// nothing was recognized.
type Listener interface {
	CaptureAndTranscribe(ctx context.Context, d time.Duration) (string, error)
}

// Pipeline joins a Capturer and a Recognizer into a Listener.
type Pipeline struct {
	capturer   Capturer
	recognizer Recognizer
	logger     *slog.Logger
}

func NewPipeline(capturer Capturer, recognizer Recognizer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		capturer:   capturer,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "stt")),
	}
}

func (p *Pipeline) CaptureAndTranscribe(ctx context.Context, d time.Duration) (string, error) {
	start := time.Now()
	clip, err := p.capturer.Capture(ctx, d)
	if err != nil {
		return "", fmt.Errorf("capture audio: %w", err)
	}
	if clip.Empty() {
		p.logger.Debug("capture returned no audio")
		return "", nil
	}
	heard, err := p.recognizer.Transcribe(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	text := strings.TrimSpace(heard.Text)
	p.logger.Info("utterance transcribed",
		slog.String("text", text),
		slog.Float64("confidence", heard.Confidence),
		slog.Duration("audio", clip.Duration()),
		slog.Duration("latency", time.Since(start)))
	return text, nil
}
