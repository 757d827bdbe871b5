package stt

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

type mockRecognizer struct {
	mu      sync.Mutex
	phrases []string
	next    int
}

// NewMockRecognizer cycles through phrases, one per utterance. With no
// phrases it never recognizes anything.
func NewMockRecognizer(phrases []string) Recognizer {
	return &mockRecognizer{phrases: append([]string(nil), phrases...)}
}

func (m *mockRecognizer) Transcribe(context.Context, *audio.Clip) (Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.phrases) == 0 {
		return Transcript{}, nil
	}
	text := m.phrases[m.next%len(m.phrases)]
	m.next++
	return Transcript{Text: text, Confidence: 1}, nil
}

type silenceCapturer struct {
	format   audio.Format
	realtime bool
}

// NewMockCapturer returns silence of the requested duration. When realtime
// is set it also waits that long, like a real microphone.
func NewMockCapturer(format audio.Format, realtime bool) Capturer {
	return &silenceCapturer{format: format, realtime: realtime}
}

func (s *silenceCapturer) Capture(ctx context.Context, d time.Duration) (*audio.Clip, error) {
	if s.realtime {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return audio.Silence(s.format, d), nil
}
