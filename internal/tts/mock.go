package tts

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

type mockSynth struct {
	format  audio.Format
	perRune time.Duration
}

// NewMockSynth returns a synthesizer that emits silence lasting perRune for
// every rune of text, so narration timing resembles real speech.
func NewMockSynth(sampleRate, channels int, perRune time.Duration) Synthesizer {
	return &mockSynth{format: audio.Format{SampleRate: sampleRate, Channels: channels}, perRune: perRune}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		default:
		}
		d := time.Duration(utf8.RuneCountInString(req.Text)) * m.perRune
		frames := int(d * time.Duration(m.format.SampleRate) / time.Second)
		chunks <- SynthChunk{
			Format: m.format,
			PCM:    make([]byte, frames*m.format.Channels*2),
			Final:  true,
		}
	}()
	return chunks, errs
}
