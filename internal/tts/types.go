// Package tts turns narration text into playable audio.
package tts

import (
	"context"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

// SynthRequest asks for one utterance. An empty Voice selects the backend
// default.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk is a run of 16-bit little-endian PCM. Every chunk of one
// request shares the same Format.
type SynthChunk struct {
	Sequence int
	Format   audio.Format
	PCM      []byte
	Final    bool
}

// Synthesizer streams the audio for a request. Both channels are closed when
// synthesis ends; errs carries at most one error. Implementations must be
// safe to call repeatedly with the same text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
