package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

// ErrNoAudio is returned when a synthesizer finished without producing PCM.
var ErrNoAudio = errors.New("synthesizer produced no audio")

// Render drains a synthesis request into a single playable clip.
func Render(ctx context.Context, synth Synthesizer, req SynthRequest) (*audio.Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("nothing to synthesize")
	}
	chunks, errs := synth.Synthesize(ctx, req)

	var (
		pcm    []byte
		format audio.Format
		synErr error
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if !format.Valid() {
				format = chunk.Format
			} else if chunk.Format != format {
				return nil, fmt.Errorf("synthesizer switched format from %+v to %+v", format, chunk.Format)
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && synErr == nil {
				synErr = err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if synErr != nil {
		return nil, fmt.Errorf("synthesize: %w", synErr)
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	return audio.ClipFromPCM(pcm, format)
}
