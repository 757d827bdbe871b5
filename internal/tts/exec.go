package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/procexec"
)

// execSynth feeds {"text","voice","sample_rate","channels"} to an engine
// command and reads one JSON chunk per stdout line, either raw PCM or a
// whole WAV for engines that only write files.
type execSynth struct {
	command procexec.Command
	voice   string
	format  audio.Format

	// Engines are started one utterance at a time.
	mu sync.Mutex
}

func NewExecSynth(command, voice string, sampleRate, channels int) (Synthesizer, error) {
	cmd, err := procexec.Parse("tts", command)
	if err != nil {
		return nil, err
	}
	return &execSynth{command: cmd, voice: voice, format: audio.Format{SampleRate: sampleRate, Channels: channels}}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	if req.Voice == "" {
		req.Voice = e.voice
	}
	input := struct {
		SessionID  string `json:"session_id,omitempty"`
		Text       string `json:"text"`
		Voice      string `json:"voice"`
		SampleRate int    `json:"sample_rate"`
		Channels   int    `json:"channels"`
	}{req.SessionID, req.Text, req.Voice, e.format.SampleRate, e.format.Channels}

	e.mu.Lock()
	go func() {
		defer e.mu.Unlock()
		defer close(errs)
		defer close(chunks)

		seq := 0
		err := e.command.Stream(ctx, input, func(line []byte) error {
			chunk, err := e.decode(line)
			if err != nil {
				return err
			}
			chunk.Sequence = seq
			seq++
			select {
			case chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) decode(line []byte) (SynthChunk, error) {
	var resp struct {
		PCM   string `json:"pcm_base64"`
		WAV   string `json:"wav_base64"`
		Final bool   `json:"final"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return SynthChunk{}, fmt.Errorf("decode tts response: %w", err)
	}
	if resp.WAV == "" {
		pcm, err := base64.StdEncoding.DecodeString(resp.PCM)
		if err != nil {
			return SynthChunk{}, fmt.Errorf("decode tts pcm: %w", err)
		}
		return SynthChunk{Format: e.format, PCM: pcm, Final: resp.Final}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(resp.WAV)
	if err != nil {
		return SynthChunk{}, fmt.Errorf("decode tts wav: %w", err)
	}
	clip, err := audio.DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		return SynthChunk{}, err
	}
	return SynthChunk{Format: clip.Format, PCM: clip.PCM(), Final: resp.Final}, nil
}
