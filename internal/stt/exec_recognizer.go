package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/procexec"
)

// execRecognizer hands each utterance to a transcriber command as a WAV
// file and reads back {"text": ..., "confidence": ...}. An empty stdout
// means silence.
type execRecognizer struct {
	command  procexec.Command
	model    string
	language string

	// One transcription at a time; whisper-style engines load the model per run.
	mu sync.Mutex
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	cmd, err := procexec.Parse("stt", cfg.Command)
	if err != nil {
		return nil, err
	}
	return &execRecognizer{command: cmd, model: cfg.ModelPath, language: cfg.Language}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, utterance *audio.Clip) (Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wavPath, err := writeTempWAV(utterance)
	if err != nil {
		return Transcript{}, err
	}
	defer os.Remove(wavPath)

	stdout, err := r.command.Args(r.args(wavPath)...).Run(ctx)
	if err != nil {
		return Transcript{}, err
	}
	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		return Transcript{}, nil
	}
	var resp struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return Transcript{}, fmt.Errorf("decode stt response: %w", err)
	}
	return Transcript{Text: resp.Text, Confidence: resp.Confidence}, nil
}

func (r *execRecognizer) args(wavPath string) []string {
	args := []string{"--audio", wavPath}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	if r.language != "" {
		args = append(args, "--language", r.language)
	}
	return args
}

func writeTempWAV(clip *audio.Clip) (string, error) {
	file, err := os.CreateTemp("", "loqa_reader_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	if err := audio.EncodeWAV(file, clip); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("write utterance: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}
