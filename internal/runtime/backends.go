package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/llm"
	"github.com/loqalabs/loqa-reader/internal/ocr"
	"github.com/loqalabs/loqa-reader/internal/stt"
	"github.com/loqalabs/loqa-reader/internal/tts"
)

func newSink(cfg config.AudioConfig, logger *slog.Logger) (audio.Sink, error) {
	switch cfg.Sink {
	case "exec":
		return audio.NewExecSink(cfg.Command, logger)
	default:
		return audio.NullSink{}, nil
	}
}

// NewSynthesizer returns the configured text-to-speech backend.
func NewSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "exec":
		return tts.NewExecSynth(cfg.Command, cfg.Voice, cfg.SampleRate, cfg.Channels)
	default:
		return tts.NewMockSynth(cfg.SampleRate, cfg.Channels, time.Duration(cfg.MSPerRune)*time.Millisecond), nil
	}
}

func newListener(cfg config.STTConfig, logger *slog.Logger) (stt.Listener, error) {
	var (
		capturer   stt.Capturer
		recognizer stt.Recognizer
		err        error
	)
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	switch cfg.Mode {
	case "exec":
		if capturer, err = stt.NewExecCapturer(cfg.CaptureCommand, format); err != nil {
			return nil, err
		}
		if recognizer, err = stt.NewExecRecognizer(cfg); err != nil {
			return nil, err
		}
	default:
		capturer = stt.NewMockCapturer(format, true)
		recognizer = stt.NewMockRecognizer(cfg.MockPhrases)
	}
	return stt.NewPipeline(capturer, recognizer, logger), nil
}

func newGenerator(cfg config.LLMConfig, client *http.Client) (llm.Generator, error) {
	switch cfg.Mode {
	case "ollama":
		return llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model, client), nil
	case "exec":
		return llm.NewExecGenerator(cfg.Command)
	case "mock":
		return llm.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

func newExtractor(cfg config.Config, client *http.Client, logger *slog.Logger) (ocr.Extractor, error) {
	switch cfg.OCR.Mode {
	case "exec":
		return ocr.NewExecExtractor(cfg.OCR.Command)
	case "ollama":
		vision := llm.NewOllamaGenerator(cfg.OCR.Endpoint, cfg.OCR.Model, client)
		return ocr.NewVisionExtractor(vision, 0, logger), nil
	default:
		return ocr.NewMockExtractor(cfg.OCR.MockText), nil
	}
}
