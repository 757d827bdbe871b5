// Package voice listens for spoken reader commands.
package voice

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-reader/internal/command"
	"github.com/loqalabs/loqa-reader/internal/prompts"
	"github.com/loqalabs/loqa-reader/internal/stt"
)

// DefaultAttempts is how many utterances ListenForCommand tries.
const DefaultAttempts = 3

// Announcer plays a keyed prompt and returns once it has finished.
type Announcer interface {
	Say(ctx context.Context, key string) error
}

// Loop retries speech recognition until a known command is heard.
type Loop struct {
	listener stt.Listener
	announce Announcer
	listen   time.Duration
	logger   *slog.Logger
}

func NewLoop(listener stt.Listener, announce Announcer, listen time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		listener: listener,
		announce: announce,
		listen:   listen,
		logger:   logger.With(slog.String("component", "voice")),
	}
}

// ListenForCommand records up to maxAttempts utterances and returns the
// first one that normalizes to a command. Between unsuccessful attempts the
// retry prompt is played. ok is false when every attempt failed.
func (l *Loop) ListenForCommand(ctx context.Context, maxAttempts int) (cmd command.Command, ok bool) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return command.None, false
		}
		l.logger.Debug("listening", slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts))

		text, err := l.listener.CaptureAndTranscribe(ctx, l.listen)
		if err != nil {
			if ctx.Err() != nil {
				return command.None, false
			}
			l.logger.Warn("speech recognition failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			text = ""
		}

		if cmd := command.Normalize(text); cmd != command.None {
			l.logger.Info("voice command recognized", slog.String("command", cmd.String()), slog.String("heard", text))
			return cmd, true
		}
		l.logger.Info("no command recognized", slog.Int("attempt", attempt), slog.String("heard", text))

		if attempt < maxAttempts {
			if err := l.announce.Say(ctx, prompts.VoiceRetry); err != nil {
				return command.None, false
			}
		}
	}
	return command.None, false
}
