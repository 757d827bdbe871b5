package prompts

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

// Announcer speaks prompts on the prompt lane and blocks until they end.
type Announcer struct {
	cache    *Cache
	lane     *audio.Channel
	interval time.Duration
	logger   *slog.Logger
}

func NewAnnouncer(cache *Cache, lane *audio.Channel, interval time.Duration, logger *slog.Logger) *Announcer {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Announcer{
		cache:    cache,
		lane:     lane,
		interval: interval,
		logger:   logger.With(slog.String("component", "announcer")),
	}
}

// Say plays key and polls the lane until it is idle. A prompt that cannot be
// resolved is logged and skipped. The only error returned is the context's;
// the prompt is cut off in that case.
func (a *Announcer) Say(ctx context.Context, key string) error {
	clip, err := a.cache.Clip(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("prompt unavailable", slog.String("key", key), slogError(err))
		return nil
	}
	a.lane.Play(clip)
	if err := a.lane.Wait(ctx, a.interval); err != nil {
		a.lane.Stop()
		return err
	}
	return nil
}
