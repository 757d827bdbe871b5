package prompts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/tts"
)

// Cache resolves prompt keys to clips. Spoken prompts are synthesized once
// and kept as <dir>/<key>-<digest>.wav, where the digest covers everything
// that shapes the audio, so later runs start without the synthesizer.
type Cache struct {
	dir     string
	catalog Catalog
	synth   tts.Synthesizer
	voice   string
	backend string
	format  audio.Format
	logger  *slog.Logger

	mu    sync.Mutex
	clips map[string]*audio.Clip
}

// CacheOptions configure a Cache. Format is used for generated tones.
// Backend identifies the synthesizer setup; changing it invalidates files
// rendered by another one.
type CacheOptions struct {
	Dir     string
	Catalog Catalog
	Voice   string
	Backend string
	Format  audio.Format
}

func NewCache(synth tts.Synthesizer, opts CacheOptions, logger *slog.Logger) *Cache {
	catalog := opts.Catalog
	if catalog == nil {
		catalog = Defaults()
	}
	return &Cache{
		dir:     opts.Dir,
		catalog: catalog,
		synth:   synth,
		voice:   opts.Voice,
		backend: opts.Backend,
		format:  opts.Format,
		logger:  logger.With(slog.String("component", "prompt-cache")),
		clips:   make(map[string]*audio.Clip),
	}
}

// Clip returns the audio for key, rendering and persisting it on first use.
func (c *Cache) Clip(ctx context.Context, key string) (*audio.Clip, error) {
	c.mu.Lock()
	if clip, ok := c.clips[key]; ok {
		c.mu.Unlock()
		return clip, nil
	}
	c.mu.Unlock()

	p, ok := c.catalog[key]
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", key)
	}

	var (
		clip *audio.Clip
		err  error
	)
	switch {
	case p.File != "":
		clip, err = readWAV(p.File)
	case p.Tone != nil:
		clip = audio.Tone(c.format, p.Tone.Hz, time.Duration(p.Tone.DurationMS)*time.Millisecond)
	default:
		clip, err = c.spoken(ctx, p)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.clips[key] = clip
	c.mu.Unlock()
	return clip, nil
}

func (c *Cache) spoken(ctx context.Context, p Prompt) (*audio.Clip, error) {
	path := c.path(p)
	if path != "" {
		if clip, err := readWAV(path); err == nil {
			return clip, nil
		} else if !os.IsNotExist(err) {
			c.logger.Warn("discarding unreadable cached prompt", slog.String("key", p.Key), slogError(err))
		}
	}

	clip, err := tts.Render(ctx, c.synth, tts.SynthRequest{Text: p.Text, Voice: c.voice})
	if err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", p.Key, err)
	}
	if path != "" {
		if err := writeWAV(path, clip); err != nil {
			c.logger.Warn("failed to persist prompt", slog.String("key", p.Key), slogError(err))
		} else {
			c.logger.Debug("prompt cached", slog.String("key", p.Key), slog.String("path", path))
		}
	}
	return clip, nil
}

func (c *Cache) path(p Prompt) string {
	if c.dir == "" {
		return ""
	}
	return filepath.Join(c.dir, p.Key+"-"+c.digest(p)+".wav")
}

func (c *Cache) digest(p Prompt) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d", p.Text, c.voice, c.backend, c.format.SampleRate, c.format.Channels)
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Prerender resolves every catalog entry and returns how many succeeded. The
// first failure is returned after all keys were attempted.
func (c *Cache) Prerender(ctx context.Context) (int, error) {
	var firstErr error
	rendered := 0
	for _, key := range c.catalog.Keys() {
		if err := ctx.Err(); err != nil {
			return rendered, err
		}
		if _, err := c.Clip(ctx, key); err != nil {
			c.logger.Warn("prompt prerender failed", slog.String("key", key), slogError(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rendered++
	}
	return rendered, firstErr
}

func readWAV(path string) (*audio.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return audio.DecodeWAV(f)
}

func writeWAV(path string, clip *audio.Clip) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".prompt-*.wav")
	if err != nil {
		return err
	}
	if err := audio.EncodeWAV(tmp, clip); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
