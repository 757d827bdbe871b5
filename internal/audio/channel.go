// Package audio streams decoded clips to a playback device on independent
// channels.
package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Playing
	Stopping
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Options configure every channel created from a sink.
type Options struct {
	BlockFrames int
	StopTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BlockFrames <= 0 {
		o.BlockFrames = 1024
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 2 * time.Second
	}
	return o
}

// Channel is an independently controllable playback lane. Each Play owns one
// background goroutine that writes the clip to the sink block by block.
type Channel struct {
	name string
	sink Sink
	opts Options
	log  *slog.Logger

	ctrl     sync.Mutex // serializes Play and Stop
	mu       sync.Mutex
	current  *playback
	stopping bool
}

type playback struct {
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	stream  Stream
	aborted bool
}

func (p *playback) attach(s Stream) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return false
	}
	p.stream = s
	return true
}

func (p *playback) abort() {
	p.quitOnce.Do(func() { close(p.quit) })
	p.mu.Lock()
	p.aborted = true
	s := p.stream
	p.mu.Unlock()
	if s != nil {
		s.Abort()
	}
}

func (p *playback) stopped() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

func (p *playback) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func NewChannel(name string, sink Sink, opts Options, log *slog.Logger) *Channel {
	return &Channel{
		name: name,
		sink: sink,
		opts: opts.withDefaults(),
		log:  log.With(slog.String("component", "audio-channel"), slog.String("channel", name)),
	}
}

func (c *Channel) Name() string { return c.name }

// Play stops and joins any playback in progress, then starts streaming clip.
// A nil or empty clip leaves the channel idle.
func (c *Channel) Play(clip *Clip) {
	c.ctrl.Lock()
	defer c.ctrl.Unlock()

	c.stopLocked()
	if clip.Empty() || !clip.Format.Valid() {
		c.log.Warn("nothing to play")
		return
	}

	pb := &playback{quit: make(chan struct{}), done: make(chan struct{})}
	c.mu.Lock()
	c.current = pb
	c.mu.Unlock()

	c.log.Debug("playback starting", slog.Duration("duration", clip.Duration()))
	go c.run(pb, clip)
}

// Stop requests a cooperative stop, aborts the in-flight device write and
// waits, bounded by the stop timeout, for the playback goroutine to exit.
func (c *Channel) Stop() {
	c.ctrl.Lock()
	defer c.ctrl.Unlock()
	c.stopLocked()
}

func (c *Channel) stopLocked() {
	c.mu.Lock()
	pb := c.current
	if pb == nil {
		c.mu.Unlock()
		return
	}
	if pb.finished() {
		c.current = nil
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.mu.Unlock()

	pb.abort()
	timer := time.NewTimer(c.opts.StopTimeout)
	select {
	case <-pb.done:
	case <-timer.C:
		c.log.Warn("playback did not stop in time", slog.Duration("timeout", c.opts.StopTimeout))
	}
	timer.Stop()

	c.mu.Lock()
	c.current = nil
	c.stopping = false
	c.mu.Unlock()
}

// IsPlaying reports whether a playback goroutine is alive.
func (c *Channel) IsPlaying() bool {
	c.mu.Lock()
	pb := c.current
	c.mu.Unlock()
	return pb != nil && !pb.finished()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stopping:
		return Stopping
	case c.current != nil && !c.current.finished():
		return Playing
	default:
		return Idle
	}
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the current playback ends. An idle
// channel returns an already closed channel.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return closedDone
	}
	return c.current.done
}

// Wait polls IsPlaying every interval until the channel is idle.
func (c *Channel) Wait(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for c.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (c *Channel) run(pb *playback, clip *Clip) {
	defer close(pb.done)

	stream, err := c.sink.Open(clip.Format)
	if err != nil {
		c.log.Warn("failed to open audio stream", slogError(err))
		return
	}
	if !pb.attach(stream) {
		_ = stream.Close()
		return
	}

	block := c.opts.BlockFrames * clip.Format.Channels
	samples := clip.Samples
	for off := 0; off < len(samples); off += block {
		if pb.stopped() {
			break
		}
		end := min(off+block, len(samples))
		if err := stream.Write(samples[off:end]); err != nil {
			if !pb.stopped() {
				c.log.Warn("audio write failed", slogError(err))
			}
			break
		}
	}
	if err := stream.Close(); err != nil && !pb.stopped() {
		c.log.Warn("audio stream close failed", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
