package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testFormat = Format{SampleRate: 8000, Channels: 1}

func testOptions() Options {
	return Options{BlockFrames: 80, StopTimeout: time.Second} // 10ms blocks
}

func waitIdle(t *testing.T, ch *Channel, within time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	if err := ch.Wait(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("channel %s still playing after %s", ch.Name(), within)
	}
}

func TestPlayCompletesNaturally(t *testing.T) {
	ch := NewChannel("main", NullSink{}, testOptions(), newLogger())
	ch.Play(Silence(testFormat, 60*time.Millisecond))
	if !ch.IsPlaying() {
		t.Fatal("expected channel to be playing right after Play")
	}
	if ch.State() != Playing {
		t.Fatalf("expected playing state, got %s", ch.State())
	}
	waitIdle(t, ch, time.Second)
	if ch.State() != Idle {
		t.Fatalf("expected idle state, got %s", ch.State())
	}
}

func TestDoneClosesAfterPlayback(t *testing.T) {
	ch := NewChannel("prompt", NullSink{}, testOptions(), newLogger())
	select {
	case <-ch.Done():
	default:
		t.Fatal("idle channel should report done")
	}
	ch.Play(Silence(testFormat, 30*time.Millisecond))
	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("done never closed")
	}
	if ch.IsPlaying() {
		t.Fatal("expected idle after done")
	}
}

func TestStopIsPromptAndIdempotent(t *testing.T) {
	ch := NewChannel("main", NullSink{}, testOptions(), newLogger())
	ch.Stop() // idle no-op

	ch.Play(Silence(testFormat, 5*time.Second))
	start := time.Now()
	ch.Stop()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("stop took %s", elapsed)
	}
	if ch.IsPlaying() {
		t.Fatal("expected channel idle after stop")
	}
	ch.Stop()
}

func TestPlayNilOrEmptyIsNoop(t *testing.T) {
	ch := NewChannel("main", NullSink{}, testOptions(), newLogger())
	ch.Play(nil)
	if ch.IsPlaying() {
		t.Fatal("nil clip should leave channel idle")
	}
	ch.Play(&Clip{Format: testFormat})
	if ch.IsPlaying() {
		t.Fatal("empty clip should leave channel idle")
	}
}

type countingSink struct {
	mu        sync.Mutex
	open      int
	maxOpen   int
	opened    int
	failAfter int
	openErr   error
}

func (s *countingSink) Open(format Format) (Stream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	inner, _ := NullSink{}.Open(format)
	s.mu.Lock()
	s.open++
	s.opened++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	s.mu.Unlock()
	return &countingStream{Stream: inner, sink: s}, nil
}

func (s *countingSink) stats() (open, maxOpen, opened int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, s.maxOpen, s.opened
}

type countingStream struct {
	Stream
	sink   *countingSink
	writes int
	closed atomic.Bool
}

func (s *countingStream) Write(samples []int16) error {
	s.writes++
	if s.sink.failAfter > 0 && s.writes > s.sink.failAfter {
		return errors.New("device unplugged")
	}
	return s.Stream.Write(samples)
}

func (s *countingStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.sink.mu.Lock()
		s.sink.open--
		s.sink.mu.Unlock()
	}
	return s.Stream.Close()
}

func TestPlayReplacesCurrentStream(t *testing.T) {
	sink := &countingSink{}
	ch := NewChannel("main", sink, testOptions(), newLogger())
	for i := 0; i < 5; i++ {
		ch.Play(Silence(testFormat, time.Second))
		time.Sleep(5 * time.Millisecond)
	}
	ch.Stop()
	open, maxOpen, opened := sink.stats()
	if open != 0 {
		t.Fatalf("expected all streams closed, %d open", open)
	}
	if maxOpen != 1 {
		t.Fatalf("expected at most one stream per channel, saw %d", maxOpen)
	}
	if opened != 5 {
		t.Fatalf("expected 5 streams opened, got %d", opened)
	}
}

func TestWriteFailureEndsPlayback(t *testing.T) {
	sink := &countingSink{failAfter: 2}
	ch := NewChannel("main", sink, testOptions(), newLogger())
	ch.Play(Silence(testFormat, 10*time.Second))
	waitIdle(t, ch, time.Second)
	if open, _, _ := sink.stats(); open != 0 {
		t.Fatalf("expected stream closed after write failure")
	}
}

func TestOpenFailureFinishesImmediately(t *testing.T) {
	sink := &countingSink{openErr: errors.New("no device")}
	ch := NewChannel("main", sink, testOptions(), newLogger())
	ch.Play(Silence(testFormat, 10*time.Second))
	waitIdle(t, ch, 200*time.Millisecond)
}

func TestLanesStopAll(t *testing.T) {
	lanes := NewLanes(NullSink{}, testOptions(), newLogger())
	lanes.Main.Play(Silence(testFormat, 5*time.Second))
	lanes.Summary.Play(Silence(testFormat, 5*time.Second))
	if got := lanes.Playing(); len(got) != 2 {
		t.Fatalf("expected two lanes playing, got %v", got)
	}
	lanes.StopAll()
	if got := lanes.Playing(); len(got) != 0 {
		t.Fatalf("expected no lanes playing, got %v", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	clip := &Clip{Format: Format{SampleRate: 16000, Channels: 2}, Samples: []int16{0, 1, -1, 32767, -32768, 42}}
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := EncodeWAV(file, clip); err != nil {
		t.Fatalf("encode: %v", err)
	}
	file.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	decoded, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Format != clip.Format {
		t.Fatalf("format mismatch: %+v", decoded.Format)
	}
	if len(decoded.Samples) != len(clip.Samples) {
		t.Fatalf("sample count mismatch: %d", len(decoded.Samples))
	}
	for i := range clip.Samples {
		if decoded.Samples[i] != clip.Samples[i] {
			t.Fatalf("sample %d: got %d want %d", i, decoded.Samples[i], clip.Samples[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("definitely not riff"))); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestClipFromPCM(t *testing.T) {
	if _, err := ClipFromPCM([]byte{1, 2, 3}, testFormat); err == nil {
		t.Fatal("expected alignment error")
	}
	clip, err := ClipFromPCM([]byte{0x01, 0x00, 0xff, 0xff}, testFormat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.Samples[0] != 1 || clip.Samples[1] != -1 {
		t.Fatalf("unexpected samples %v", clip.Samples)
	}
	if !bytes.Equal(clip.PCM(), []byte{0x01, 0x00, 0xff, 0xff}) {
		t.Fatalf("pcm round trip mismatch")
	}
}

func TestToneShape(t *testing.T) {
	clip := Tone(Format{SampleRate: 8000, Channels: 2}, 440, 100*time.Millisecond)
	if clip.Frames() != 800 {
		t.Fatalf("expected 800 frames, got %d", clip.Frames())
	}
	if clip.Samples[0] != 0 {
		t.Fatalf("tone should fade in from silence, got %d", clip.Samples[0])
	}
	var peak int16
	for i := 0; i < len(clip.Samples); i += 2 {
		if clip.Samples[i] != clip.Samples[i+1] {
			t.Fatalf("channels differ at frame %d", i/2)
		}
		if clip.Samples[i] > peak {
			peak = clip.Samples[i]
		}
	}
	if peak == 0 {
		t.Fatal("tone is silent")
	}
}
