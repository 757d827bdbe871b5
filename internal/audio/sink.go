package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/procexec"
)

// ErrAborted is returned by Stream.Write after Abort.
var ErrAborted = errors.New("audio stream aborted")

// Sink opens output streams on a playback device.
type Sink interface {
	Open(format Format) (Stream, error)
}

// Stream is one open device stream. Abort may be called concurrently with
// Write and must make an in-flight Write return promptly.
type Stream interface {
	Write(samples []int16) error
	Abort()
	Close() error
}

// NullSink discards audio but paces writes in real time so playback lasts
// as long as the clip would on a device.
type NullSink struct{}

func (NullSink) Open(format Format) (Stream, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid format %+v", format)
	}
	return &nullStream{format: format, aborted: make(chan struct{})}, nil
}

type nullStream struct {
	format  Format
	aborted chan struct{}
	once    sync.Once
}

func (s *nullStream) Write(samples []int16) error {
	select {
	case <-s.aborted:
		return ErrAborted
	default:
	}
	frames := len(samples) / s.format.Channels
	timer := time.NewTimer(time.Duration(frames) * time.Second / time.Duration(s.format.SampleRate))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.aborted:
		return ErrAborted
	}
}

func (s *nullStream) Abort() { s.once.Do(func() { close(s.aborted) }) }

func (s *nullStream) Close() error {
	s.Abort()
	return nil
}

// ExecSink pipes raw little-endian PCM into a player process, one process
// per stream. The placeholders {rate} and {channels} in the command are
// replaced with the stream format.
type ExecSink struct {
	command procexec.Command
	log     *slog.Logger
}

func NewExecSink(command string, log *slog.Logger) (*ExecSink, error) {
	cmd, err := procexec.Parse("audio", command)
	if err != nil {
		return nil, err
	}
	return &ExecSink{command: cmd, log: log.With(slog.String("component", "audio-exec-sink"))}, nil
}

func (e *ExecSink) Open(format Format) (Stream, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid format %+v", format)
	}
	cmd := e.command.With(map[string]string{
		"rate":     strconv.Itoa(format.SampleRate),
		"channels": strconv.Itoa(format.Channels),
	}).Cmd(context.Background())
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start audio command: %w", err)
	}
	return &execStream{cmd: cmd, stdin: stdin, log: e.log}, nil
}

type execStream struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	log     *slog.Logger
	buf     []byte
	once    sync.Once
	mu      sync.Mutex
	aborted bool
}

func (s *execStream) Write(samples []int16) error {
	s.buf = appendPCM(s.buf[:0], samples)
	if _, err := s.stdin.Write(s.buf); err != nil {
		if s.isAborted() {
			return ErrAborted
		}
		return fmt.Errorf("write audio command: %w", err)
	}
	return nil
}

func (s *execStream) Abort() {
	s.once.Do(func() {
		s.mu.Lock()
		s.aborted = true
		s.mu.Unlock()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
}

func (s *execStream) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *execStream) Close() error {
	_ = s.stdin.Close()
	err := s.cmd.Wait()
	if err != nil && !s.isAborted() {
		return fmt.Errorf("audio command failed: %w", err)
	}
	return nil
}
