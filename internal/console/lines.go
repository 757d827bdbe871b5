// Package console turns keyboard input into the reader's interrupt stream.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/muesli/cancelreader"
)

// Lines reads newline terminated commands from a terminal on a background
// goroutine. Lines are trimmed and lower-cased.
type Lines struct {
	r      cancelreader.CancelReader
	lines  chan string
	done   chan struct{}
	closed chan struct{}
	logger *slog.Logger

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func NewLines(in io.Reader, logger *slog.Logger) (*Lines, error) {
	r, err := cancelreader.NewReader(in)
	if err != nil {
		return nil, err
	}
	l := &Lines{
		r:      r,
		lines:  make(chan string, 16),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		logger: logger.With(slog.String("component", "console")),
	}
	go l.scan()
	return l, nil
}

func (l *Lines) scan() {
	defer close(l.done)
	scanner := bufio.NewScanner(l.r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		select {
		case l.lines <- line:
		case <-l.closed:
			return
		}
	}
	err := scanner.Err()
	if errors.Is(err, cancelreader.ErrCanceled) {
		err = nil
	}
	if err != nil {
		l.logger.Warn("console read failed", slog.String("error", err.Error()))
	}
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Poll returns a pending line without blocking.
func (l *Lines) Poll() (string, bool) {
	select {
	case line := <-l.lines:
		return line, true
	default:
		return "", false
	}
}

// Drain discards lines typed ahead and reports how many were dropped.
func (l *Lines) Drain() int {
	n := 0
	for {
		select {
		case <-l.lines:
			n++
		default:
			return n
		}
	}
}

// ReadLine blocks for the next line. It returns io.EOF once input is
// exhausted or the reader was closed.
func (l *Lines) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-l.lines:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
	}
	// Lines queued before the end of input still count.
	select {
	case line := <-l.lines:
		return line, nil
	default:
	}
	l.mu.Lock()
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close cancels the pending read and releases the reader.
func (l *Lines) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.r.Cancel()
		err = l.r.Close()
	})
	return err
}
