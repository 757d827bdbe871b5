package stt

import (
	"context"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/procexec"
)

type execCapturer struct {
	command procexec.Command
	format  audio.Format
}

// NewExecCapturer runs a recorder command (arecord, sox, ...) that writes raw
// 16-bit little-endian PCM to stdout. The placeholders {rate}, {channels}
// and {seconds} are substituted per capture.
func NewExecCapturer(command string, format audio.Format) (Capturer, error) {
	cmd, err := procexec.Parse("capture", command)
	if err != nil {
		return nil, err
	}
	return &execCapturer{command: cmd, format: format}, nil
}

func (c *execCapturer) Capture(ctx context.Context, d time.Duration) (*audio.Clip, error) {
	seconds := int((d + time.Second - 1) / time.Second)
	cmd := c.command.With(map[string]string{
		"rate":     strconv.Itoa(c.format.SampleRate),
		"channels": strconv.Itoa(c.format.Channels),
		"seconds":  strconv.Itoa(seconds),
	})

	// The recorder stops by itself; the extra deadline catches a wedged device.
	ctx, cancel := context.WithTimeout(ctx, d+5*time.Second)
	defer cancel()

	pcm, err := cmd.Run(ctx)
	if err != nil {
		return nil, err
	}
	// A recorder killed mid-sample leaves a dangling byte.
	pcm = pcm[:len(pcm)&^1]
	return audio.ClipFromPCM(pcm, c.format)
}
