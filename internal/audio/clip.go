package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format describes interleaved signed 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// Clip is a fully decoded, playable unit of audio.
type Clip struct {
	Format  Format
	Samples []int16
}

// Frames returns the number of sample frames (samples per channel).
func (c *Clip) Frames() int {
	if c == nil || c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// Empty reports whether there is nothing to play.
func (c *Clip) Empty() bool { return c.Frames() == 0 }

// ClipFromPCM decodes little-endian 16-bit PCM bytes.
func ClipFromPCM(pcm []byte, format Format) (*Clip, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid pcm format %+v", format)
	}
	if len(pcm)%2 != 0 {
		return nil, errors.New("pcm payload not aligned")
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return &Clip{Format: format, Samples: samples}, nil
}

// PCM returns the samples as little-endian bytes.
func (c *Clip) PCM() []byte {
	if c == nil {
		return nil
	}
	return appendPCM(nil, c.Samples)
}

// Silence returns a clip of zero samples lasting d.
func Silence(format Format, d time.Duration) *Clip {
	frames := int(d * time.Duration(format.SampleRate) / time.Second)
	return &Clip{Format: format, Samples: make([]int16, frames*format.Channels)}
}

// Tone returns a sine beep at hz lasting d, faded in and out over 5ms so it
// does not click.
func Tone(format Format, hz float64, d time.Duration) *Clip {
	clip := Silence(format, d)
	frames := clip.Frames()
	fade := format.SampleRate / 200
	for i := 0; i < frames; i++ {
		gain := 0.4
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if frames-i < fade {
			gain *= float64(frames-i) / float64(fade)
		}
		v := int16(gain * math.MaxInt16 * math.Sin(2*math.Pi*hz*float64(i)/float64(format.SampleRate)))
		for c := 0; c < format.Channels; c++ {
			clip.Samples[i*format.Channels+c] = v
		}
	}
	return clip
}

func appendPCM(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// DecodeWAV reads a RIFF/WAVE file into a 16-bit clip. 24 and 32 bit input
// is truncated to 16 bits.
func DecodeWAV(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	shift := int(dec.BitDepth) - 16
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if !format.Valid() {
		return nil, fmt.Errorf("invalid wav format %+v", format)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v >> shift)
	}
	return &Clip{Format: format, Samples: samples}, nil
}

// EncodeWAV writes clip as a 16-bit PCM WAVE file.
func EncodeWAV(w io.WriteSeeker, clip *Clip) error {
	if clip == nil || !clip.Format.Valid() {
		return errors.New("invalid clip")
	}
	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: clip.Format.Channels, SampleRate: clip.Format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, clip.Format.SampleRate, 16, clip.Format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
