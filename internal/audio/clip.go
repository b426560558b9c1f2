package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// Clip is mono 16-bit audio held in memory
type Clip struct {
	SampleRate int
	Samples    []int16
}

// DurationMs returns the clip length in milliseconds
func (c *Clip) DurationMs() int {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return int(int64(len(c.Samples)) * 1000 / int64(c.SampleRate))
}

func (c *Clip) index(ms int) int {
	i := int(int64(ms) * int64(c.SampleRate) / 1000)
	if i < 0 {
		return 0
	}
	if i > len(c.Samples) {
		return len(c.Samples)
	}
	return i
}

// Slice returns [startMs, endMs) as a new clip sharing no storage with c
func (c *Clip) Slice(startMs, endMs int) *Clip {
	from, to := c.index(startMs), c.index(endMs)
	if to < from {
		to = from
	}
	out := make([]int16, to-from)
	copy(out, c.Samples[from:to])
	return &Clip{SampleRate: c.SampleRate, Samples: out}
}

// ReadWAV decodes a WAV file into a mono clip. Multi-channel input is downmixed.
func ReadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav: %w", err)
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav %s: %w", filepath.Base(path), err)
	}
	defer streamer.Close()

	clip := &Clip{SampleRate: int(format.SampleRate)}
	if n := streamer.Len(); n > 0 {
		clip.Samples = make([]int16, 0, n)
	}

	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			v := frame[0]
			if format.NumChannels > 1 {
				v = (frame[0] + frame[1]) / 2
			}
			clip.Samples = append(clip.Samples, clamp16(v*32767))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}

	return clip, nil
}

// Streamer exposes the clip as a beep stream
func (c *Clip) Streamer() beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (n int, ok bool) {
		if pos >= len(c.Samples) {
			return 0, false
		}
		for n < len(samples) && pos < len(c.Samples) {
			v := float64(c.Samples[pos]) / 32767
			samples[n][0], samples[n][1] = v, v
			n++
			pos++
		}
		return n, true
	})
}

// Format returns the beep format WriteWAV uses for this clip
func (c *Clip) Format() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(c.SampleRate),
		NumChannels: 1,
		Precision:   2,
	}
}

// WriteWAV encodes the clip as 16-bit mono PCM WAV
func WriteWAV(path string, c *Clip) error {
	if c == nil || c.SampleRate <= 0 {
		return fmt.Errorf("invalid clip")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav: %w", err)
	}
	defer f.Close()

	if err := wav.Encode(f, c.Streamer(), c.Format()); err != nil {
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	return nil
}

// WAVDurationMs reads a WAV header and returns its length in milliseconds
func WAVDurationMs(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("failed to decode wav: %w", err)
	}
	defer streamer.Close()

	return int(math.Round(format.SampleRate.D(streamer.Len()).Seconds() * 1000)), nil
}
