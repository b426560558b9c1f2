package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// Part is one clip of a concatenation followed by SilenceMs of silence
type Part struct {
	Path      string
	SilenceMs int
}

// Encoding describes the output of a join
type Encoding struct {
	Format     string // container/codec extension, e.g. "mp3" or "wav"
	SampleRate int
	Channels   int
	Bitrate    string // e.g. "128k"; ignored for PCM output
}

// DefaultEncoding is the final artifact encoding
func DefaultEncoding() Encoding {
	return Encoding{Format: "mp3", SampleRate: 44100, Channels: 1, Bitrate: "128k"}
}

// Joiner concatenates audio parts with silences into one file
type Joiner interface {
	Join(ctx context.Context, parts []Part, outputPath string, enc Encoding) error
}

// WAVJoiner joins WAV parts in-process and always writes 16-bit PCM WAV
type WAVJoiner struct{}

// Join implements Joiner
func (WAVJoiner) Join(ctx context.Context, parts []Part, outputPath string, enc Encoding) error {
	if len(parts) == 0 {
		return fmt.Errorf("no parts to join")
	}
	if enc.SampleRate <= 0 {
		enc.SampleRate = 44100
	}

	format := beep.Format{SampleRate: beep.SampleRate(enc.SampleRate), NumChannels: 1, Precision: 2}
	buffer := beep.NewBuffer(format)

	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendPart(buffer, format, part.Path); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		if part.SilenceMs > 0 {
			buffer.Append(beep.Silence(format.SampleRate.N(time.Duration(part.SilenceMs) * time.Millisecond)))
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	if err := wav.Encode(f, buffer.Streamer(0, buffer.Len()), format); err != nil {
		return fmt.Errorf("failed to encode joined audio: %w", err)
	}
	return nil
}

func appendPart(buffer *beep.Buffer, format beep.Format, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	streamer, partFormat, err := wav.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if partFormat.SampleRate != format.SampleRate {
		s = beep.Resample(4, partFormat.SampleRate, format.SampleRate, streamer)
	}
	buffer.Append(s)
	return streamer.Err()
}
