package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
)

// Unit is one synthesized piece of a translated track
type Unit struct {
	Path       string
	DurationMs int
	SpeakerID  string
	Text       string
	Quality    float64
}

// Assembly is a reassembled track. Offsets holds each unit's start.
type Assembly struct {
	Path       string
	DurationMs int
	Offsets    []int
}

// durationProber is implemented by joiners that can measure arbitrary
// containers, such as media.FFmpeg
type durationProber interface {
	Duration(ctx context.Context, path string) (int, error)
}

// Reassembler joins units with silence-aware timing into one uniformly
// encoded file
type Reassembler struct {
	joiner       audio.Joiner
	encoding     audio.Encoding
	minSilenceMs int
	maxSilenceMs int
	preserve     bool
}

// NewReassembler creates a reassembler
func NewReassembler(joiner audio.Joiner, opts Options) *Reassembler {
	return &Reassembler{
		joiner:       joiner,
		encoding:     opts.Encoding,
		minSilenceMs: opts.MinSilenceMs,
		maxSilenceMs: opts.MaxSilenceMs,
		preserve:     opts.PreserveSilences,
	}
}

// Format returns the output container extension
func (r *Reassembler) Format() string {
	return r.encoding.Format
}

// DetectSilences returns the silence to insert after each span but the last.
// Gaps under the minimum become zero and long gaps are capped.
func (r *Reassembler) DetectSilences(spans []capability.Span) []int {
	if len(spans) < 2 {
		return nil
	}
	out := make([]int, len(spans)-1)
	if !r.preserve {
		return out
	}
	for i := 1; i < len(spans); i++ {
		gap := spans[i].StartMs - spans[i-1].EndMs
		switch {
		case gap < r.minSilenceMs:
			gap = 0
		case gap > r.maxSilenceMs:
			gap = r.maxSilenceMs
		}
		out[i-1] = gap
	}
	return out
}

// FixedSilences returns n-1 gaps of gapMs, or zeros when silences are not preserved
func (r *Reassembler) FixedSilences(n, gapMs int) []int {
	if n < 2 {
		return nil
	}
	out := make([]int, n-1)
	if r.preserve {
		for i := range out {
			out[i] = gapMs
		}
	}
	return out
}

// Assemble joins units into outputPath. silences[i] follows units[i].
// The reported duration is the sum of unit durations and silences. Units
// without a known duration are measured first and updated in place.
func (r *Reassembler) Assemble(ctx context.Context, units []Unit, silences []int, outputPath string) (*Assembly, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to assemble")
	}
	for i := range units {
		if units[i].DurationMs > 0 {
			continue
		}
		ms, err := r.measure(ctx, units[i].Path)
		if err != nil {
			return nil, fmt.Errorf("failed to measure unit %d: %w", i, err)
		}
		units[i].DurationMs = ms
	}

	parts := make([]audio.Part, len(units))
	offsets := make([]int, len(units))
	total := 0
	for i, u := range units {
		offsets[i] = total
		parts[i] = audio.Part{Path: u.Path}
		total += u.DurationMs
		if i < len(units)-1 && i < len(silences) {
			parts[i].SilenceMs = silences[i]
			total += silences[i]
		}
	}

	if err := r.joiner.Join(ctx, parts, outputPath, r.encoding); err != nil {
		return nil, fmt.Errorf("failed to join %d units: %w", len(units), err)
	}
	return &Assembly{Path: outputPath, DurationMs: total, Offsets: offsets}, nil
}

func (r *Reassembler) measure(ctx context.Context, path string) (int, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return audio.WAVDurationMs(path)
	}
	if p, ok := r.joiner.(durationProber); ok {
		return p.Duration(ctx, path)
	}
	return 0, fmt.Errorf("unknown duration for %s", filepath.Base(path))
}
