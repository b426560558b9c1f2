package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/observability"
)

const fallbackConfidence = 0.9

// TurnWindow is where one speaker's synthesized speech sits in a track
type TurnWindow struct {
	SpeakerID            string
	Text                 string
	StartMs              int
	EndMs                int
	VoiceSimilarityScore *float64
}

func (w TurnWindow) centerMs() int {
	return (w.StartMs + w.EndMs) / 2
}

// Aligner recovers fine segment timing for a synthesized track
type Aligner struct {
	transcriber capability.Transcriber
	warnRatio   float64
}

// NewAligner creates an aligner
func NewAligner(transcriber capability.Transcriber, opts Options) *Aligner {
	return &Aligner{transcriber: transcriber, warnRatio: opts.UnassignedWarnRatio}
}

// Align re-transcribes path and maps each segment to the window containing
// its midpoint, or the nearest window. An empty or degenerate result yields
// one fallback segment per window.
func (a *Aligner) Align(ctx context.Context, logger zerolog.Logger, path, lang string, windows []TurnWindow) []capability.Segment {
	if len(windows) == 0 {
		return nil
	}

	res, err := a.transcriber.Transcribe(ctx, path, capability.TranscribeOptions{Language: lang})
	if err != nil {
		logger.Warn().Err(err).Msg("Re-transcription failed, using turn segments")
		return fallbackSegments(windows, lang)
	}
	if err := checkTiming(res); err != nil {
		logger.Warn().Err(err).Msg("Re-transcription unusable, using turn segments")
		return fallbackSegments(windows, lang)
	}

	out := make([]capability.Segment, 0, len(res.Segments))
	unassigned := 0
	for _, seg := range res.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		w, contained := windowFor(seg.CenterMs(), windows)
		if !contained {
			unassigned++
		}
		seg.SpeakerID = w.SpeakerID
		seg.VoiceSimilarityScore = w.VoiceSimilarityScore
		seg.Language = lang
		seg.Fallback = false
		out = append(out, seg)
	}

	if ratio := float64(unassigned) / float64(len(out)); ratio > a.warnRatio {
		logger.Warn().
			Int("unassigned", unassigned).
			Int("segments", len(out)).
			Msg("Many re-transcribed segments fell outside every turn window")
	}
	return out
}

// checkTiming rejects results with no text-bearing segment of positive length
func checkTiming(res *capability.Transcription) error {
	for _, seg := range res.Segments {
		if strings.TrimSpace(seg.Text) != "" && seg.EndMs > seg.StartMs {
			return nil
		}
	}
	return apperr.E(apperr.CodeTimingAnomaly, "Aligner.Align", "no timed segments", nil)
}

func windowFor(ms int, windows []TurnWindow) (TurnWindow, bool) {
	for _, w := range windows {
		if ms >= w.StartMs && ms <= w.EndMs {
			return w, true
		}
	}
	best := windows[0]
	for _, w := range windows[1:] {
		if absInt(ms-w.centerMs()) < absInt(ms-best.centerMs()) {
			best = w
		}
	}
	return best, false
}

func fallbackSegments(windows []TurnWindow, lang string) []capability.Segment {
	observability.RecordAlignmentFallback()
	out := make([]capability.Segment, len(windows))
	for i, w := range windows {
		out[i] = capability.Segment{
			Text:                 w.Text,
			StartMs:              w.StartMs,
			EndMs:                w.EndMs,
			Confidence:           fallbackConfidence,
			SpeakerID:            w.SpeakerID,
			VoiceSimilarityScore: w.VoiceSimilarityScore,
			Language:             lang,
			Fallback:             true,
		}
	}
	return out
}
