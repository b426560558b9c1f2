package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/observability"
)

type gap struct {
	StartMs int
	EndMs   int
}

// findGaps returns the intervals between consecutive segments of at least minGapMs
func findGaps(segments []capability.Segment, minGapMs int) []gap {
	var gaps []gap
	for i := 1; i < len(segments); i++ {
		start, end := segments[i-1].EndMs, segments[i].StartMs
		if end-start >= minGapMs {
			gaps = append(gaps, gap{StartMs: start, EndMs: end})
		}
	}
	return gaps
}

// gapFiller re-transcribes uncovered stretches of audio
type gapFiller struct {
	transcriber capability.Transcriber
	filter      *artifactFilter
	opts        Options
}

// Fill returns segments merged with whatever the gaps yield, sorted by start,
// and the number of recovered segments. Gap failures are logged and skipped.
func (g *gapFiller) Fill(ctx context.Context, logger zerolog.Logger, clip *audio.Clip, segments []capability.Segment, speakers []capability.DetectedSpeaker, lang, workDir string) ([]capability.Segment, int) {
	gaps := findGaps(segments, g.opts.MinGapMs)
	if len(gaps) == 0 || clip == nil {
		return segments, 0
	}

	merged := append([]capability.Segment(nil), segments...)
	recovered := 0
	for _, gp := range gaps {
		if ctx.Err() != nil {
			break
		}
		found := g.fillOne(ctx, logger, clip, gp, speakers, lang, workDir)
		merged = append(merged, found...)
		recovered += len(found)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].StartMs < merged[j].StartMs })
	if recovered > 0 {
		observability.RecordGapSegments(recovered)
		logger.Info().Int("gaps", len(gaps)).Int("recovered", recovered).Msg("Recovered segments from transcript gaps")
	}
	return merged, recovered
}

func (g *gapFiller) fillOne(ctx context.Context, logger zerolog.Logger, clip *audio.Clip, gp gap, speakers []capability.DetectedSpeaker, lang, workDir string) []capability.Segment {
	slice := clip.Slice(gp.StartMs, gp.EndMs)
	if !audio.ContainsSpeech(slice, g.opts.VAD) {
		logger.Debug().Int("start_ms", gp.StartMs).Int("end_ms", gp.EndMs).Msg("Gap is silent, skipping")
		return nil
	}

	boosted := &audio.Clip{SampleRate: slice.SampleRate, Samples: audio.ApplyGainDB(slice.Samples, g.opts.GapGainDB)}
	path := filepath.Join(workDir, "gap_"+uuid.NewString()+".wav")
	if err := audio.WriteWAV(path, boosted); err != nil {
		logger.Warn().Err(err).Msg("Failed to write gap slice")
		return nil
	}
	defer os.Remove(path)

	res, err := g.transcriber.Transcribe(ctx, path, capability.TranscribeOptions{Language: lang})
	if err != nil {
		logger.Warn().Err(err).Int("start_ms", gp.StartMs).Msg("Gap re-transcription failed")
		return nil
	}

	var found []capability.Segment
	for _, seg := range res.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		seg.StartMs = min(seg.StartMs+gp.StartMs, gp.EndMs)
		seg.EndMs = min(seg.EndMs+gp.StartMs, gp.EndMs)
		if seg.Language == "" {
			seg.Language = lang
		}
		if id, ok := speakerContaining(seg.CenterMs(), speakers); ok {
			seg.SpeakerID = id
		} else if len(speakers) > 0 {
			seg.SpeakerID = speakerForSegment(seg, speakers)
		} else {
			seg.SpeakerID = ""
		}
		found = append(found, seg)
	}

	found, _ = g.filter.Filter(found, lang)
	return found
}
