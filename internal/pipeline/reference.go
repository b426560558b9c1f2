package pipeline

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
)

// VoiceReferenceExtractor cuts a short clean clip of one speaker for cloning
type VoiceReferenceExtractor struct {
	targetMs     int
	minMs        int
	minSegmentMs int
	joinGapMs    int
	levelDBFS    float64
}

// NewVoiceReferenceExtractor creates an extractor
func NewVoiceReferenceExtractor(opts Options) *VoiceReferenceExtractor {
	return &VoiceReferenceExtractor{
		targetMs:     opts.ReferenceTargetMs,
		minMs:        opts.ReferenceMinMs,
		minSegmentMs: opts.ReferenceMinSegmentMs,
		joinGapMs:    opts.ReferenceJoinGapMs,
		levelDBFS:    opts.ReferenceLevelDBFS,
	}
}

// Extract writes a reference clip for speakerID into dir and returns its path.
// Segments overlapping other speakers are avoided when enough clean speech
// exists. When no usable reference can be built the source path is returned
// and extracted is false.
func (e *VoiceReferenceExtractor) Extract(speakerID string, clip *audio.Clip, sourcePath string, segments []capability.Segment, others []capability.Span, dir string) (path string, extracted bool) {
	logger := log.With().Str("stage", "reference").Str("speaker_id", speakerID).Logger()
	if clip == nil {
		return sourcePath, false
	}

	var all, clean []capability.Segment
	for _, seg := range segments {
		if seg.SpeakerID != speakerID || seg.DurationMs() < e.minSegmentMs {
			continue
		}
		all = append(all, seg)
		if !overlapsAny(seg, others) {
			clean = append(clean, seg)
		}
	}

	chosen, total := e.selectLongest(clean)
	if total < e.minMs {
		chosen, total = e.selectLongest(all)
	}
	if total < e.minMs {
		logger.Warn().Int("speech_ms", total).Msg("Not enough speech for a reference clip, using full source")
		return sourcePath, false
	}

	sort.Slice(chosen, func(i, j int) bool { return chosen[i].StartMs < chosen[j].StartMs })
	ref := &audio.Clip{SampleRate: clip.SampleRate}
	for i, seg := range chosen {
		if i > 0 {
			ref.Samples = append(ref.Samples, audio.Silence(clip.SampleRate, e.joinGapMs)...)
		}
		ref.Samples = append(ref.Samples, clip.Slice(seg.StartMs, seg.EndMs).Samples...)
	}
	ref.Samples = audio.PeakNormalize(ref.Samples, e.levelDBFS)

	path = filepath.Join(dir, "ref_"+safeName(speakerID)+"_"+uuid.NewString()+".wav")
	if err := audio.WriteWAV(path, ref); err != nil {
		logger.Warn().Err(err).Msg("Failed to write reference clip, using full source")
		return sourcePath, false
	}

	logger.Debug().Int("segments", len(chosen)).Int("speech_ms", total).Msg("Reference clip extracted")
	return path, true
}

// selectLongest accumulates segments longest first until the target is reached
func (e *VoiceReferenceExtractor) selectLongest(candidates []capability.Segment) ([]capability.Segment, int) {
	sorted := append([]capability.Segment(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DurationMs() > sorted[j].DurationMs() })

	var chosen []capability.Segment
	total := 0
	for _, seg := range sorted {
		if total >= e.targetMs {
			break
		}
		chosen = append(chosen, seg)
		total += seg.DurationMs()
	}
	return chosen, total
}

func overlapsAny(seg capability.Segment, spans []capability.Span) bool {
	for _, sp := range spans {
		if overlapMs(seg.StartMs, seg.EndMs, sp.StartMs, sp.EndMs) > 0 {
			return true
		}
	}
	return false
}

func safeName(id string) string {
	if id == "" {
		return "speaker"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
