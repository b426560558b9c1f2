package pipeline

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/observability"
)

// TranscriptionStage produces a speaker-tagged transcript for the source audio
type TranscriptionStage struct {
	transcriber capability.Transcriber
	detector    capability.SpeakerDetector
	cache       *ContentCache
	filter      *artifactFilter
	gaps        *gapFiller
	opts        Options
}

// NewTranscriptionStage creates the stage. detector may be nil.
func NewTranscriptionStage(transcriber capability.Transcriber, detector capability.SpeakerDetector, cache *ContentCache, opts Options) *TranscriptionStage {
	filter := newArtifactFilter(opts)
	return &TranscriptionStage{
		transcriber: transcriber,
		detector:    detector,
		cache:       cache,
		filter:      filter,
		gaps:        &gapFiller{transcriber: transcriber, filter: filter, opts: opts},
		opts:        opts,
	}
}

// Process returns the transcript of in. A cached transcript is returned
// unchanged with source "cache"; otherwise a confident hint is preferred over
// the transcription provider, and the result is cached before returning.
func (s *TranscriptionStage) Process(ctx context.Context, in *AudioInput, contentID string, hint *MobileTranscription, useCache bool) (*Transcript, error) {
	const op = "TranscriptionStage.Process"
	logger := observability.WithContext(map[string]interface{}{
		"stage":      "transcription",
		"content_id": contentID,
	})

	if useCache {
		if cached, ok := s.cache.GetTranscript(ctx, in.Fingerprint); ok {
			cached.Source = SourceCache
			logger.Info().Int("segments", len(cached.Segments)).Msg("Transcript served from cache")
			return cached, nil
		}
	}

	clip, err := in.Clip()
	if err != nil {
		return nil, apperr.E(apperr.CodeInput, op, "audio could not be read", err)
	}

	var raw *capability.Transcription
	source := SourceProvider
	if s.acceptHint(hint) {
		raw = hintTranscription(hint, clip.DurationMs())
		source = SourceHint
		logger.Info().Float64("confidence", hint.Confidence).Msg("Using device transcription")
	} else {
		raw, err = s.transcriber.Transcribe(ctx, in.WAVPath, capability.TranscribeOptions{Diarize: true})
		if err != nil {
			return nil, err
		}
	}

	lang := raw.Language
	segments := append([]capability.Segment(nil), raw.Segments...)
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].StartMs < segments[j].StartMs })

	segments, dropped := s.filter.Filter(segments, lang)
	if dropped > 0 {
		logger.Info().Int("dropped", dropped).Msg("Dropped transcription artifacts")
	}

	analysis := s.detectSpeakers(ctx, logger, in.WAVPath, segments)
	if analysis != nil {
		segments = overlaySpeakers(segments, analysis.Speakers)
	}

	workDir, err := makeTempDir(s.opts.WorkDir, "gaps-")
	if err == nil {
		var speakers []capability.DetectedSpeaker
		if analysis != nil {
			speakers = analysis.Speakers
		}
		segments, _ = s.gaps.Fill(ctx, logger, clip, segments, speakers, lang, workDir)
		os.RemoveAll(workDir)
	} else {
		logger.Warn().Err(err).Msg("Gap filling skipped, no work directory")
	}

	text := joinSegmentText(segments)
	if text == "" && len(raw.Segments) == 0 {
		text = strings.TrimSpace(raw.Text)
	}
	if text == "" {
		return nil, apperr.E(apperr.CodeInput, op, "transcription produced no text", nil)
	}

	transcript := &Transcript{
		Text:       text,
		Language:   lang,
		Confidence: raw.Confidence,
		DurationMs: max(raw.DurationMs, clip.DurationMs()),
		Segments:   segments,
		Speakers:   analysis,
		Source:     source,
	}
	if len(transcript.Segments) == 0 {
		transcript.Segments = []capability.Segment{{
			Text: text, StartMs: 0, EndMs: transcript.DurationMs, Confidence: raw.Confidence, Language: lang,
		}}
	}

	s.cache.PutTranscript(ctx, in.Fingerprint, transcript)
	logger.Info().
		Str("source", source).
		Str("language", lang).
		Int("segments", len(transcript.Segments)).
		Int("duration_ms", transcript.DurationMs).
		Msg("Transcription complete")
	return transcript, nil
}

func (s *TranscriptionStage) acceptHint(hint *MobileTranscription) bool {
	return hint != nil && strings.TrimSpace(hint.Text) != "" && hint.Confidence >= s.opts.HintMinConfidence
}

func hintTranscription(hint *MobileTranscription, durationMs int) *capability.Transcription {
	segments := hint.Segments
	if len(segments) == 0 {
		segments = []capability.Segment{{
			Text: strings.TrimSpace(hint.Text), StartMs: 0, EndMs: durationMs, Confidence: hint.Confidence, Language: hint.Language,
		}}
	}
	return &capability.Transcription{
		Text:       hint.Text,
		Segments:   segments,
		Language:   hint.Language,
		Confidence: hint.Confidence,
		DurationMs: durationMs,
	}
}

// detectSpeakers prefers the diarization provider and falls back to speaker
// ids the transcription already carries. A nil result means no speakers.
func (s *TranscriptionStage) detectSpeakers(ctx context.Context, logger zerolog.Logger, path string, segments []capability.Segment) *SpeakerAnalysis {
	if s.detector != nil {
		det, err := s.detector.DetectSpeakers(ctx, path)
		if err != nil {
			logger.Warn().Err(err).Msg("Speaker detection failed, continuing without diarization")
			observability.RecordDegradation("diarization")
		} else if len(det.Speakers) > 0 {
			primary := det.PrimarySpeakerID
			if primary == "" {
				primary = primarySpeaker(det.Speakers)
			}
			sender := det.SenderSpeakerID
			if sender == "" {
				sender = primary
			}
			return &SpeakerAnalysis{Speakers: det.Speakers, PrimarySpeakerID: primary, SenderSpeakerID: sender}
		}
	}

	speakers := speakersFromSegments(segments)
	if len(speakers) == 0 {
		return nil
	}
	primary := primarySpeaker(speakers)
	return &SpeakerAnalysis{Speakers: speakers, PrimarySpeakerID: primary, SenderSpeakerID: primary}
}

func joinSegmentText(segments []capability.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func makeTempDir(parent, pattern string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(parent, pattern)
}
