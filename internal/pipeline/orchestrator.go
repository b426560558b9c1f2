package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/observability"
	"github.com/lexiqai/audio-translator/internal/storage"
	"github.com/lexiqai/audio-translator/internal/translate"
)

// Converter normalises any input container to a 16 kHz mono WAV
type Converter interface {
	ToWAV(ctx context.Context, inputPath, outputPath string) error
}

// Request is one pipeline invocation
type Request struct {
	AudioPath           string                   `json:"audioPath"`
	MessageID           string                   `json:"messageId"`
	AttachmentID        string                   `json:"attachmentId,omitempty"`
	SenderID            string                   `json:"senderId,omitempty"`
	TargetLanguages     []string                 `json:"targetLanguages,omitempty"`
	SourceLanguage      string                   `json:"sourceLanguage,omitempty"`
	CloneVoice          *bool                    `json:"cloneVoice,omitempty"`
	SenderProfile       *capability.VoiceProfile `json:"senderProfile,omitempty"`
	MobileTranscription *MobileTranscription     `json:"mobileTranscription,omitempty"`
	SkipCache           bool                     `json:"skipCache,omitempty"`
	ModelTier           string                   `json:"modelTier,omitempty"`

	OnTranslationReady ReadyFunc `json:"-"`
}

// Orchestrator sequences the stages of one run
type Orchestrator struct {
	converter     Converter
	transcription *TranscriptionStage
	builder       *SpeakerTurnBuilder
	references    *VoiceReferenceExtractor
	translation   *TranslationStage
	profiler      capability.VoiceProfiler
	opts          Options
}

// Deps are the collaborators of an Orchestrator. Detector, Profiler and
// Uploader are optional.
type Deps struct {
	Converter   Converter
	Transcriber capability.Transcriber
	Detector    capability.SpeakerDetector
	Translators TranslatorRouter
	Synthesizer capability.Synthesizer
	Profiler    capability.VoiceProfiler
	Joiner      audio.Joiner
	Cache       *ContentCache
	Uploader    storage.Uploader
}

// NewOrchestrator wires every stage from deps
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	reassembler := NewReassembler(deps.Joiner, opts)
	aligner := NewAligner(deps.Transcriber, opts)
	return &Orchestrator{
		converter:     deps.Converter,
		transcription: NewTranscriptionStage(deps.Transcriber, deps.Detector, deps.Cache, opts),
		builder:       NewSpeakerTurnBuilder(opts),
		references:    NewVoiceReferenceExtractor(opts),
		translation:   NewTranslationStage(deps.Translators, deps.Synthesizer, deps.Cache, reassembler, aligner, deps.Uploader, opts),
		profiler:      deps.Profiler,
		opts:          opts,
	}
}

// Run executes the pipeline. It fails only when the input cannot be read or
// transcribed; per-language failures are reported in PipelineResult.Errors.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*PipelineResult, error) {
	if req.MessageID == "" {
		req.MessageID = observability.NewCorrelationID()
	}
	logger := observability.WithMessage(observability.NewCorrelationID(), req.MessageID)
	metrics := observability.NewRunMetrics(req.MessageID)
	metrics.RecordRunStart()

	result, err := o.run(ctx, logger, metrics, req)
	switch {
	case err != nil:
		metrics.RecordError(string(apperr.CodeOf(err)), "orchestrator")
		metrics.RecordRunEnd("error")
		logger.Error().Err(err).Msg("Pipeline failed")
		return nil, err
	case len(result.Errors) > 0 && len(result.Translations) == 0:
		metrics.RecordRunEnd("error")
	case len(result.Errors) > 0:
		metrics.RecordRunEnd("partial")
	default:
		metrics.RecordRunEnd("success")
	}

	result.ProcessingTimeMs = metrics.Elapsed().Milliseconds()
	result.StageTimingsMs = make(map[string]int64)
	for stage, d := range metrics.StageDurations() {
		result.StageTimingsMs[stage] = d.Milliseconds()
	}
	logger.Info().
		Int("translations", len(result.Translations)).
		Int("errors", len(result.Errors)).
		Int64("processing_ms", result.ProcessingTimeMs).
		Msg("Pipeline complete")
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, metrics *observability.RunMetrics, req Request) (*PipelineResult, error) {
	const op = "Orchestrator.Run"
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, apperr.E(apperr.CodeInput, op, "audio path is required", nil)
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, apperr.E(apperr.CodeInput, op, "audio file not found", err)
	}

	fingerprint, err := Fingerprint(req.AudioPath)
	if err != nil {
		return nil, apperr.E(apperr.CodeInput, op, "audio could not be read", err)
	}

	runDir, err := makeTempDir(o.opts.WorkDir, "run-")
	if err != nil {
		return nil, apperr.E(apperr.CodeInternal, op, "failed to create work dir", err)
	}
	defer os.RemoveAll(runDir)

	in := &AudioInput{Path: req.AudioPath, WAVPath: filepath.Join(runDir, "input.wav"), Fingerprint: fingerprint}
	metrics.StartStage("convert")
	err = o.converter.ToWAV(ctx, req.AudioPath, in.WAVPath)
	metrics.EndStage("convert")
	if err != nil {
		return nil, err
	}
	clip, err := in.Clip()
	if err != nil {
		return nil, apperr.E(apperr.CodeInput, op, "converted audio could not be read", err)
	}
	metrics.RecordAudioSeconds("in", int64(clip.DurationMs()))

	metrics.StartStage("transcription")
	transcript, err := o.transcription.Process(ctx, in, req.MessageID, req.MobileTranscription, !req.SkipCache)
	metrics.EndStage("transcription")
	if err != nil {
		return nil, err
	}

	sourceLang := transcript.Language
	if sourceLang == "" {
		sourceLang = req.SourceLanguage
	}

	metrics.StartStage("speakers")
	plan := o.builder.Build(transcript, clip)
	metrics.EndStage("speakers")
	logger.Info().
		Int("turns", len(plan.Turns)).
		Int("speakers", len(plan.Speakers())).
		Str("primary_speaker", plan.PrimaryID).
		Msg("Speaker turns built")

	cloneVoice := o.opts.CloneVoice
	if req.CloneVoice != nil {
		cloneVoice = *req.CloneVoice
	}

	result := &PipelineResult{
		MessageID:    req.MessageID,
		AttachmentID: req.AttachmentID,
		Fingerprint:  fingerprint,
		Original: OriginalTranscript{
			Transcript: transcript.Text,
			Language:   sourceLang,
			DurationMs: transcript.DurationMs,
			Confidence: transcript.Confidence,
			Segments:   plan.Segments,
			Source:     transcript.Source,
		},
		Translations: map[string]*TranslatedAudioVersion{},
	}

	var voices map[string]capability.Voice
	senderProfile := req.SenderProfile
	if cloneVoice {
		metrics.StartStage("references")
		voices = o.extractReferences(in, clip, transcript, plan, runDir)
		metrics.EndStage("references")

		switch {
		case senderProfile != nil:
			result.VoiceProfileSummary = &VoiceProfileSummary{
				Origin:          "external",
				QualityScore:    senderProfile.QualityScore,
				Characteristics: senderProfile.Characteristics,
			}
		case o.profiler != nil:
			senderProfile = o.createProfile(ctx, logger, req, voices[plan.PrimaryID], result)
		}
	}

	targets := ResolveTargets(req.TargetLanguages, o.opts.DefaultTargetLanguages, sourceLang)
	if len(targets) == 0 {
		logger.Info().Str("source_language", sourceLang).Msg("No target language differs from the source")
		return result, nil
	}

	tier := req.ModelTier
	if tier == "" {
		tier = o.opts.DefaultModelTier
	}

	metrics.StartStage("translation")
	versions, errs := o.translation.ProcessLanguages(ctx, LanguageJob{
		Targets:          targets,
		Text:             transcript.Text,
		SourceLang:       sourceLang,
		AudioHash:        fingerprint,
		Turns:            plan.Turns,
		Voices:           voices,
		PrimarySpeakerID: plan.PrimaryID,
		SenderProfile:    senderProfile,
		CloneVoice:       cloneVoice,
		ModelTier:        translate.NormalizeTier(tier),
		MessageID:        req.MessageID,
		UseCache:         !req.SkipCache,
		OnReady:          req.OnTranslationReady,
	})
	metrics.EndStage("translation")

	result.Translations = versions
	for _, v := range versions {
		metrics.RecordLanguage(true)
		metrics.RecordAudioSeconds("out", int64(v.DurationMs))
	}
	if len(errs) > 0 {
		result.Errors = make(map[string]string, len(errs))
		for lang, err := range errs {
			metrics.RecordLanguage(false)
			metrics.RecordError(string(apperr.CodeOf(err)), "translation")
			result.Errors[lang] = err.Error()
		}
	}
	return result, nil
}

// extractReferences builds one reference clip per resolved speaker
func (o *Orchestrator) extractReferences(in *AudioInput, clip *audio.Clip, transcript *Transcript, plan *SpeakerPlan, dir string) map[string]capability.Voice {
	voices := make(map[string]capability.Voice)
	for _, id := range plan.Speakers() {
		others := otherSpeakerSpans(transcript, plan, id)
		path, _ := o.references.Extract(id, clip, in.WAVPath, plan.Segments, others, dir)
		voices[id] = capability.Voice{ReferencePath: path}
	}
	return voices
}

// otherSpeakerSpans returns the audio attributed to speakers other than id.
// Diarization spans take precedence over segment bounds.
func otherSpeakerSpans(transcript *Transcript, plan *SpeakerPlan, id string) []capability.Span {
	var others []capability.Span
	if transcript != nil && transcript.Speakers != nil && len(transcript.Speakers.Speakers) > 0 {
		for _, sp := range transcript.Speakers.Speakers {
			if resolve(plan.Resolved, sp.ID) != id {
				others = append(others, sp.Spans...)
			}
		}
		return others
	}
	for _, seg := range plan.Segments {
		if seg.SpeakerID != id {
			others = append(others, capability.Span{StartMs: seg.StartMs, EndMs: seg.EndMs})
		}
	}
	return others
}

// createProfile profiles the primary speaker's reference and records the
// serialized payload on result. Failures are logged and ignored.
func (o *Orchestrator) createProfile(ctx context.Context, logger zerolog.Logger, req Request, primary capability.Voice, result *PipelineResult) *capability.VoiceProfile {
	if primary.ReferencePath == "" {
		return nil
	}
	profile, err := o.profiler.ExtractVoiceProfile(ctx, primary.ReferencePath)
	if err != nil {
		logger.Warn().Err(err).Msg("Voice profile creation failed")
		observability.RecordDegradation("voice_profile")
		return nil
	}

	payload, err := json.Marshal(VoiceProfilePayload{
		SenderID:        req.SenderID,
		Embedding:       profile.Embedding,
		QualityScore:    profile.QualityScore,
		Characteristics: profile.Characteristics,
		CreatedAt:       profile.CreatedAt,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Voice profile serialization failed")
		return profile
	}
	result.NewVoiceProfile = payload
	result.VoiceProfileSummary = &VoiceProfileSummary{
		Origin:          "created",
		QualityScore:    profile.QualityScore,
		Characteristics: profile.Characteristics,
	}
	return profile
}

// ResolveTargets normalises the requested languages, falls back to defaults,
// and drops duplicates and the source language
func ResolveTargets(requested, defaults []string, sourceLang string) []string {
	if len(requested) == 0 {
		requested = defaults
	}
	source := baseLanguage(strings.ToLower(strings.TrimSpace(sourceLang)))

	seen := make(map[string]bool)
	var out []string
	for _, l := range requested {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		if source != "" && baseLanguage(l) == source {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Fingerprint returns the hex SHA-256 of a file
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash audio: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
