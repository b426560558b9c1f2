package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/observability"
	"github.com/lexiqai/audio-translator/internal/storage"
)

// TranslatorRouter picks a translator for a model tier
type TranslatorRouter interface {
	ForTier(tier string) capability.Translator
}

// LanguageJob is the input of TranslationStage.ProcessLanguages
type LanguageJob struct {
	Targets          []string
	Text             string
	SourceLang       string
	AudioHash        string
	Turns            []Turn
	Voices           map[string]capability.Voice // per-speaker references
	PrimarySpeakerID string
	SenderProfile    *capability.VoiceProfile
	CloneVoice       bool
	ModelTier        string
	MessageID        string
	UseCache         bool
	OnReady          ReadyFunc
}

// TranslationStage translates and synthesizes every target language
type TranslationStage struct {
	translators TranslatorRouter
	synthesizer capability.Synthesizer
	cache       *ContentCache
	reassembler *Reassembler
	aligner     *Aligner
	uploader    storage.Uploader
	opts        Options
	flights     singleflight.Group
}

// NewTranslationStage creates the stage. uploader may be nil.
func NewTranslationStage(translators TranslatorRouter, synthesizer capability.Synthesizer, cache *ContentCache, reassembler *Reassembler, aligner *Aligner, uploader storage.Uploader, opts Options) *TranslationStage {
	return &TranslationStage{
		translators: translators,
		synthesizer: synthesizer,
		cache:       cache,
		reassembler: reassembler,
		aligner:     aligner,
		uploader:    uploader,
		opts:        opts,
	}
}

// ProcessLanguages runs every target language on a bounded worker pool. A
// failing language only produces an entry in the error map.
func (s *TranslationStage) ProcessLanguages(ctx context.Context, job LanguageJob) (map[string]*TranslatedAudioVersion, map[string]error) {
	versions := make(map[string]*TranslatedAudioVersion, len(job.Targets))
	errs := make(map[string]error)

	var (
		mu   sync.Mutex
		done int
		g    errgroup.Group
	)
	g.SetLimit(max(1, s.opts.MaxLanguageWorkers))

	for _, lang := range job.Targets {
		g.Go(func() error {
			v, err := s.processLanguage(ctx, job, lang)

			mu.Lock()
			done++
			index := done
			if err != nil {
				errs[lang] = err
			} else {
				versions[lang] = v
			}
			mu.Unlock()

			if err == nil && job.OnReady != nil {
				job.OnReady(lang, v, index, len(job.Targets))
			}
			return nil
		})
	}
	_ = g.Wait()
	return versions, errs
}

func (s *TranslationStage) processLanguage(ctx context.Context, job LanguageJob, lang string) (*TranslatedAudioVersion, error) {
	logger := observability.WithContext(map[string]interface{}{
		"stage":      "translation",
		"message_id": job.MessageID,
		"language":   lang,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if job.UseCache {
		if v, ok := s.cache.GetAudio(ctx, job.AudioHash, lang); ok {
			logger.Info().Str("audio_path", v.AudioPath).Msg("Translated audio served from cache")
			return v, nil
		}
	}

	// The flight outlives any single caller so that one cancelled request
	// cannot fail the others waiting on the same key.
	key := job.AudioHash + ":" + lang
	ch := s.flights.DoChan(key, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		if job.UseCache {
			if v, ok := s.cache.GetAudio(fctx, job.AudioHash, lang); ok {
				return v, nil
			}
		}
		v, err := s.compute(fctx, logger, job, lang)
		if err != nil {
			return nil, err
		}
		if job.UseCache {
			if winner := s.cache.PutAudio(fctx, job.AudioHash, lang, v); winner != v {
				s.discard(fctx, logger, v, winner)
				v = winner
			}
		}
		return v, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Msg("Caller cancelled, leaving the computation to other waiters")
		return nil, ctx.Err()
	}
	if res.Err != nil {
		logger.Error().Err(res.Err).Msg("Language failed")
		return nil, res.Err
	}

	v := *res.Val.(*TranslatedAudioVersion)
	if res.Shared {
		logger.Debug().Msg("Joined an in-flight computation")
	}
	return &v, nil
}

// discard removes the artifacts of a result that lost the cache race to winner
func (s *TranslationStage) discard(ctx context.Context, logger zerolog.Logger, lost, winner *TranslatedAudioVersion) {
	if lost.AudioPath != "" && lost.AudioPath != winner.AudioPath {
		if err := os.Remove(lost.AudioPath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("audio_path", lost.AudioPath).Msg("Failed to remove superseded audio")
		}
	}
	if s.uploader != nil && lost.object != "" && lost.AudioURL != winner.AudioURL {
		if err := s.uploader.Delete(ctx, lost.object); err != nil {
			logger.Warn().Err(err).Str("object", lost.object).Msg("Failed to delete superseded artifact")
		}
	}
}

func (s *TranslationStage) compute(ctx context.Context, logger zerolog.Logger, job LanguageJob, lang string) (*TranslatedAudioVersion, error) {
	tmp, err := makeTempDir(s.opts.WorkDir, "units-")
	if err != nil {
		return nil, apperr.E(apperr.CodeInternal, "TranslationStage.compute", "failed to create work dir", err)
	}
	defer os.RemoveAll(tmp)

	outDir := filepath.Join(s.opts.WorkDir, "out", job.AudioHash)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, apperr.E(apperr.CodeInternal, "TranslationStage.compute", "failed to create output dir", err)
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.%s", lang, uuid.NewString()[:8], s.reassembler.Format()))

	var v *TranslatedAudioVersion
	if speakers := distinctSpeakers(job.Turns); len(speakers) >= 2 {
		v, err = s.multiSpeaker(ctx, logger, job, lang, speakers, tmp, outPath)
	} else {
		v, err = s.monoSpeaker(ctx, logger, job, lang, tmp, outPath)
	}
	if err != nil {
		return nil, err
	}

	if s.uploader != nil {
		object := fmt.Sprintf("translations/%s/%s", job.AudioHash, filepath.Base(v.AudioPath))
		url, err := storage.UploadFile(ctx, s.uploader, object, v.AudioPath)
		if err != nil {
			logger.Warn().Err(err).Msg("Artifact upload failed, keeping local path only")
		} else {
			v.AudioURL = url
			v.object = object
		}
	}

	logger.Info().
		Int("duration_ms", v.DurationMs).
		Int("segments", len(v.Segments)).
		Bool("voice_cloned", v.VoiceCloned).
		Msg("Language complete")
	return v, nil
}

func (s *TranslationStage) monoSpeaker(ctx context.Context, logger zerolog.Logger, job LanguageJob, lang, tmp, outPath string) (*TranslatedAudioVersion, error) {
	translator := s.translators.ForTier(job.ModelTier)
	text, err := s.translate(ctx, logger, translator, job.Text, job.SourceLang, lang)
	if err != nil {
		return nil, err
	}

	speaker := job.PrimarySpeakerID
	if len(job.Turns) == 1 {
		speaker = job.Turns[0].SpeakerID
	}
	unit, cloned, err := s.synthesizeUnit(ctx, logger, text, lang, s.voiceFor(job, speaker), speaker, filepath.Join(tmp, "unit_0.wav"))
	if err != nil {
		return nil, err
	}

	assembly, err := s.reassembler.Assemble(ctx, []Unit{unit}, nil, outPath)
	if err != nil {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "TranslationStage.monoSpeaker", "reassembly failed", err)
	}

	windows := []TurnWindow{{SpeakerID: speaker, Text: text, StartMs: 0, EndMs: assembly.DurationMs, VoiceSimilarityScore: qualityScore(unit.Quality)}}
	return &TranslatedAudioVersion{
		Language:       lang,
		TranslatedText: text,
		AudioPath:      assembly.Path,
		DurationMs:     assembly.DurationMs,
		Format:         s.reassembler.Format(),
		VoiceCloned:    cloned,
		VoiceQuality:   unit.Quality,
		Segments:       s.aligner.Align(ctx, logger, assembly.Path, lang, windows),
	}, nil
}

// speechUnit is one piece of text to translate and voice
type speechUnit struct {
	SpeakerID string
	Text      string
	Span      capability.Span
}

func (s *TranslationStage) multiSpeaker(ctx context.Context, logger zerolog.Logger, job LanguageJob, lang string, speakers []string, tmp, outPath string) (*TranslatedAudioVersion, error) {
	collapse := len(speakers) > s.opts.MaxDistinctVoices
	collapsed := s.voiceFor(job, job.PrimarySpeakerID)
	if collapse {
		logger.Info().Int("speakers", len(speakers)).Msg("Too many speakers, using a single voice")
	}

	var plan []speechUnit
	if s.opts.MultiSpeakerMode == ModeTurn {
		for _, t := range job.Turns {
			plan = append(plan, speechUnit{SpeakerID: t.SpeakerID, Text: t.Text, Span: capability.Span{StartMs: t.StartMs(), EndMs: t.EndMs()}})
		}
	} else {
		plan = speakerUnits(job.Turns, speakers)
	}

	translator := s.translators.ForTier(job.ModelTier)
	var (
		units  []Unit
		spans  []capability.Span
		cloned bool
	)
	for i, u := range plan {
		unitLogger := logger.With().Str("speaker_id", u.SpeakerID).Int("unit", i).Logger()

		text, err := s.translate(ctx, unitLogger, translator, u.Text, job.SourceLang, lang)
		if err != nil {
			unitLogger.Warn().Err(err).Msg("Skipping unit, translation failed")
			continue
		}
		voice := collapsed
		if !collapse {
			voice = s.voiceFor(job, u.SpeakerID)
		}
		unit, unitCloned, err := s.synthesizeUnit(ctx, unitLogger, text, lang, voice, u.SpeakerID, filepath.Join(tmp, fmt.Sprintf("unit_%d.wav", i)))
		if err != nil {
			unitLogger.Warn().Err(err).Msg("Skipping unit, synthesis failed")
			continue
		}
		cloned = cloned || unitCloned
		units = append(units, unit)
		spans = append(spans, u.Span)
	}
	if len(units) == 0 {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "TranslationStage.multiSpeaker", "every speaker unit failed", nil)
	}

	var silences []int
	if s.opts.MultiSpeakerMode == ModeTurn {
		silences = s.reassembler.DetectSilences(spans)
	} else {
		silences = s.reassembler.FixedSilences(len(units), s.opts.InterUnitGapMs)
	}

	assembly, err := s.reassembler.Assemble(ctx, units, silences, outPath)
	if err != nil {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "TranslationStage.multiSpeaker", "reassembly failed", err)
	}

	windows := make([]TurnWindow, len(units))
	texts := make([]string, len(units))
	quality, rated := 0.0, 0
	for i, u := range units {
		windows[i] = TurnWindow{
			SpeakerID:            u.SpeakerID,
			Text:                 u.Text,
			StartMs:              assembly.Offsets[i],
			EndMs:                assembly.Offsets[i] + u.DurationMs,
			VoiceSimilarityScore: qualityScore(u.Quality),
		}
		texts[i] = u.Text
		if u.Quality > 0 {
			quality += u.Quality
			rated++
		}
	}
	if rated > 0 {
		quality /= float64(rated)
	}

	return &TranslatedAudioVersion{
		Language:       lang,
		TranslatedText: strings.Join(texts, " "),
		AudioPath:      assembly.Path,
		DurationMs:     assembly.DurationMs,
		Format:         s.reassembler.Format(),
		VoiceCloned:    cloned,
		VoiceQuality:   quality,
		Segments:       s.aligner.Align(ctx, logger, assembly.Path, lang, windows),
	}, nil
}

// speakerUnits joins each speaker's turns into one unit, ordered by first
// appearance
func speakerUnits(turns []Turn, order []string) []speechUnit {
	units := make([]speechUnit, len(order))
	index := make(map[string]int, len(order))
	for i, id := range order {
		index[id] = i
		units[i].SpeakerID = id
	}
	for _, t := range turns {
		u := &units[index[t.SpeakerID]]
		if u.Text == "" {
			u.Text = t.Text
			u.Span = capability.Span{StartMs: t.StartMs(), EndMs: t.EndMs()}
		} else {
			u.Text += " " + t.Text
			u.Span.EndMs = t.EndMs()
		}
	}
	return units
}

// translate degrades to the source text when the translator is unavailable
func (s *TranslationStage) translate(ctx context.Context, logger zerolog.Logger, translator capability.Translator, text, src, dst string) (string, error) {
	out, err := translator.Translate(ctx, text, src, dst)
	if err == nil {
		return out, nil
	}
	if apperr.IsCode(err, apperr.CodeCapabilityUnavailable) {
		logger.Warn().Err(err).Msg("Translator unavailable, passing text through")
		observability.RecordDegradation("translate")
		return text, nil
	}
	return "", err
}

// synthesizeUnit voices text and retries with the generic voice when a cloned
// voice cannot be produced
func (s *TranslationStage) synthesizeUnit(ctx context.Context, logger zerolog.Logger, text, lang string, voice capability.Voice, speakerID, path string) (Unit, bool, error) {
	req := capability.SynthesisRequest{Text: text, Language: lang, Voice: voice, OutputPath: path}
	res, err := s.synthesizer.Synthesize(ctx, req)
	if err != nil && !voice.Generic() && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("Cloned synthesis failed, using generic voice")
		observability.RecordDegradation("voice_clone")
		req.Voice = capability.Voice{}
		res, err = s.synthesizer.Synthesize(ctx, req)
	}
	if err != nil {
		return Unit{}, false, err
	}
	return Unit{
		Path:       res.AudioPath,
		DurationMs: res.DurationMs,
		SpeakerID:  speakerID,
		Text:       text,
		Quality:    res.VoiceQuality,
	}, res.VoiceCloned, nil
}

// voiceFor returns the cloning input for a speaker. The caller-supplied
// profile belongs to the primary speaker.
func (s *TranslationStage) voiceFor(job LanguageJob, speakerID string) capability.Voice {
	if !job.CloneVoice {
		return capability.Voice{}
	}
	v := job.Voices[speakerID]
	if speakerID == job.PrimarySpeakerID && job.SenderProfile != nil {
		v.Profile = job.SenderProfile
	}
	return v
}

func qualityScore(q float64) *float64 {
	if q <= 0 {
		return nil
	}
	return &q
}
