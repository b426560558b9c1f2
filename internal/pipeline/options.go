package pipeline

import (
	"strings"
	"time"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/config"
)

// Multi-speaker synthesis modes
const (
	ModeSpeaker = "speaker"
	ModeTurn    = "turn"
)

// Options holds the pipeline tunables
type Options struct {
	MaxLanguageWorkers     int
	DefaultTargetLanguages []string
	CloneVoice             bool
	DefaultModelTier       string

	MergeThreshold    float64
	PitchToleranceHz  float64
	MaxDistinctVoices int

	MinGapMs              int
	GapGainDB             float64
	HintMinConfidence     float64
	ArtifactMaxDurationMs int
	ArtifactMinConfidence float64
	Hallucinations        map[string][]string // extra denylist phrases per language, "*" for all
	Scripts               map[string]string   // language -> ISO 15924 script override

	MinSilenceMs     int
	MaxSilenceMs     int
	PreserveSilences bool
	InterUnitGapMs   int
	MultiSpeakerMode string

	ReferenceTargetMs     int
	ReferenceMinMs        int
	ReferenceMinSegmentMs int
	ReferenceJoinGapMs    int
	ReferenceLevelDBFS    float64

	UnassignedWarnRatio float64
	Encoding            audio.Encoding
	VAD                 *audio.VADConfig

	TranscriptTTL time.Duration
	AudioTTL      time.Duration
	WorkDir       string
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		MaxLanguageWorkers:     4,
		DefaultTargetLanguages: []string{"en", "fr"},
		CloneVoice:             true,
		DefaultModelTier:       "basic",
		MergeThreshold:         0.65,
		PitchToleranceHz:       20,
		MaxDistinctVoices:      3,
		MinGapMs:               1000,
		GapGainDB:              12,
		HintMinConfidence:      0.5,
		ArtifactMaxDurationMs:  150,
		ArtifactMinConfidence:  0.3,
		MinSilenceMs:           100,
		MaxSilenceMs:           3000,
		PreserveSilences:       true,
		InterUnitGapMs:         300,
		MultiSpeakerMode:       ModeSpeaker,
		ReferenceTargetMs:      7000,
		ReferenceMinMs:         2000,
		ReferenceMinSegmentMs:  200,
		ReferenceJoinGapMs:     50,
		ReferenceLevelDBFS:     -20,
		UnassignedWarnRatio:    0.3,
		Encoding:               audio.DefaultEncoding(),
		VAD:                    audio.DefaultVADConfig(),
		TranscriptTTL:          time.Hour,
		AudioTTL:               time.Hour,
		WorkDir:                "/tmp/audio-translator",
	}
}

// OptionsFromConfig maps env configuration and the optional profile onto Options
func OptionsFromConfig(cfg *config.Config, profile *config.PipelineProfile) Options {
	opts := DefaultOptions()
	opts.MaxLanguageWorkers = cfg.MaxLanguageWorkers
	opts.DefaultTargetLanguages = cfg.TargetLanguages()
	opts.CloneVoice = cfg.CloneVoiceDefault
	opts.DefaultModelTier = cfg.DefaultModelTier
	opts.MergeThreshold = cfg.SpeakerMergeThreshold
	opts.PitchToleranceHz = cfg.PitchToleranceHz
	opts.MaxDistinctVoices = cfg.MaxDistinctVoices
	opts.MinGapMs = cfg.MinGapMs
	opts.GapGainDB = cfg.GapGainDB
	opts.HintMinConfidence = cfg.HintMinConfidence
	opts.ArtifactMaxDurationMs = cfg.ArtifactMaxDurationMs
	opts.ArtifactMinConfidence = cfg.ArtifactMinConfidence
	opts.MinSilenceMs = cfg.MinSilenceMs
	opts.MaxSilenceMs = cfg.MaxSilenceMs
	opts.PreserveSilences = cfg.PreserveSilences
	opts.InterUnitGapMs = cfg.InterUnitGapMs
	opts.MultiSpeakerMode = strings.ToLower(cfg.MultiSpeakerMode)
	opts.ReferenceTargetMs = cfg.ReferenceTargetMs
	opts.ReferenceMinMs = cfg.ReferenceMinMs
	opts.ReferenceMinSegmentMs = cfg.ReferenceMinSegmentMs
	opts.ReferenceLevelDBFS = cfg.ReferenceLevelDBFS
	opts.UnassignedWarnRatio = cfg.UnassignedWarnRatio
	opts.Encoding = audio.Encoding{
		Format:     cfg.OutputFormat,
		SampleRate: cfg.OutputSampleRate,
		Channels:   1,
		Bitrate:    cfg.OutputBitrate,
	}
	opts.VAD.EnergyThreshold = cfg.VADEnergyThreshold
	opts.TranscriptTTL = time.Duration(cfg.TranscriptTTL) * time.Second
	opts.AudioTTL = time.Duration(cfg.AudioTTL) * time.Second
	opts.WorkDir = cfg.WorkDir

	if profile != nil {
		opts.Hallucinations = profile.Hallucinations
		opts.Scripts = profile.Scripts
	}
	return opts
}
