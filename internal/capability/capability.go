// Package capability defines the contracts of the external ML providers the
// pipeline is built around: transcription, speaker detection, translation,
// synthesis and voice profiling.
package capability

import (
	"context"
	"time"
)

// Segment is one timed piece of a transcript
type Segment struct {
	Text                 string   `json:"text"`
	StartMs              int      `json:"startMs"`
	EndMs                int      `json:"endMs"`
	Confidence           float64  `json:"confidence"`
	SpeakerID            string   `json:"speakerId,omitempty"`
	VoiceSimilarityScore *float64 `json:"voiceSimilarityScore,omitempty"`
	Language             string   `json:"language,omitempty"`
	Fallback             bool     `json:"fallback,omitempty"`
}

// DurationMs returns EndMs - StartMs
func (s Segment) DurationMs() int {
	return s.EndMs - s.StartMs
}

// CenterMs returns the segment midpoint
func (s Segment) CenterMs() int {
	return (s.StartMs + s.EndMs) / 2
}

// Transcription is the output of a Transcriber
type Transcription struct {
	Text       string    `json:"text"`
	Segments   []Segment `json:"segments"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	DurationMs int       `json:"durationMs"`
}

// TranscribeOptions tunes one transcription call
type TranscribeOptions struct {
	Language string // hint; empty lets the backend detect
	Diarize  bool
}

// Transcriber turns audio into timed text
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*Transcription, error)
}

// Span is a speaking interval
type Span struct {
	StartMs int `json:"startMs"`
	EndMs   int `json:"endMs"`
}

// AcousticSummary characterises a voice. Zero values mean unknown.
type AcousticSummary struct {
	PitchHz float64 `json:"pitchHz,omitempty"`
	Energy  float64 `json:"energy,omitempty"`
}

// DetectedSpeaker is one diarized speaker
type DetectedSpeaker struct {
	ID       string          `json:"id"`
	Spans    []Span          `json:"spans"`
	Acoustic AcousticSummary `json:"acoustic"`
}

// SpeakingMs sums the span durations
func (s DetectedSpeaker) SpeakingMs() int {
	total := 0
	for _, sp := range s.Spans {
		total += sp.EndMs - sp.StartMs
	}
	return total
}

// SpeakerDetection is the output of a SpeakerDetector
type SpeakerDetection struct {
	Speakers         []DetectedSpeaker `json:"speakers"`
	PrimarySpeakerID string            `json:"primarySpeakerId"`
	SenderSpeakerID  string            `json:"senderSpeakerId,omitempty"`
}

// SpeakerDetector diarizes audio
type SpeakerDetector interface {
	DetectSpeakers(ctx context.Context, audioPath string) (*SpeakerDetection, error)
}

// Translator translates text between languages
type Translator interface {
	Translate(ctx context.Context, text, srcLang, dstLang string) (string, error)
}

// Voice selects how speech is synthesized. An empty voice means the generic voice.
type Voice struct {
	ReferencePath string        `json:"referencePath,omitempty"`
	Profile       *VoiceProfile `json:"profile,omitempty"`
}

// Generic reports whether no cloning input is set
func (v Voice) Generic() bool {
	return v.ReferencePath == "" && v.Profile == nil
}

// SynthesisRequest is one synthesis call
type SynthesisRequest struct {
	Text       string
	Language   string
	Voice      Voice
	OutputPath string // WAV destination
}

// Synthesis is the output of a Synthesizer
type Synthesis struct {
	AudioPath    string  `json:"audioPath"`
	DurationMs   int     `json:"durationMs"`
	Format       string  `json:"format"`
	VoiceCloned  bool    `json:"voiceCloned"`
	VoiceQuality float64 `json:"voiceQuality,omitempty"`
}

// Synthesizer turns text into speech
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error)
}

// VoiceProfile is an opaque speaker identity established by a VoiceProfiler
type VoiceProfile struct {
	Embedding       []float32       `json:"embedding"`
	QualityScore    float64         `json:"qualityScore"`
	Characteristics AcousticSummary `json:"characteristics"`
	CreatedAt       time.Time       `json:"createdAt,omitempty"`
}

// VoiceProfiler extracts a voice profile from reference audio
type VoiceProfiler interface {
	ExtractVoiceProfile(ctx context.Context, audioPath string) (*VoiceProfile, error)
}

// Checker is implemented by providers that can report readiness
type Checker interface {
	HealthCheck(ctx context.Context) (bool, error)
}
