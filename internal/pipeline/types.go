// Package pipeline turns one spoken message into translated, voice-preserving
// audio in several languages. Stages are constructed explicitly with their
// collaborators and composed by the Orchestrator.
package pipeline

import (
	"encoding/json"
	"time"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
)

// Transcript sources
const (
	SourceProvider = "provider"
	SourceHint     = "hint"
	SourceCache    = "cache"
)

// AudioInput identifies the audio a run operates on
type AudioInput struct {
	Path        string // caller-supplied file
	WAVPath     string // 16 kHz mono working copy
	Fingerprint string

	clip *audio.Clip
}

// Clip decodes the working copy once and memoizes it
func (in *AudioInput) Clip() (*audio.Clip, error) {
	if in.clip != nil {
		return in.clip, nil
	}
	c, err := audio.ReadWAV(in.WAVPath)
	if err != nil {
		return nil, err
	}
	in.clip = c
	return c, nil
}

// MobileTranscription is a transcript produced on the sender's device
type MobileTranscription struct {
	Text       string               `json:"text"`
	Language   string               `json:"language,omitempty"`
	Confidence float64              `json:"confidence"`
	Segments   []capability.Segment `json:"segments,omitempty"`
}

// SpeakerAnalysis is the diarization attached to a transcript
type SpeakerAnalysis struct {
	Speakers         []capability.DetectedSpeaker `json:"speakers"`
	PrimarySpeakerID string                       `json:"primarySpeakerId"`
	SenderSpeakerID  string                       `json:"senderSpeakerId,omitempty"`
}

// Transcript is the output of the TranscriptionStage
type Transcript struct {
	Text       string               `json:"text"`
	Language   string               `json:"language"`
	Confidence float64              `json:"confidence"`
	DurationMs int                  `json:"durationMs"`
	Segments   []capability.Segment `json:"segments"`
	Speakers   *SpeakerAnalysis     `json:"speakers,omitempty"`
	Source     string               `json:"source"`
}

// SpeakerProfile is the request-scoped identity of one detected speaker
type SpeakerProfile struct {
	SpeakerID          string                     `json:"speakerId"`
	ReferenceAudioPath string                     `json:"referenceAudioPath,omitempty"`
	Acoustic           capability.AcousticSummary `json:"acoustic"`
	MergeTargetID      string                     `json:"mergeTargetId,omitempty"`
	SpeakingMs         int                        `json:"speakingMs"`
}

// Turn is a maximal run of segments sharing one resolved speaker.
// StartPos and EndPos index the transcript segments, EndPos exclusive.
type Turn struct {
	SpeakerID string               `json:"speakerId"`
	Text      string               `json:"text"`
	Segments  []capability.Segment `json:"segments"`
	StartPos  int                  `json:"startPos"`
	EndPos    int                  `json:"endPos"`
}

// StartMs returns the start of the first segment
func (t Turn) StartMs() int {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[0].StartMs
}

// EndMs returns the end of the last segment
func (t Turn) EndMs() int {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].EndMs
}

// TranslatedAudioVersion is one language's output. It is also the cached
// translated-audio record.
type TranslatedAudioVersion struct {
	Language       string               `json:"language"`
	TranslatedText string               `json:"translatedText"`
	AudioPath      string               `json:"audioPath"`
	AudioURL       string               `json:"audioUrl,omitempty"`
	DurationMs     int                  `json:"durationMs"`
	Format         string               `json:"format"`
	VoiceCloned    bool                 `json:"voiceCloned"`
	VoiceQuality   float64              `json:"voiceQuality,omitempty"`
	Segments       []capability.Segment `json:"segments"`
	CachedAt       time.Time            `json:"cachedAt"`

	object string // uploaded object name, set only on a fresh computation
}

// OriginalTranscript is the source side of a PipelineResult
type OriginalTranscript struct {
	Transcript string               `json:"transcript"`
	Language   string               `json:"language"`
	DurationMs int                  `json:"durationMs"`
	Confidence float64              `json:"confidence"`
	Segments   []capability.Segment `json:"segments"`
	Source     string               `json:"source"`
}

// VoiceProfileSummary describes the voice profile a run used
type VoiceProfileSummary struct {
	Origin          string                     `json:"origin"` // external or created
	QualityScore    float64                    `json:"qualityScore"`
	Characteristics capability.AcousticSummary `json:"characteristics"`
}

// VoiceProfilePayload is the serialized profile handed back for persistence
type VoiceProfilePayload struct {
	SenderID        string                     `json:"senderId"`
	Embedding       []float32                  `json:"embedding"`
	QualityScore    float64                    `json:"qualityScore"`
	Characteristics capability.AcousticSummary `json:"characteristics"`
	CreatedAt       time.Time                  `json:"createdAt"`
}

// PipelineResult is the output of one Orchestrator run
type PipelineResult struct {
	MessageID           string                             `json:"messageId"`
	AttachmentID        string                             `json:"attachmentId,omitempty"`
	Fingerprint         string                             `json:"fingerprint"`
	Original            OriginalTranscript                 `json:"original"`
	Translations        map[string]*TranslatedAudioVersion `json:"translations"`
	Errors              map[string]string                  `json:"errors,omitempty"`
	VoiceProfileSummary *VoiceProfileSummary               `json:"voiceProfileSummary,omitempty"`
	NewVoiceProfile     json.RawMessage                    `json:"newVoiceProfile,omitempty"`
	ProcessingTimeMs    int64                              `json:"processingTimeMs"`
	StageTimingsMs      map[string]int64                   `json:"stageTimingsMs,omitempty"`
}

// ReadyFunc is notified as each language completes. index counts from 1.
type ReadyFunc func(language string, version *TranslatedAudioVersion, index, total int)
