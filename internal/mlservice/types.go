package mlservice

import "github.com/lexiqai/audio-translator/internal/capability"

type transcribeSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"` // seconds
	End        float64 `json:"end"`   // seconds
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
	Language   string  `json:"language,omitempty"`
}

type transcribeResponse struct {
	Text       string              `json:"text"`
	Language   string              `json:"language"`
	Confidence float64             `json:"confidence"`
	Duration   float64             `json:"duration"` // seconds
	Segments   []transcribeSegment `json:"segments"`
}

func (r *transcribeResponse) toTranscription() *capability.Transcription {
	out := &capability.Transcription{
		Text:       r.Text,
		Language:   r.Language,
		Confidence: r.Confidence,
		DurationMs: secondsToMs(r.Duration),
		Segments:   make([]capability.Segment, 0, len(r.Segments)),
	}
	for _, s := range r.Segments {
		lang := s.Language
		if lang == "" {
			lang = r.Language
		}
		out.Segments = append(out.Segments, capability.Segment{
			Text:       s.Text,
			StartMs:    secondsToMs(s.Start),
			EndMs:      secondsToMs(s.End),
			Confidence: s.Confidence,
			SpeakerID:  s.Speaker,
			Language:   lang,
		})
	}
	return out
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	ModelTier      string `json:"model_tier,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

func secondsToMs(s float64) int {
	return int(s*1000 + 0.5)
}
