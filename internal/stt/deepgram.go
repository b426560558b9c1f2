// Package stt provides transcription and diarization through Deepgram's
// pre-recorded API.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/resilience"
)

// Config configures the Deepgram provider
type Config struct {
	APIKey       string
	Model        string // nova-2, enhanced, base
	Language     string // empty enables language detection
	MaxFailures  int
	ResetTimeout time.Duration
	Retry        *resilience.RetryConfig
}

// fetchFunc sends one file to Deepgram and returns the raw JSON response
type fetchFunc func(ctx context.Context, path string, opts *interfaces.PreRecordedTranscriptionOptions) ([]byte, error)

// DeepgramProvider implements capability.Transcriber and capability.SpeakerDetector
type DeepgramProvider struct {
	model    string
	language string
	fetch    fetchFunc
	guard    *resilience.Guard
	group    singleflight.Group

	// The diarized response of the last file is kept so that Transcribe and
	// DetectSpeakers on the same audio cost one API call.
	mu       sync.Mutex
	lastPath string
	lastResp *response
}

var (
	_ capability.Transcriber     = (*DeepgramProvider)(nil)
	_ capability.SpeakerDetector = (*DeepgramProvider)(nil)
)

// NewDeepgramProvider creates a provider backed by Deepgram's REST API
func NewDeepgramProvider(cfg Config) *DeepgramProvider {
	c := listenClient.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	dg := prerecorded.New(c)

	fetch := func(ctx context.Context, path string, opts *interfaces.PreRecordedTranscriptionOptions) ([]byte, error) {
		res, err := dg.FromFile(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
	return newDeepgramProvider(cfg, fetch)
}

func newDeepgramProvider(cfg Config, fetch fetchFunc) *DeepgramProvider {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &DeepgramProvider{
		model:    cfg.Model,
		language: cfg.Language,
		fetch:    fetch,
		guard:    resilience.NewGuard("deepgram", cfg.MaxFailures, cfg.ResetTimeout, cfg.Retry),
	}
}

// Transcribe implements capability.Transcriber
func (d *DeepgramProvider) Transcribe(ctx context.Context, audioPath string, opts capability.TranscribeOptions) (*capability.Transcription, error) {
	resp, err := d.request(ctx, audioPath, opts.Language, opts.Diarize)
	if err != nil {
		return nil, err
	}
	return resp.toTranscription(opts.Diarize), nil
}

// DetectSpeakers implements capability.SpeakerDetector
func (d *DeepgramProvider) DetectSpeakers(ctx context.Context, audioPath string) (*capability.SpeakerDetection, error) {
	resp, err := d.request(ctx, audioPath, "", true)
	if err != nil {
		return nil, err
	}
	return resp.toDetection(), nil
}

func (d *DeepgramProvider) request(ctx context.Context, path, language string, diarize bool) (*response, error) {
	if language == "" {
		language = d.language
	}
	if diarize && language == "" {
		d.mu.Lock()
		if d.lastPath == path && d.lastResp != nil {
			resp := d.lastResp
			d.mu.Unlock()
			return resp, nil
		}
		d.mu.Unlock()
	}

	key := fmt.Sprintf("%s|%s|%t", path, language, diarize)
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		opts := &interfaces.PreRecordedTranscriptionOptions{
			Model:          d.model,
			Language:       language,
			DetectLanguage: language == "",
			Punctuate:      true,
			SmartFormat:    true,
			Utterances:     true,
			Diarize:        diarize,
		}

		var raw []byte
		err := d.guard.Do(ctx, "DeepgramProvider.request", func(ctx context.Context) error {
			var err error
			raw, err = d.fetch(ctx, path, opts)
			return err
		})
		if err != nil {
			return nil, err
		}

		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode deepgram response: %w", err)
		}
		log.Debug().
			Str("model", d.model).
			Float64("duration_s", resp.Metadata.Duration).
			Int("utterances", len(resp.Results.Utterances)).
			Msg("Deepgram transcription received")
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := v.(*response)
	if diarize && language == "" {
		d.mu.Lock()
		d.lastPath, d.lastResp = path, resp
		d.mu.Unlock()
	}
	return resp, nil
}

// response is the subset of Deepgram's pre-recorded JSON the pipeline reads
type response struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []word  `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []utterance `json:"utterances"`
	} `json:"results"`
}

type word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker"`
}

type utterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Transcript string  `json:"transcript"`
	Speaker    *int    `json:"speaker"`
}

func speakerID(n *int) string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf("s%d", *n)
}

func ms(seconds float64) int {
	return int(seconds*1000 + 0.5)
}

func (r *response) toTranscription(diarize bool) *capability.Transcription {
	out := &capability.Transcription{DurationMs: ms(r.Metadata.Duration)}

	if len(r.Results.Channels) > 0 {
		ch := r.Results.Channels[0]
		out.Language = ch.DetectedLanguage
		if len(ch.Alternatives) > 0 {
			out.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
			out.Confidence = ch.Alternatives[0].Confidence
		}
	}

	for _, u := range r.Results.Utterances {
		seg := capability.Segment{
			Text:       strings.TrimSpace(u.Transcript),
			StartMs:    ms(u.Start),
			EndMs:      ms(u.End),
			Confidence: u.Confidence,
			Language:   out.Language,
		}
		if diarize {
			seg.SpeakerID = speakerID(u.Speaker)
		}
		out.Segments = append(out.Segments, seg)
	}

	if len(out.Segments) == 0 && out.Text != "" {
		out.Segments = []capability.Segment{{
			Text:       out.Text,
			StartMs:    0,
			EndMs:      out.DurationMs,
			Confidence: out.Confidence,
			Language:   out.Language,
		}}
	}
	return out
}

func (r *response) toDetection() *capability.SpeakerDetection {
	spans := make(map[string][]capability.Span)
	for _, u := range r.Results.Utterances {
		id := speakerID(u.Speaker)
		if id == "" {
			continue
		}
		spans[id] = append(spans[id], capability.Span{StartMs: ms(u.Start), EndMs: ms(u.End)})
	}

	det := &capability.SpeakerDetection{}
	for id, s := range spans {
		det.Speakers = append(det.Speakers, capability.DetectedSpeaker{ID: id, Spans: s})
	}
	sort.Slice(det.Speakers, func(i, j int) bool { return det.Speakers[i].ID < det.Speakers[j].ID })

	best := -1
	for _, sp := range det.Speakers {
		if t := sp.SpeakingMs(); t > best {
			best = t
			det.PrimarySpeakerID = sp.ID
		}
	}
	return det
}
