package pipeline

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/cache"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/translate"
)

const testRate = 16000

// toneClip returns a voiced tone clip of durationMs
func toneClip(hz float64, durationMs int) *audio.Clip {
	n := testRate * durationMs / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*hz*float64(i)/testRate))
	}
	return &audio.Clip{SampleRate: testRate, Samples: samples}
}

func writeClip(t *testing.T, path string, c *audio.Clip) string {
	t.Helper()
	require.NoError(t, audio.WriteWAV(path, c))
	return path
}

// speechFile writes durationMs of tone, optionally with silent stretches
func speechFile(t *testing.T, dir, name string, durationMs int, silent ...[2]int) string {
	t.Helper()
	c := toneClip(150, durationMs)
	for _, s := range silent {
		from, to := s[0]*testRate/1000, s[1]*testRate/1000
		for i := from; i < to && i < len(c.Samples); i++ {
			c.Samples[i] = 0
		}
	}
	return writeClip(t, filepath.Join(dir, name), c)
}

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.WorkDir = t.TempDir()
	opts.MaxLanguageWorkers = 2
	opts.Encoding = audio.Encoding{Format: "wav", SampleRate: testRate, Channels: 1}
	return opts
}

func seg(text string, start, end int, speaker string) capability.Segment {
	return capability.Segment{Text: text, StartMs: start, EndMs: end, Confidence: 0.9, SpeakerID: speaker}
}

// fakeTranscriber answers source transcriptions with source and every
// other path with retranscribe
type fakeTranscriber struct {
	mu           sync.Mutex
	sourcePath   string
	source       *capability.Transcription
	retranscribe func(path string) (*capability.Transcription, error)
	sourceCalls  int
	otherCalls   int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string, opts capability.TranscribeOptions) (*capability.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sourcePath == "" || filepath.Base(path) == filepath.Base(f.sourcePath) {
		f.sourceCalls++
		if f.source == nil {
			return nil, apperr.E(apperr.CodeCapabilityFailure, "fake", "no source transcript", nil)
		}
		cp := *f.source
		cp.Segments = append([]capability.Segment(nil), f.source.Segments...)
		return &cp, nil
	}
	f.otherCalls++
	if f.retranscribe == nil {
		return &capability.Transcription{}, nil
	}
	return f.retranscribe(path)
}

type fakeDetector struct {
	result *capability.SpeakerDetection
	err    error
}

func (f *fakeDetector) DetectSpeakers(ctx context.Context, path string) (*capability.SpeakerDetection, error) {
	return f.result, f.err
}

// fakeTranslator prefixes text with the target language
type fakeTranslator struct {
	calls  int32
	failOn map[string]error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := f.failOn[dst]; err != nil {
		return "", err
	}
	return "[" + dst + "] " + text, nil
}

func router(tr capability.Translator) TranslatorRouter {
	return translate.NewRouter(tr, nil)
}

// fakeSynthesizer writes 100 ms of tone per word
type fakeSynthesizer struct {
	mu         sync.Mutex
	calls      int
	references map[string]int
	profiles   int
	failCloned bool
	failText   string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req capability.SynthesisRequest) (*capability.Synthesis, error) {
	f.mu.Lock()
	f.calls++
	if f.references == nil {
		f.references = map[string]int{}
	}
	f.references[req.Voice.ReferencePath]++
	if req.Voice.Profile != nil {
		f.profiles++
	}
	f.mu.Unlock()

	if f.failCloned && !req.Voice.Generic() {
		return nil, apperr.E(apperr.CodeCapabilityUnavailable, "fake", "cloning offline", nil)
	}
	if f.failText != "" && strings.Contains(req.Text, f.failText) {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "fake", "synthesis failed", nil)
	}

	ms := 100 * max(2, len(strings.Fields(req.Text)))
	c := toneClip(200, ms)
	if err := audio.WriteWAV(req.OutputPath, c); err != nil {
		return nil, err
	}
	return &capability.Synthesis{
		AudioPath:    req.OutputPath,
		DurationMs:   c.DurationMs(),
		Format:       "wav",
		VoiceCloned:  !req.Voice.Generic(),
		VoiceQuality: 0.8,
	}, nil
}

func (f *fakeSynthesizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// copyConverter stands in for ffmpeg on inputs that are already WAV
type copyConverter struct{}

func (copyConverter) ToWAV(ctx context.Context, in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return apperr.E(apperr.CodeInput, "copyConverter", "open", err)
	}
	defer src.Close()
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

type fakeProfiler struct {
	calls int
}

func (f *fakeProfiler) ExtractVoiceProfile(ctx context.Context, path string) (*capability.VoiceProfile, error) {
	f.calls++
	return &capability.VoiceProfile{
		Embedding:       []float32{0.1, 0.2},
		QualityScore:    0.7,
		Characteristics: capability.AcousticSummary{PitchHz: 150, Energy: 0.2},
	}, nil
}

func newTestCache() *ContentCache {
	return NewContentCache(cache.NewMemoryCache(), 0, 0)
}
