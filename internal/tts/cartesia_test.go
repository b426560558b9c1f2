package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/resilience"
)

func wavBytes(t *testing.T, ms int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	clip := &audio.Clip{SampleRate: 24000, Samples: make([]int16, 24*ms)}
	for i := range clip.Samples {
		clip.Samples[i] = int16((i % 60) * 200)
	}
	require.NoError(t, audio.WriteWAV(path, clip))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func testClient(t *testing.T, handler http.Handler) *CartesiaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCartesiaClient(Config{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		VoiceID:     "generic-voice",
		MaxFailures: 5,
		Retry:       &resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	})
}

func TestCartesia_SynthesizeGenericVoice(t *testing.T) {
	body := wavBytes(t, 500)
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tts/bytes", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2024-06-10", r.Header.Get("Cartesia-Version"))

		var req ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bonjour", req.Transcript)
		assert.Equal(t, "id", req.Voice.Mode)
		assert.Equal(t, "generic-voice", req.Voice.ID)
		assert.Equal(t, "wav", req.OutputFormat.Container)
		assert.Equal(t, "fr", req.Language)
		w.Write(body)
	}))

	out := filepath.Join(t.TempDir(), "out.wav")
	res, err := client.Synthesize(context.Background(), capability.SynthesisRequest{Text: "bonjour", Language: "fr", OutputPath: out})
	require.NoError(t, err)
	assert.False(t, res.VoiceCloned)
	assert.InDelta(t, 500, res.DurationMs, 2)
	assert.FileExists(t, out)
}

func TestCartesia_ClonesReferenceOnce(t *testing.T) {
	body := wavBytes(t, 300)
	var clones int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/voices/clone":
			atomic.AddInt32(&clones, 1)
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, _, err := r.FormFile("clip")
			require.NoError(t, err)
			json.NewEncoder(w).Encode(map[string]string{"id": "cloned-1"})
		case "/tts/bytes":
			var req ttsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "cloned-1", req.Voice.ID)
			w.Write(body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ref := filepath.Join(t.TempDir(), "ref.wav")
	require.NoError(t, os.WriteFile(ref, wavBytes(t, 100), 0o644))

	for i := 0; i < 2; i++ {
		out := filepath.Join(t.TempDir(), "out.wav")
		res, err := client.Synthesize(context.Background(), capability.SynthesisRequest{
			Text: "hello", Language: "en", OutputPath: out,
			Voice: capability.Voice{ReferencePath: ref},
		})
		require.NoError(t, err)
		assert.True(t, res.VoiceCloned)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&clones))
}

func TestCartesia_EmbeddingVoice(t *testing.T) {
	body := wavBytes(t, 200)
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embedding", req.Voice.Mode)
		assert.Len(t, req.Voice.Embedding, 3)
		w.Write(body)
	}))

	out := filepath.Join(t.TempDir(), "out.wav")
	res, err := client.Synthesize(context.Background(), capability.SynthesisRequest{
		Text: "hi", OutputPath: out,
		Voice: capability.Voice{Profile: &capability.VoiceProfile{Embedding: []float32{0.1, 0.2, 0.3}}},
	})
	require.NoError(t, err)
	assert.True(t, res.VoiceCloned)
}

func TestCartesia_ErrorStatus(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))

	out := filepath.Join(t.TempDir(), "out.wav")
	_, err := client.Synthesize(context.Background(), capability.SynthesisRequest{Text: "hi", OutputPath: out})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	ok, err := client.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}
