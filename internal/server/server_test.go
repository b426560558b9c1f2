package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/observability"
	"github.com/lexiqai/audio-translator/internal/pipeline"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []pipeline.Request
	audio    [][]byte
	err      error
	release  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.PipelineResult, error) {
	if f.release != nil {
		<-f.release
	}
	data, _ := os.ReadFile(req.AudioPath)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.audio = append(f.audio, data)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	v := &pipeline.TranslatedAudioVersion{Language: "fr", AudioPath: "/out/fr.mp3", DurationMs: 1200}
	if req.OnTranslationReady != nil {
		req.OnTranslationReady("fr", v, 1, 1)
	}
	return &pipeline.PipelineResult{
		MessageID:    req.MessageID,
		Translations: map[string]*pipeline.TranslatedAudioVersion{"fr": v},
	}, nil
}

func postJSON(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/translations", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTranslate_Path(t *testing.T) {
	runner := &fakeRunner{}
	srv := New(runner, nil, Options{UploadDir: t.TempDir()})

	path := filepath.Join(t.TempDir(), "voice.m4a")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	rec := postJSON(t, srv.Handler(), map[string]any{
		"audioPath":       path,
		"messageId":       "m-1",
		"targetLanguages": []string{"fr"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res pipeline.PipelineResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "m-1", res.MessageID)
	assert.Contains(t, res.Translations, "fr")

	require.Len(t, runner.requests, 1)
	assert.Equal(t, []string{"fr"}, runner.requests[0].TargetLanguages)
	assert.NotNil(t, runner.requests[0].OnTranslationReady)
}

func TestTranslate_InlineAudioIsSpooledAndRemoved(t *testing.T) {
	runner := &fakeRunner{}
	uploads := t.TempDir()
	srv := New(runner, nil, Options{UploadDir: uploads})

	rec := postJSON(t, srv.Handler(), map[string]any{
		"audioBase64":   base64.StdEncoding.EncodeToString([]byte("RIFFdata")),
		"audioFilename": "clip.WAV",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, runner.requests, 1)
	assert.Equal(t, []byte("RIFFdata"), runner.audio[0])
	assert.True(t, strings.HasSuffix(runner.requests[0].AudioPath, ".wav"))
	assert.NotEmpty(t, runner.requests[0].MessageID)

	entries, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "bad json", body: "{", status: http.StatusBadRequest, code: "INPUT"},
		{name: "no audio", body: `{"messageId":"m"}`, status: http.StatusBadRequest, code: "INPUT"},
		{name: "bad base64", body: `{"audioBase64":"***"}`, status: http.StatusBadRequest, code: "INPUT"},
		{
			name:   "pipeline input error",
			body:   `{"audioPath":"/missing.wav"}`,
			err:    apperr.E(apperr.CodeInput, "test", "audio file not found", nil),
			status: http.StatusBadRequest,
			code:   "INPUT",
		},
		{
			name:   "capability unavailable",
			body:   `{"audioPath":"/a.wav"}`,
			err:    apperr.E(apperr.CodeCapabilityUnavailable, "test", "asr down", nil),
			status: http.StatusServiceUnavailable,
			code:   "CAPABILITY_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&fakeRunner{err: tt.err}, nil, Options{UploadDir: t.TempDir()})
			req := httptest.NewRequest(http.MethodPost, "/v1/translations", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestTranslate_MethodNotAllowed(t *testing.T) {
	srv := New(&fakeRunner{}, nil, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/translations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReadyAndHealth(t *testing.T) {
	failing := observability.DependencyCheck{Name: "redis", Check: func(ctx context.Context) (bool, error) {
		return false, errors.New("connection refused")
	}}
	srv := New(&fakeRunner{}, nil, Options{Checks: []observability.DependencyCheck{failing}, MetricsEnabled: true})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func dialEvents(t *testing.T, ts *httptest.Server, messageID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events?messageId=" + messageID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, hub *Hub, messageID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(messageID) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_AsyncRunStreamsProgress(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	srv := New(runner, nil, Options{UploadDir: t.TempDir()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialEvents(t, ts, "m-async")
	waitSubscribers(t, srv.Hub(), "m-async", 1)

	rec := postJSON(t, srv.Handler(), map[string]any{"audioPath": "/a.wav", "messageId": "m-async", "async": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "m-async", accepted.MessageID)

	close(runner.release)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ready, done Event
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, EventTranslationReady, ready.Type)
	assert.Equal(t, "fr", ready.Language)
	assert.Equal(t, 1, ready.Total)
	require.NotNil(t, ready.Version)
	assert.Equal(t, 1200, ready.Version.DurationMs)

	require.NoError(t, conn.ReadJSON(&done))
	assert.Equal(t, EventCompleted, done.Type)
	require.NotNil(t, done.Result)

	require.NoError(t, srv.Shutdown(context.Background()))
	waitSubscribers(t, srv.Hub(), "m-async", 0)
}

func TestEvents_FilteredByMessageID(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleEvents))
	defer ts.Close()

	mine := dialEvents(t, ts, "mine")
	other := dialEvents(t, ts, "other")
	waitSubscribers(t, hub, "mine", 1)
	waitSubscribers(t, hub, "other", 1)

	hub.Publish(Event{Type: EventFailed, MessageID: "mine", Error: "boom"})

	require.NoError(t, mine.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, mine.ReadJSON(&ev))
	assert.Equal(t, "boom", ev.Error)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestEvents_RequiresMessageID(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_PlainRequestIsRejected(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/v1/events?messageId=m-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, hub.Subscribers("m-1"))
}

type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteJSON_WriteFailureKeepsStatus(t *testing.T) {
	w := brokenWriter{httptest.NewRecorder()}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHealthServer_MirrorsChecks(t *testing.T) {
	healthy := true
	check := observability.DependencyCheck{Name: "ml_service", Check: func(ctx context.Context) (bool, error) {
		return healthy, nil
	}}
	hs := NewHealthServer([]observability.DependencyCheck{check})
	ctx := context.Background()

	status, err := hs.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	assert.True(t, hs.Refresh(ctx))
	status, err = hs.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	healthy = false
	assert.False(t, hs.Refresh(ctx))
	status, err = hs.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}
