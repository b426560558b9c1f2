// Package server exposes the pipeline over HTTP, streams per-language
// progress over websockets and mirrors readiness on a gRPC health service.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/observability"
	"github.com/lexiqai/audio-translator/internal/pipeline"
)

const maxRequestBytes = 64 << 20

// Runner executes one pipeline request
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.PipelineResult, error)
}

// Options configures a Server
type Options struct {
	UploadDir      string // where inline audio is spooled
	MetricsEnabled bool
	Checks         []observability.DependencyCheck
}

// Server holds the HTTP surface of the service
type Server struct {
	runner Runner
	hub    *Hub
	opts   Options

	// Asynchronous runs outlive their request and stop with baseCtx.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a server
func New(runner Runner, hub *Hub, opts Options) *Server {
	if hub == nil {
		hub = NewHub()
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{runner: runner, hub: hub, opts: opts, baseCtx: ctx, cancel: cancel}
}

// Hub returns the event hub
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/translations", s.handleTranslate)
	mux.HandleFunc("GET /v1/events", s.hub.HandleEvents)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(s.opts.Checks...))
	if s.opts.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// Shutdown cancels asynchronous runs and waits for them, or for ctx
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TranslateRequest is the body of POST /v1/translations. Audio is given either
// as a path readable by the service or inline as base64.
type TranslateRequest struct {
	pipeline.Request
	AudioBase64   string `json:"audioBase64,omitempty"`
	AudioFilename string `json:"audioFilename,omitempty"`
	Async         bool   `json:"async,omitempty"`
}

type acceptedResponse struct {
	MessageID string `json:"messageId"`
	Events    string `json:"events"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	const op = "server.translate"

	var body TranslateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, apperr.E(apperr.CodeInput, op, "invalid request body", err))
		return
	}

	req := body.Request
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	var spooled string
	if body.AudioBase64 != "" {
		path, err := s.spool(body.AudioBase64, body.AudioFilename)
		if err != nil {
			writeError(w, err)
			return
		}
		spooled = path
		req.AudioPath = path
	}
	if req.AudioPath == "" {
		writeError(w, apperr.E(apperr.CodeInput, op, "audioPath or audioBase64 is required", nil))
		return
	}

	req.OnTranslationReady = s.hub.ReadyFunc(req.MessageID)
	logger := observability.WithMessage(observability.NewCorrelationID(), req.MessageID)

	if body.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if spooled != "" {
				defer os.Remove(spooled)
			}
			s.runAndPublish(s.baseCtx, req)
		}()
		logger.Info().Msg("Accepted asynchronous translation")
		writeJSON(w, http.StatusAccepted, acceptedResponse{
			MessageID: req.MessageID,
			Events:    "/v1/events?messageId=" + req.MessageID,
		})
		return
	}

	if spooled != "" {
		defer os.Remove(spooled)
	}
	result, err := s.runAndPublish(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runAndPublish(ctx context.Context, req pipeline.Request) (*pipeline.PipelineResult, error) {
	result, err := s.runner.Run(ctx, req)
	if err != nil {
		s.hub.Publish(Event{Type: EventFailed, MessageID: req.MessageID, Error: err.Error()})
		return nil, err
	}
	s.hub.Publish(Event{Type: EventCompleted, MessageID: req.MessageID, Result: result})
	return result, nil
}

// spool writes inline audio to a uniquely named file under UploadDir
func (s *Server) spool(data, filename string) (string, error) {
	const op = "server.spool"
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", apperr.E(apperr.CodeInput, op, "audioBase64 is not valid base64", err)
	}
	if len(raw) == 0 {
		return "", apperr.E(apperr.CodeInput, op, "audio is empty", nil)
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" {
		ext = ".bin"
	}
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", apperr.E(apperr.CodeInternal, op, "failed to create upload dir", err)
	}
	path := filepath.Join(s.opts.UploadDir, "upload_"+uuid.NewString()+ext)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", apperr.E(apperr.CodeInternal, op, "failed to store upload", err)
	}
	return path, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = string(apperr.CodeOf(err))
	body.Error.Message = err.Error()

	status := apperr.HTTPStatus(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, body)
}
