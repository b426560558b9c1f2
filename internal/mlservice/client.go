// Package mlservice is the HTTP client for the self-hosted ML backend. One
// service exposes transcription, diarization, translation, synthesis and voice
// profiling; each capability is guarded by its own circuit breaker.
package mlservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/resilience"
)

// Config configures the ML service client
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	MaxFailures        int
	ResetTimeout       time.Duration
	Retry              *resilience.RetryConfig
	HTTPClient         *http.Client // optional, for tests
	TranslatorModelTag string       // sent as model_tier on translate calls
}

// Client implements every capability interface against the ML service
type Client struct {
	baseURL    string
	httpClient *http.Client
	modelTier  string

	transcribe *resilience.Guard
	diarize    *resilience.Guard
	translate  *resilience.Guard
	synthesize *resilience.Guard
	profile    *resilience.Guard
}

var (
	_ capability.Transcriber     = (*Client)(nil)
	_ capability.SpeakerDetector = (*Client)(nil)
	_ capability.Translator      = (*Client)(nil)
	_ capability.Synthesizer     = (*Client)(nil)
	_ capability.VoiceProfiler   = (*Client)(nil)
)

// NewClient creates an ML service client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	guard := func(name string) *resilience.Guard {
		return resilience.NewGuard(name, cfg.MaxFailures, cfg.ResetTimeout, cfg.Retry)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		modelTier:  cfg.TranslatorModelTag,
		transcribe: guard("mlservice_transcribe"),
		diarize:    guard("mlservice_diarize"),
		translate:  guard("mlservice_translate"),
		synthesize: guard("mlservice_synthesize"),
		profile:    guard("mlservice_voice_profile"),
	}
}

// WithModelTier returns a client that sends tier on translate calls. Breakers are shared.
func (c *Client) WithModelTier(tier string) *Client {
	clone := *c
	clone.modelTier = tier
	return &clone
}

// Transcribe implements capability.Transcriber
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts capability.TranscribeOptions) (*capability.Transcription, error) {
	fields := map[string]string{"diarize": strconv.FormatBool(opts.Diarize)}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}

	var result transcribeResponse
	err := c.transcribe.Do(ctx, "mlservice.Transcribe", func(ctx context.Context) error {
		return c.postMultipart(ctx, "/v1/transcribe", audioPath, fields, &result)
	})
	if err != nil {
		return nil, err
	}
	return result.toTranscription(), nil
}

// DetectSpeakers implements capability.SpeakerDetector
func (c *Client) DetectSpeakers(ctx context.Context, audioPath string) (*capability.SpeakerDetection, error) {
	var result capability.SpeakerDetection
	err := c.diarize.Do(ctx, "mlservice.DetectSpeakers", func(ctx context.Context) error {
		return c.postMultipart(ctx, "/v1/diarize", audioPath, nil, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Translate implements capability.Translator
func (c *Client) Translate(ctx context.Context, text, srcLang, dstLang string) (string, error) {
	payload := translateRequest{Text: text, SourceLanguage: srcLang, TargetLanguage: dstLang, ModelTier: c.modelTier}

	var result translateResponse
	err := c.translate.Do(ctx, "mlservice.Translate", func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/translate", payload, &result)
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(result.TranslatedText) == "" {
		return "", apperr.E(apperr.CodeCapabilityFailure, "mlservice.Translate", "empty translation", nil)
	}
	return result.TranslatedText, nil
}

// Synthesize implements capability.Synthesizer. The service answers with WAV bytes.
func (c *Client) Synthesize(ctx context.Context, req capability.SynthesisRequest) (*capability.Synthesis, error) {
	fields := map[string]string{
		"text":     req.Text,
		"language": req.Language,
	}
	if req.Voice.Profile != nil {
		embedding, err := json.Marshal(req.Voice.Profile.Embedding)
		if err != nil {
			return nil, err
		}
		fields["embedding"] = string(embedding)
	}

	var cloned bool
	var quality float64
	err := c.synthesize.Do(ctx, "mlservice.Synthesize", func(ctx context.Context) error {
		resp, err := c.doMultipart(ctx, "/v1/synthesize", "reference", req.Voice.ReferencePath, fields)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := writeBody(req.OutputPath, resp.Body); err != nil {
			return err
		}
		cloned, _ = strconv.ParseBool(resp.Header.Get("X-Voice-Cloned"))
		quality, _ = strconv.ParseFloat(resp.Header.Get("X-Voice-Quality"), 64)
		return nil
	})
	if err != nil {
		return nil, err
	}

	durationMs, err := audio.WAVDurationMs(req.OutputPath)
	if err != nil {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "mlservice.Synthesize", "unreadable synthesis output", err)
	}

	return &capability.Synthesis{
		AudioPath:    req.OutputPath,
		DurationMs:   durationMs,
		Format:       "wav",
		VoiceCloned:  cloned,
		VoiceQuality: quality,
	}, nil
}

// ExtractVoiceProfile implements capability.VoiceProfiler
func (c *Client) ExtractVoiceProfile(ctx context.Context, audioPath string) (*capability.VoiceProfile, error) {
	var result capability.VoiceProfile
	err := c.profile.Do(ctx, "mlservice.ExtractVoiceProfile", func(ctx context.Context) error {
		return c.postMultipart(ctx, "/v1/voice-profile", audioPath, nil, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "mlservice.ExtractVoiceProfile", "empty embedding", nil)
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	return &result, nil
}

// HealthCheck verifies that the ML service is operational
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

func (c *Client) postMultipart(ctx context.Context, path, audioPath string, fields map[string]string, out any) error {
	resp, err := c.doMultipart(ctx, path, "audio", audioPath, fields)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// doMultipart sends fields plus an optional file and returns a 200 response
func (c *Client) doMultipart(ctx context.Context, path, fileField, filePath string, fields map[string]string) (*http.Response, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if filePath != "" {
		file, err := os.Open(filePath)
		if err != nil {
			return nil, apperr.E(apperr.CodeInput, "mlservice", "failed to open audio file", err)
		}
		part, err := writer.CreateFormFile(fileField, filepath.Base(filePath))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to copy file data: %w", err)
		}
	}

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.send(req)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// send performs the request and converts non-200 answers into errors. 5xx and
// 429 are retryable; 503 additionally marks the capability as unavailable.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	statusErr := fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, resilience.NewRetryableError(
			apperr.E(apperr.CodeCapabilityUnavailable, req.URL.Path, "model not ready", statusErr))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.NewRetryableError(statusErr)
	default:
		return nil, statusErr
	}
}

func writeBody(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
