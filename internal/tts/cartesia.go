// Package tts implements speech synthesis on Cartesia's REST API.
package tts

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
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/resilience"
)

const defaultBaseURL = "https://api.cartesia.ai"

// Config configures the Cartesia client
type Config struct {
	APIKey       string
	BaseURL      string
	VoiceID      string // generic voice
	ModelID      string
	Version      string // Cartesia-Version header
	SampleRate   int
	MaxFailures  int
	ResetTimeout time.Duration
	Retry        *resilience.RetryConfig
	HTTPClient   *http.Client
}

// CartesiaClient implements capability.Synthesizer
type CartesiaClient struct {
	cfg        Config
	httpClient *http.Client
	guard      *resilience.Guard
	cloneGuard *resilience.Guard

	mu     sync.Mutex
	clones map[string]string // reference path -> cloned voice id
}

var _ capability.Synthesizer = (*CartesiaClient)(nil)

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg Config) *CartesiaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = "sonic-multilingual"
	}
	if cfg.Version == "" {
		cfg.Version = "2024-06-10"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	return &CartesiaClient{
		cfg:        cfg,
		httpClient: httpClient,
		guard:      resilience.NewGuard("cartesia_tts", cfg.MaxFailures, cfg.ResetTimeout, cfg.Retry),
		cloneGuard: resilience.NewGuard("cartesia_clone", cfg.MaxFailures, cfg.ResetTimeout, cfg.Retry),
		clones:     make(map[string]string),
	}
}

type voiceSpec struct {
	Mode      string    `json:"mode"`
	ID        string    `json:"id,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type ttsRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
}

// Synthesize implements capability.Synthesizer. A reference clip is cloned
// once per path; a profile embedding is sent inline.
func (c *CartesiaClient) Synthesize(ctx context.Context, req capability.SynthesisRequest) (*capability.Synthesis, error) {
	voice := voiceSpec{Mode: "id", ID: c.cfg.VoiceID}
	cloned := false

	switch {
	case req.Voice.ReferencePath != "":
		id, err := c.cloneVoice(ctx, req.Voice.ReferencePath, req.Language)
		if err != nil {
			return nil, err
		}
		voice.ID = id
		cloned = true
	case req.Voice.Profile != nil && len(req.Voice.Profile.Embedding) > 0:
		voice = voiceSpec{Mode: "embedding", Embedding: req.Voice.Profile.Embedding}
		cloned = true
	}

	payload := ttsRequest{
		ModelID:    c.cfg.ModelID,
		Transcript: req.Text,
		Voice:      voice,
		OutputFormat: outputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.SampleRate,
		},
		Language: req.Language,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	err = c.guard.Do(ctx, "CartesiaClient.Synthesize", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/tts/bytes", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.send(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return writeBody(req.OutputPath, resp.Body)
	})
	if err != nil {
		return nil, err
	}

	durationMs, err := audio.WAVDurationMs(req.OutputPath)
	if err != nil {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "CartesiaClient.Synthesize", "unreadable synthesis output", err)
	}
	if durationMs == 0 {
		return nil, apperr.E(apperr.CodeCapabilityFailure, "CartesiaClient.Synthesize", "cartesia returned empty audio", nil)
	}

	log.Debug().
		Str("language", req.Language).
		Bool("voice_cloned", cloned).
		Int("duration_ms", durationMs).
		Msg("Cartesia synthesis complete")

	return &capability.Synthesis{
		AudioPath:   req.OutputPath,
		DurationMs:  durationMs,
		Format:      "wav",
		VoiceCloned: cloned,
	}, nil
}

func (c *CartesiaClient) cloneVoice(ctx context.Context, referencePath, language string) (string, error) {
	c.mu.Lock()
	id, ok := c.clones[referencePath]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var result struct {
		ID string `json:"id"`
	}
	err := c.cloneGuard.Do(ctx, "CartesiaClient.cloneVoice", func(ctx context.Context) error {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)

		file, err := os.Open(referencePath)
		if err != nil {
			return apperr.E(apperr.CodeInput, "CartesiaClient.cloneVoice", "failed to open reference clip", err)
		}
		part, err := writer.CreateFormFile("clip", filepath.Base(referencePath))
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to create form file: %w", err)
		}
		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("failed to copy reference clip: %w", err)
		}
		_ = writer.WriteField("name", "ref-"+filepath.Base(referencePath))
		if language != "" {
			_ = writer.WriteField("language", language)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/voices/clone", body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := c.send(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", apperr.E(apperr.CodeCapabilityFailure, "CartesiaClient.cloneVoice", "clone returned no voice id", nil)
	}

	c.mu.Lock()
	c.clones[referencePath] = result.ID
	c.mu.Unlock()

	log.Info().Str("voice_id", result.ID).Msg("Cloned voice from reference clip")
	return result.ID, nil
}

// HealthCheck verifies the API key against the voices listing
func (c *CartesiaClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/voices?limit=1", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.send(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

func (c *CartesiaClient) send(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", c.cfg.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return resp, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	statusErr := fmt.Errorf("cartesia API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.NewRetryableError(statusErr)
	}
	return nil, statusErr
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
