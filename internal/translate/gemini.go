// Package translate holds the text translation backends and the tier router
// that picks between them.
package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/resilience"
)

// generateFunc returns the model's text answer for a prompt
type generateFunc func(ctx context.Context, prompt string) (string, error)

// VertexGemini translates with a Gemini model on Vertex AI
type VertexGemini struct {
	client   *vertexgenai.Client
	generate generateFunc
	guard    *resilience.Guard
}

var _ capability.Translator = (*VertexGemini)(nil)

// VertexConfig configures the Gemini translator
type VertexConfig struct {
	ProjectID    string
	Location     string
	Model        string
	MaxFailures  int
	ResetTimeout time.Duration
	Retry        *resilience.RetryConfig
}

// NewVertexGemini creates a Gemini translator
func NewVertexGemini(ctx context.Context, cfg VertexConfig) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	m := c.GenerativeModel(cfg.Model)
	m.SetTemperature(0.1)

	generate := func(ctx context.Context, prompt string) (string, error) {
		resp, err := m.GenerateContent(ctx, vertexgenai.Text(prompt))
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok {
					sb.WriteString(string(t))
				}
			}
			break
		}
		return sb.String(), nil
	}

	v := newVertexGemini(cfg, generate)
	v.client = c
	return v, nil
}

func newVertexGemini(cfg VertexConfig, generate generateFunc) *VertexGemini {
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &VertexGemini{
		generate: generate,
		guard:    resilience.NewGuard("vertex_translate", cfg.MaxFailures, cfg.ResetTimeout, cfg.Retry),
	}
}

// Close releases the Vertex client
func (v *VertexGemini) Close() error {
	if v.client == nil {
		return nil
	}
	return v.client.Close()
}

// Translate implements capability.Translator
func (v *VertexGemini) Translate(ctx context.Context, text, srcLang, dstLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	prompt := buildPrompt(text, srcLang, dstLang)
	var out string
	err := v.guard.Do(ctx, "VertexGemini.Translate", func(ctx context.Context) error {
		var err error
		out, err = v.generate(ctx, prompt)
		return err
	})
	if err != nil {
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", apperr.E(apperr.CodeCapabilityFailure, "VertexGemini.Translate", "model returned no text", nil)
	}
	log.Debug().Str("src", srcLang).Str("dst", dstLang).Int("chars", len(out)).Msg("Gemini translation complete")
	return out, nil
}

func buildPrompt(text, srcLang, dstLang string) string {
	src := languageName(srcLang)
	if src == "" {
		src = "the detected source language"
	}
	return fmt.Sprintf(
		"Translate the following spoken message from %s to %s. "+
			"Keep the tone and register of the speaker. "+
			"Answer with the translation only, without quotes or notes.\n\n%s",
		src, languageName(dstLang), text)
}

// languageName renders a BCP 47 code in English, falling back to the code
func languageName(code string) string {
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
