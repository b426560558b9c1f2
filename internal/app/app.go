// Package app builds the pipeline and its collaborators from configuration.
// Both binaries start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/audio-translator/internal/cache"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/config"
	"github.com/lexiqai/audio-translator/internal/media"
	"github.com/lexiqai/audio-translator/internal/mlservice"
	"github.com/lexiqai/audio-translator/internal/observability"
	"github.com/lexiqai/audio-translator/internal/pipeline"
	"github.com/lexiqai/audio-translator/internal/resilience"
	"github.com/lexiqai/audio-translator/internal/storage"
	"github.com/lexiqai/audio-translator/internal/stt"
	"github.com/lexiqai/audio-translator/internal/translate"
	"github.com/lexiqai/audio-translator/internal/tts"
)

// App owns the orchestrator and everything that must be closed with it
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Checks       []observability.DependencyCheck

	closers []func() error
}

type providers struct {
	transcriber capability.Transcriber
	detector    capability.SpeakerDetector
	synthesizer capability.Synthesizer
	profiler    capability.VoiceProfiler
	basic       capability.Translator
	premium     capability.Translator
}

// New wires the service. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	profile, err := config.LoadPipelineProfile(cfg.PipelineProfile)
	if err != nil {
		return nil, err
	}
	opts := pipeline.OptionsFromConfig(cfg, profile)

	store, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	uploader, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	p, err := a.openProviders(ctx, store)
	if err != nil {
		return nil, err
	}

	ffmpeg := media.NewFFmpeg(media.FFmpegConfig{
		FFmpegPath:     cfg.FFmpegPath,
		FFprobePath:    cfg.FFprobePath,
		ConvertTimeout: time.Duration(cfg.ConvertTimeout) * time.Second,
		JoinTimeout:    time.Duration(cfg.FFmpegTimeout) * time.Second,
	}, nil)
	a.Checks = append(a.Checks, observability.DependencyCheck{Name: "ffmpeg", Check: ffmpeg.HealthCheck})

	a.Orchestrator = pipeline.NewOrchestrator(pipeline.Deps{
		Converter:   ffmpeg,
		Transcriber: p.transcriber,
		Detector:    p.detector,
		Translators: translate.NewRouter(p.basic, p.premium),
		Synthesizer: p.synthesizer,
		Profiler:    p.profiler,
		Joiner:      ffmpeg,
		Cache: pipeline.NewContentCache(store,
			time.Duration(cfg.TranscriptTTL)*time.Second,
			time.Duration(cfg.AudioTTL)*time.Second),
		Uploader: uploader,
	}, opts)

	log.Info().
		Str("transcriber", cfg.TranscriberBackend).
		Str("synthesizer", cfg.SynthesizerBackend).
		Str("translator", cfg.TranslatorBackend).
		Str("premium_translator", cfg.PremiumTranslator).
		Bool("diarization", p.detector != nil).
		Bool("redis", cfg.RedisURL != "").
		Bool("gcs", cfg.GCSBucket != "").
		Msg("Pipeline assembled")
	ok = true
	return a, nil
}

// Close releases clients in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openCache(ctx context.Context) (cache.Store, error) {
	if a.Config.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, using in-process cache")
		return cache.NewMemoryCache(), nil
	}

	reconnect := resilience.NewReconnectConfig(a.Config.ReconnectMaxAttempts, a.Config.ReconnectBackoff)
	rc, err := cache.Connect(ctx, a.Config.RedisURL, reconnect)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, rc.Close)
	a.Checks = append(a.Checks, observability.DependencyCheck{
		Name: "redis",
		Check: func(ctx context.Context) (bool, error) {
			if err := rc.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	})
	return rc, nil
}

func (a *App) openStorage(ctx context.Context) (storage.Uploader, error) {
	cfg := a.Config
	if cfg.GCSBucket != "" {
		gcsUploader, err := storage.NewGCSUploader(ctx, cfg.GCSBucket, cfg.GCSPublicRead)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		a.closers = append(a.closers, gcsUploader.Close)
		a.Checks = append(a.Checks, observability.DependencyCheck{Name: "gcs", Check: gcsUploader.HealthCheck, Optional: true})
		return gcsUploader, nil
	}

	if cfg.ArtifactURL == "" {
		// Output stays in WORK_DIR and results carry local paths only.
		return nil, nil
	}
	local := storage.NewLocalStore(cfg.ArtifactDir, cfg.ArtifactURL)
	a.Checks = append(a.Checks, observability.DependencyCheck{Name: "artifact_dir", Check: local.HealthCheck})
	return local, nil
}

func (a *App) openProviders(ctx context.Context, store cache.Store) (*providers, error) {
	cfg := a.Config
	retry := resilience.NewRetryConfig(cfg.RetryMaxAttempts, cfg.RetryInitialBackoff)
	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	p := &providers{}

	var ml *mlservice.Client
	if cfg.UsesMLService() {
		ml = mlservice.NewClient(mlservice.Config{
			BaseURL:      cfg.MLServiceURL,
			Timeout:      time.Duration(cfg.MLServiceTimeout) * time.Second,
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: resetTimeout,
			Retry:        retry,
		})
		a.Checks = append(a.Checks, observability.DependencyCheck{Name: "ml_service", Check: ml.HealthCheck})
		p.profiler = ml
	}

	switch cfg.TranscriberBackend {
	case config.BackendDeepgram:
		dg := stt.NewDeepgramProvider(stt.Config{
			APIKey:       cfg.DeepgramAPIKey,
			Model:        cfg.DeepgramModel,
			Language:     cfg.DeepgramLanguage,
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: resetTimeout,
			Retry:        retry,
		})
		p.transcriber, p.detector = dg, dg
	default:
		p.transcriber, p.detector = ml, ml
	}
	if !cfg.DiarizationEnabled {
		p.detector = nil
	}

	switch cfg.SynthesizerBackend {
	case config.BackendCartesia:
		ct := tts.NewCartesiaClient(tts.Config{
			APIKey:       cfg.CartesiaAPIKey,
			VoiceID:      cfg.CartesiaVoiceID,
			ModelID:      cfg.CartesiaModelID,
			Version:      cfg.CartesiaVersion,
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: resetTimeout,
			Retry:        retry,
		})
		a.Checks = append(a.Checks, observability.DependencyCheck{Name: "cartesia", Check: ct.HealthCheck, Optional: true})
		p.synthesizer = ct
	default:
		p.synthesizer = ml
	}

	var vertex *translate.VertexGemini
	openVertex := func() (*translate.VertexGemini, error) {
		if vertex != nil {
			return vertex, nil
		}
		v, err := translate.NewVertexGemini(ctx, translate.VertexConfig{
			ProjectID:    cfg.VertexProjectID,
			Location:     cfg.VertexLocation,
			Model:        cfg.VertexModel,
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: resetTimeout,
			Retry:        retry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
		}
		a.closers = append(a.closers, v.Close)
		vertex = v
		return v, nil
	}

	ttl := time.Duration(cfg.TranslationTTL) * time.Second
	switch cfg.TranslatorBackend {
	case config.BackendVertex:
		v, err := openVertex()
		if err != nil {
			return nil, err
		}
		p.basic = translate.NewCached(v, store, translate.TierBasic, ttl)
	case config.BackendNone:
		p.basic = translate.Passthrough{}
	default:
		p.basic = translate.NewCached(ml.WithModelTier(translate.TierBasic), store, translate.TierBasic, ttl)
	}

	if cfg.PremiumTranslator == config.BackendVertex {
		v, err := openVertex()
		if err != nil {
			return nil, err
		}
		p.premium = translate.NewCached(v, store, translate.TierPremium, ttl)
	}

	return p, nil
}
