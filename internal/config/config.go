package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend identifiers accepted by the *_BACKEND keys
const (
	BackendMLService = "mlservice"
	BackendDeepgram  = "deepgram"
	BackendCartesia  = "cartesia"
	BackendVertex    = "vertex"
	BackendNone      = "none"
)

// Config holds all configuration for the audio translation service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health endpoint

	// Capability backends
	TranscriberBackend string `envconfig:"TRANSCRIBER_BACKEND" default:"mlservice"` // mlservice, deepgram
	DiarizationEnabled bool   `envconfig:"DIARIZATION_ENABLED" default:"true"`
	SynthesizerBackend string `envconfig:"SYNTHESIZER_BACKEND" default:"mlservice"` // mlservice, cartesia
	TranslatorBackend  string `envconfig:"TRANSLATOR_BACKEND" default:"mlservice"`  // mlservice, vertex, none
	PremiumTranslator  string `envconfig:"PREMIUM_TRANSLATOR" default:""`           // vertex or empty

	// Self-hosted ML service (transcription, diarization, translation, synthesis, voice profiles)
	MLServiceURL     string `envconfig:"ML_SERVICE_URL" default:"http://localhost:8000"`
	MLServiceTimeout int    `envconfig:"ML_SERVICE_TIMEOUT" default:"300"` // seconds

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:""`    // empty enables language detection

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"` // generic voice
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-multilingual"`
	CartesiaVersion string `envconfig:"CARTESIA_VERSION" default:"2024-06-10"`

	// Vertex AI (Gemini) translation
	VertexProjectID string `envconfig:"VERTEX_PROJECT_ID" default:""`
	VertexLocation  string `envconfig:"VERTEX_LOCATION" default:"us-central1"`
	VertexModel     string `envconfig:"VERTEX_MODEL" default:"gemini-1.5-flash"`

	// Cache and artifact storage
	RedisURL       string `envconfig:"REDIS_URL" default:""`  // empty uses the in-process cache
	GCSBucket      string `envconfig:"GCS_BUCKET" default:""` // empty keeps artifacts local
	GCSPublicRead  bool   `envconfig:"GCS_PUBLIC_READ" default:"false"`
	ArtifactDir    string `envconfig:"ARTIFACT_DIR" default:"/var/lib/audio-translator/artifacts"`
	ArtifactURL    string `envconfig:"ARTIFACT_BASE_URL" default:""` // public prefix for local artifacts
	WorkDir        string `envconfig:"WORK_DIR" default:"/tmp/audio-translator"`
	TranscriptTTL  int    `envconfig:"TRANSCRIPT_CACHE_TTL" default:"3600"`        // seconds
	AudioTTL       int    `envconfig:"TRANSLATED_AUDIO_CACHE_TTL" default:"3600"`  // seconds
	TranslationTTL int    `envconfig:"TEXT_TRANSLATION_CACHE_TTL" default:"86400"` // seconds

	// ffmpeg
	FFmpegPath     string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath    string `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	FFmpegTimeout  int    `envconfig:"FFMPEG_TIMEOUT" default:"60"`  // seconds, concatenation
	ConvertTimeout int    `envconfig:"CONVERT_TIMEOUT" default:"30"` // seconds, input normalisation

	// Pipeline tunables
	MaxLanguageWorkers     int     `envconfig:"MAX_LANGUAGE_WORKERS" default:"4"`
	DefaultTargetLanguages string  `envconfig:"DEFAULT_TARGET_LANGUAGES" default:"en,fr"` // comma separated
	CloneVoiceDefault      bool    `envconfig:"CLONE_VOICE_DEFAULT" default:"true"`
	DefaultModelTier       string  `envconfig:"DEFAULT_MODEL_TIER" default:"basic"` // basic, premium
	SpeakerMergeThreshold  float64 `envconfig:"SPEAKER_MERGE_THRESHOLD" default:"0.65"`
	PitchToleranceHz       float64 `envconfig:"PITCH_TOLERANCE_HZ" default:"20"`
	MaxDistinctVoices      int     `envconfig:"MAX_DISTINCT_VOICES" default:"3"`
	MinGapMs               int     `envconfig:"MIN_GAP_MS" default:"1000"`
	GapGainDB              float64 `envconfig:"GAP_GAIN_DB" default:"12"`
	HintMinConfidence      float64 `envconfig:"HINT_MIN_CONFIDENCE" default:"0.5"`
	ArtifactMaxDurationMs  int     `envconfig:"ARTIFACT_MAX_DURATION_MS" default:"150"`
	ArtifactMinConfidence  float64 `envconfig:"ARTIFACT_MIN_CONFIDENCE" default:"0.3"`
	MinSilenceMs           int     `envconfig:"MIN_SILENCE_MS" default:"100"`
	MaxSilenceMs           int     `envconfig:"MAX_SILENCE_MS" default:"3000"`
	PreserveSilences       bool    `envconfig:"PRESERVE_SILENCES" default:"true"`
	InterUnitGapMs         int     `envconfig:"INTER_UNIT_GAP_MS" default:"300"`
	MultiSpeakerMode       string  `envconfig:"MULTI_SPEAKER_MODE" default:"speaker"` // speaker, turn
	ReferenceTargetMs      int     `envconfig:"REFERENCE_TARGET_MS" default:"7000"`
	ReferenceMinMs         int     `envconfig:"REFERENCE_MIN_MS" default:"2000"`
	ReferenceMinSegmentMs  int     `envconfig:"REFERENCE_MIN_SEGMENT_MS" default:"200"`
	ReferenceLevelDBFS     float64 `envconfig:"REFERENCE_LEVEL_DBFS" default:"-20"`
	UnassignedWarnRatio    float64 `envconfig:"UNASSIGNED_WARN_RATIO" default:"0.3"`
	OutputSampleRate       int     `envconfig:"OUTPUT_SAMPLE_RATE" default:"44100"`
	OutputBitrate          string  `envconfig:"OUTPUT_BITRATE" default:"128k"`
	OutputFormat           string  `envconfig:"OUTPUT_FORMAT" default:"mp3"`
	VADEnergyThreshold     float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for speech frames
	PipelineProfile        string  `envconfig:"PIPELINE_PROFILE" default:""`          // optional YAML profile path

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that every selected backend has the settings it needs
func (c *Config) Validate() error {
	switch c.TranscriberBackend {
	case BackendMLService:
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required")
		}
	default:
		return fmt.Errorf("unsupported TRANSCRIBER_BACKEND %q", c.TranscriberBackend)
	}

	switch c.SynthesizerBackend {
	case BackendMLService:
	case BackendCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required")
		}
	default:
		return fmt.Errorf("unsupported SYNTHESIZER_BACKEND %q", c.SynthesizerBackend)
	}

	switch c.TranslatorBackend {
	case BackendMLService, BackendNone:
	case BackendVertex:
		if c.VertexProjectID == "" {
			return fmt.Errorf("VERTEX_PROJECT_ID is required")
		}
	default:
		return fmt.Errorf("unsupported TRANSLATOR_BACKEND %q", c.TranslatorBackend)
	}

	if c.PremiumTranslator == BackendVertex && c.VertexProjectID == "" {
		return fmt.Errorf("VERTEX_PROJECT_ID is required")
	}

	if c.UsesMLService() && c.MLServiceURL == "" {
		return fmt.Errorf("ML_SERVICE_URL is required")
	}

	if c.MultiSpeakerMode != "speaker" && c.MultiSpeakerMode != "turn" {
		return fmt.Errorf("unsupported MULTI_SPEAKER_MODE %q", c.MultiSpeakerMode)
	}

	if c.MaxLanguageWorkers < 1 {
		return fmt.Errorf("MAX_LANGUAGE_WORKERS must be at least 1")
	}

	return nil
}

// UsesMLService reports whether any capability is served by the ML service
func (c *Config) UsesMLService() bool {
	return c.TranscriberBackend == BackendMLService ||
		c.SynthesizerBackend == BackendMLService ||
		c.TranslatorBackend == BackendMLService
}

// TargetLanguages returns the default target language list
func (c *Config) TargetLanguages() []string {
	var langs []string
	for _, l := range strings.Split(c.DefaultTargetLanguages, ",") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
