package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("ML_SERVICE_URL", "http://ml:8000")
	defer os.Unsetenv("ML_SERVICE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.MLServiceURL != "http://ml:8000" {
		t.Errorf("Expected MLServiceURL 'http://ml:8000', got '%s'", cfg.MLServiceURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Setenv("TRANSCRIBER_BACKEND", "deepgram")
	os.Unsetenv("DEEPGRAM_API_KEY")
	defer os.Unsetenv("TRANSCRIBER_BACKEND")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when DEEPGRAM_API_KEY is missing for the deepgram backend")
	}
}

func TestLoad_CartesiaRequiresKey(t *testing.T) {
	os.Setenv("SYNTHESIZER_BACKEND", "cartesia")
	os.Unsetenv("CARTESIA_API_KEY")
	defer os.Unsetenv("SYNTHESIZER_BACKEND")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when CARTESIA_API_KEY is missing for the cartesia backend")
	}

	os.Setenv("CARTESIA_API_KEY", "test-cartesia-key")
	defer os.Unsetenv("CARTESIA_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.CartesiaAPIKey != "test-cartesia-key" {
		t.Errorf("Expected CartesiaAPIKey 'test-cartesia-key', got '%s'", cfg.CartesiaAPIKey)
	}
}

func TestLoad_UnsupportedBackend(t *testing.T) {
	os.Setenv("TRANSLATOR_BACKEND", "carrier-pigeon")
	defer os.Unsetenv("TRANSLATOR_BACKEND")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unsupported TRANSLATOR_BACKEND")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.TranscriberBackend != "mlservice" {
		t.Errorf("Expected default TranscriberBackend 'mlservice', got '%s'", cfg.TranscriberBackend)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.MaxLanguageWorkers != 4 {
		t.Errorf("Expected default MaxLanguageWorkers 4, got %d", cfg.MaxLanguageWorkers)
	}

	if cfg.SpeakerMergeThreshold != 0.65 {
		t.Errorf("Expected default SpeakerMergeThreshold 0.65, got %f", cfg.SpeakerMergeThreshold)
	}

	if cfg.MaxDistinctVoices != 3 {
		t.Errorf("Expected default MaxDistinctVoices 3, got %d", cfg.MaxDistinctVoices)
	}

	if cfg.MinSilenceMs != 100 || cfg.MaxSilenceMs != 3000 {
		t.Errorf("Expected default silence bounds 100/3000, got %d/%d", cfg.MinSilenceMs, cfg.MaxSilenceMs)
	}

	if !cfg.PreserveSilences {
		t.Error("Expected default PreserveSilences true, got false")
	}

	if cfg.OutputSampleRate != 44100 {
		t.Errorf("Expected default OutputSampleRate 44100, got %d", cfg.OutputSampleRate)
	}

	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}
}

func TestConfig_TargetLanguages(t *testing.T) {
	cfg := &Config{DefaultTargetLanguages: " en, fr ,,es"}

	langs := cfg.TargetLanguages()
	expected := []string{"en", "fr", "es"}
	if len(langs) != len(expected) {
		t.Fatalf("Expected %d languages, got %d (%v)", len(expected), len(langs), langs)
	}
	for i, l := range expected {
		if langs[i] != l {
			t.Errorf("Expected language %q at index %d, got %q", l, i, langs[i])
		}
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestLoadPipelineProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `
hallucinations:
  en:
    - "like and subscribe"
  "*":
    - "[music]"
scripts:
  sr: Cyrl
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	profile, err := LoadPipelineProfile(path)
	if err != nil {
		t.Fatalf("LoadPipelineProfile() failed: %v", err)
	}

	if got := profile.Hallucinations["en"]; len(got) != 1 || got[0] != "like and subscribe" {
		t.Errorf("Expected one english phrase, got %v", got)
	}
	if profile.Scripts["sr"] != "Cyrl" {
		t.Errorf("Expected script override 'Cyrl' for sr, got '%s'", profile.Scripts["sr"])
	}
}

func TestLoadPipelineProfile_Empty(t *testing.T) {
	profile, err := LoadPipelineProfile("")
	if err != nil {
		t.Fatalf("LoadPipelineProfile() failed: %v", err)
	}
	if len(profile.Hallucinations) != 0 {
		t.Errorf("Expected empty profile, got %v", profile.Hallucinations)
	}
}
