package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineProfile holds tuning data that does not fit in flat env keys.
// It is read from the YAML file named by PIPELINE_PROFILE.
type PipelineProfile struct {
	// Hallucinations maps a language code (or "*") to extra phrases that
	// transcription backends emit on silence or noise.
	Hallucinations map[string][]string `yaml:"hallucinations"`

	// Scripts overrides the expected writing system (ISO 15924 code, e.g. "Latn")
	// for a language code.
	Scripts map[string]string `yaml:"scripts"`
}

// LoadPipelineProfile reads a profile file. An empty path yields an empty profile.
func LoadPipelineProfile(path string) (*PipelineProfile, error) {
	profile := &PipelineProfile{}
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline profile: %w", err)
	}

	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline profile: %w", err)
	}

	return profile, nil
}
