package audio

import (
	"path/filepath"
	"testing"
)

func TestClip_DurationAndSlice(t *testing.T) {
	c := sine(16000, 200, 1000, 8000)

	if c.DurationMs() != 1000 {
		t.Errorf("Expected 1000ms, got %d", c.DurationMs())
	}

	s := c.Slice(250, 750)
	if s.DurationMs() != 500 {
		t.Errorf("Expected 500ms slice, got %d", s.DurationMs())
	}

	orig := c.Samples[4000]
	s.Samples[0] = orig + 1
	if c.Samples[4000] != orig {
		t.Error("Expected slice not to share storage")
	}

	clamped := c.Slice(900, 5000)
	if clamped.DurationMs() != 100 {
		t.Errorf("Expected slice clamped to 100ms, got %d", clamped.DurationMs())
	}

	empty := c.Slice(600, 400)
	if len(empty.Samples) != 0 {
		t.Errorf("Expected empty slice for inverted bounds, got %d samples", len(empty.Samples))
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	c := sine(16000, 220, 500, 10000)

	if err := WriteWAV(path, c); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}

	if got.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", got.SampleRate)
	}
	if len(got.Samples) != len(c.Samples) {
		t.Fatalf("Expected %d samples, got %d", len(c.Samples), len(got.Samples))
	}
	for i := 0; i < len(c.Samples); i += 97 {
		diff := int(got.Samples[i]) - int(c.Samples[i])
		if diff < -2 || diff > 2 {
			t.Fatalf("Sample %d drifted: expected %d, got %d", i, c.Samples[i], got.Samples[i])
		}
	}

	ms, err := WAVDurationMs(path)
	if err != nil {
		t.Fatalf("WAVDurationMs failed: %v", err)
	}
	if ms != 500 {
		t.Errorf("Expected 500ms, got %d", ms)
	}
}

func TestReadWAV_Missing(t *testing.T) {
	if _, err := ReadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
