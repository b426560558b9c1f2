package audio

import (
	"context"
	"path/filepath"
	"testing"
)

func TestWAVJoiner_DurationConservation(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	if err := WriteWAV(a, sine(16000, 200, 500, 8000)); err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(b, sine(16000, 300, 700, 8000)); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "joined.wav")
	parts := []Part{{Path: a, SilenceMs: 300}, {Path: b}}
	err := WAVJoiner{}.Join(context.Background(), parts, out, Encoding{Format: "wav", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	ms, err := WAVDurationMs(out)
	if err != nil {
		t.Fatalf("WAVDurationMs failed: %v", err)
	}
	if ms != 1500 {
		t.Errorf("Expected 1500ms (500 + 300 + 700), got %d", ms)
	}
}

func TestWAVJoiner_Errors(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "joined.wav")

	if err := (WAVJoiner{}).Join(context.Background(), nil, out, DefaultEncoding()); err == nil {
		t.Error("Expected error for empty parts")
	}

	parts := []Part{{Path: filepath.Join(dir, "missing.wav")}}
	if err := (WAVJoiner{}).Join(context.Background(), parts, out, DefaultEncoding()); err == nil {
		t.Error("Expected error for missing part")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := filepath.Join(dir, "a.wav")
	if err := WriteWAV(a, sine(16000, 200, 100, 8000)); err != nil {
		t.Fatal(err)
	}
	if err := (WAVJoiner{}).Join(ctx, []Part{{Path: a}}, out, DefaultEncoding()); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
