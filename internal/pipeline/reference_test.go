package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
)

func TestVoiceReferenceExtractor_PrefersCleanSpeech(t *testing.T) {
	dir := t.TempDir()
	clip := toneClip(150, 10000)
	e := NewVoiceReferenceExtractor(DefaultOptions())

	segments := []capability.Segment{
		seg("a", 0, 3000, "s0"),
		seg("b", 3500, 6000, "s0"),
		seg("c", 5800, 9500, "s0"), // overlaps s1
		seg("d", 6000, 9000, "s1"),
		seg("e", 9600, 9700, "s0"), // too short
	}
	others := []capability.Span{{StartMs: 6000, EndMs: 9000}}

	path, ok := e.Extract("s0", clip, "source.wav", segments, others, dir)
	require.True(t, ok)
	assert.NotEqual(t, "source.wav", path)
	assert.Contains(t, path, "ref_s0_")

	ms, err := audio.WAVDurationMs(path)
	require.NoError(t, err)
	assert.InDelta(t, 3000+2500+50, ms, 2)
}

func TestVoiceReferenceExtractor_FallsBackToOverlappingSpeech(t *testing.T) {
	clip := toneClip(150, 6000)
	e := NewVoiceReferenceExtractor(DefaultOptions())

	segments := []capability.Segment{seg("a", 0, 3000, "s0")}
	others := []capability.Span{{StartMs: 2500, EndMs: 4000}}

	_, ok := e.Extract("s0", clip, "source.wav", segments, others, t.TempDir())
	assert.True(t, ok)
}

func TestVoiceReferenceExtractor_InsufficientSpeech(t *testing.T) {
	clip := toneClip(150, 3000)
	e := NewVoiceReferenceExtractor(DefaultOptions())

	path, ok := e.Extract("s0", clip, "source.wav", []capability.Segment{seg("a", 0, 1000, "s0")}, nil, t.TempDir())
	assert.False(t, ok)
	assert.Equal(t, "source.wav", path)

	path, ok = e.Extract("s0", nil, "source.wav", nil, nil, t.TempDir())
	assert.False(t, ok)
	assert.Equal(t, "source.wav", path)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "speaker", safeName(""))
	assert.Equal(t, "SPEAKER_01", safeName("SPEAKER_01"))
	assert.Equal(t, "a_b_c", safeName("a/b c"))
}
