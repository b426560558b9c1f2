package audio

import (
	"math"
	"testing"
)

func TestEstimatePitch(t *testing.T) {
	tests := []struct {
		hz         float64
		sampleRate int
	}{
		{120, 16000},
		{200, 16000},
		{310, 16000},
		{150, 8000},
	}

	for _, tt := range tests {
		c := sine(tt.sampleRate, tt.hz, 1000, 8000)
		got := EstimatePitch(c, nil)
		if math.Abs(got-tt.hz) > tt.hz*0.03 {
			t.Errorf("Expected pitch ~%.0f Hz at %d Hz, got %.1f", tt.hz, tt.sampleRate, got)
		}
	}
}

func TestEstimatePitch_Silence(t *testing.T) {
	c := &Clip{SampleRate: 16000, Samples: make([]int16, 16000)}
	if got := EstimatePitch(c, nil); got != 0 {
		t.Errorf("Expected 0 for silence, got %.1f", got)
	}
}

func TestAnalyze(t *testing.T) {
	loud := Analyze(sine(16000, 180, 500, 16000), nil)
	quiet := Analyze(sine(16000, 180, 500, 4000), nil)

	if loud.Energy <= quiet.Energy {
		t.Errorf("Expected louder clip to have more energy, got %.3f <= %.3f", loud.Energy, quiet.Energy)
	}
	if loud.Energy <= 0 || loud.Energy > 1 {
		t.Errorf("Expected energy in (0, 1], got %.3f", loud.Energy)
	}

	if got := Analyze(nil, nil); got.PitchHz != 0 || got.Energy != 0 {
		t.Errorf("Expected zero features for nil clip, got %+v", got)
	}
}
