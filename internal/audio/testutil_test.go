package audio

import "math"

// sine builds a mono clip of a pure tone
func sine(sampleRate int, hz float64, durationMs int, amplitude float64) *Clip {
	n := sampleRate * durationMs / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate)))
	}
	return &Clip{SampleRate: sampleRate, Samples: samples}
}
