package audio

import (
	"math"
)

// ApplyGainDB scales samples by gain decibels, saturating at the int16 range
func ApplyGainDB(samples []int16, gainDB float64) []int16 {
	factor := math.Pow(10, gainDB/20)
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clamp16(float64(s) * factor)
	}
	return out
}

// PeakDBFS returns the peak level in dBFS, or -Inf for digital silence
func PeakDBFS(samples []int16) float64 {
	peak := peakAbs(samples)
	if peak == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(peak)/32768.0)
}

// PeakNormalize scales samples so their peak sits at targetDBFS.
// Silent input is returned unchanged.
func PeakNormalize(samples []int16, targetDBFS float64) []int16 {
	current := PeakDBFS(samples)
	if math.IsInf(current, -1) {
		return samples
	}
	return ApplyGainDB(samples, targetDBFS-current)
}

// Silence returns durationMs of digital silence at sampleRate
func Silence(sampleRate, durationMs int) []int16 {
	if durationMs <= 0 {
		return nil
	}
	return make([]int16, sampleRate*durationMs/1000)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

func peakAbs(samples []int16) int32 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
