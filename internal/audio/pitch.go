package audio

import (
	"math"
	"sort"
)

const (
	minPitchHz    = 60.0
	maxPitchHz    = 400.0
	pitchFrameMs  = 40
	voicingFactor = 0.3 // normalized autocorrelation peak needed to call a frame voiced
)

// Features summarises the acoustic character of a stretch of speech
type Features struct {
	PitchHz float64 // median fundamental frequency, 0 when unvoiced
	Energy  float64 // mean RMS normalised to [0, 1]
}

// Analyze estimates pitch and energy for a clip
func Analyze(c *Clip, vad *VADConfig) Features {
	if c == nil || len(c.Samples) == 0 {
		return Features{}
	}
	return Features{
		PitchHz: EstimatePitch(c, vad),
		Energy:  CalculateRMS(c.Samples) / 32768.0,
	}
}

// EstimatePitch returns the median autocorrelation pitch across voiced frames,
// or 0 when no frame is voiced.
func EstimatePitch(c *Clip, vad *VADConfig) float64 {
	if vad == nil {
		vad = DefaultVADConfig()
	}
	frame := c.SampleRate * pitchFrameMs / 1000
	minLag := int(float64(c.SampleRate) / maxPitchHz)
	maxLag := int(float64(c.SampleRate) / minPitchHz)
	if frame <= maxLag || minLag < 1 {
		return 0
	}

	detector := NewVADDetector(vad)
	var pitches []float64
	for start := 0; start+frame <= len(c.Samples); start += frame {
		window := c.Samples[start : start+frame]
		if speaking, _, _ := detector.ProcessFrame(window); !speaking {
			continue
		}
		if hz := framePitch(window, c.SampleRate, minLag, maxLag); hz > 0 {
			pitches = append(pitches, hz)
		}
	}

	if len(pitches) == 0 {
		return 0
	}
	sort.Float64s(pitches)
	mid := len(pitches) / 2
	if len(pitches)%2 == 0 {
		return (pitches[mid-1] + pitches[mid]) / 2
	}
	return pitches[mid]
}

func framePitch(window []int16, sampleRate, minLag, maxLag int) float64 {
	var energy float64
	for _, s := range window {
		energy += float64(s) * float64(s)
	}
	if energy == 0 {
		return 0
	}

	corrs := make([]float64, maxLag+2)
	best := 0.0
	first := minLag - 1
	if first < 1 {
		first = 1
	}
	for lag := first; lag <= maxLag+1 && lag < len(window); lag++ {
		var sum float64
		for i := 0; i+lag < len(window); i++ {
			sum += float64(window[i]) * float64(window[i+lag])
		}
		// Normalise by overlap length so longer lags are not penalised
		corrs[lag] = sum / energy * float64(len(window)) / float64(len(window)-lag)
		if lag >= minLag && lag <= maxLag && corrs[lag] > best {
			best = corrs[lag]
		}
	}
	if best < voicingFactor {
		return 0
	}

	// The first peak close to the best one is the fundamental; later peaks
	// are its multiples.
	bestLag := 0
	for lag := minLag; lag <= maxLag; lag++ {
		if corrs[lag] >= 0.9*best && corrs[lag] >= corrs[lag-1] && corrs[lag] >= corrs[lag+1] {
			bestLag = lag
			break
		}
	}
	if bestLag == 0 {
		return 0
	}
	return math.Round(float64(sampleRate)/float64(bestLag)*10) / 10
}
