package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Number of consecutive silence frames to mark as end of speech
	FrameMs         int     // Frame length in milliseconds
	MinSpeechFrames int     // Speech frames needed before a slice counts as containing speech
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms of silence
		FrameMs:         20,
		MinSpeechFrames: 3,
	}
}

// FrameSize returns the number of samples per frame at sampleRate
func (c *VADConfig) FrameSize(sampleRate int) int {
	n := sampleRate * c.FrameMs / 1000
	if n < 1 {
		return 1
	}
	return n
}

// VADDetector performs Voice Activity Detection over consecutive frames
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// SpeechFrames counts frames of the clip whose energy exceeds the threshold
func SpeechFrames(c *Clip, config *VADConfig) (speech, total int) {
	if config == nil {
		config = DefaultVADConfig()
	}
	size := config.FrameSize(c.SampleRate)
	for i := 0; i+size <= len(c.Samples); i += size {
		total++
		if CalculateRMS(c.Samples[i:i+size]) > config.EnergyThreshold {
			speech++
		}
	}
	return speech, total
}

// ContainsSpeech reports whether the clip has enough voiced frames to be
// worth transcribing
func ContainsSpeech(c *Clip, config *VADConfig) bool {
	if config == nil {
		config = DefaultVADConfig()
	}
	speech, _ := SpeechFrames(c, config)
	min := config.MinSpeechFrames
	if min < 1 {
		min = 1
	}
	return speech >= min
}
