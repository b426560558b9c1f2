package pipeline

import (
	"math"
	"sort"
	"strings"

	"github.com/lexiqai/audio-translator/internal/audio"
	"github.com/lexiqai/audio-translator/internal/capability"
)

const (
	pitchWeight  = 0.7
	energyWeight = 0.3
)

// VoiceSimilarity scores two acoustic summaries in [0, 1]. Pitch differences
// inside toleranceHz barely lower the score; unknown pitch scores zero.
func VoiceSimilarity(a, b capability.AcousticSummary, toleranceHz float64) float64 {
	return pitchWeight*pitchCloseness(a.PitchHz, b.PitchHz, toleranceHz) +
		energyWeight*energyCloseness(a.Energy, b.Energy)
}

func pitchCloseness(a, b, toleranceHz float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	diff := math.Abs(a - b)
	if toleranceHz > 0 && diff <= toleranceHz {
		return 1 - 0.05*diff/toleranceHz
	}
	return math.Max(0, 1-diff/math.Max(a, b))
}

func energyCloseness(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0.5
	}
	return math.Max(0, 1-math.Abs(a-b)/math.Max(a, b))
}

// SpeakerPlan is the merged speaker view of a transcript
type SpeakerPlan struct {
	Profiles  []*SpeakerProfile
	Resolved  map[string]string // original id -> representative id
	Turns     []Turn
	Segments  []capability.Segment // segments relabelled with representative ids
	PrimaryID string
}

// Speakers returns the distinct representative ids in order of first appearance
func (p *SpeakerPlan) Speakers() []string {
	return distinctSpeakers(p.Turns)
}

// SpeakerTurnBuilder merges similar speakers and groups segments into turns
type SpeakerTurnBuilder struct {
	threshold   float64
	toleranceHz float64
	vad         *audio.VADConfig
}

// NewSpeakerTurnBuilder creates a builder
func NewSpeakerTurnBuilder(opts Options) *SpeakerTurnBuilder {
	return &SpeakerTurnBuilder{threshold: opts.MergeThreshold, toleranceHz: opts.PitchToleranceHz, vad: opts.VAD}
}

// Build profiles every detected speaker, merges similar ones and builds turns
func (b *SpeakerTurnBuilder) Build(t *Transcript, clip *audio.Clip) *SpeakerPlan {
	plan := &SpeakerPlan{Resolved: map[string]string{}}

	if t.Speakers != nil {
		plan.Profiles = b.Profiles(t.Speakers.Speakers, clip)
		plan.Resolved = b.Merge(plan.Profiles)
	}

	plan.Segments = make([]capability.Segment, len(t.Segments))
	for i, seg := range t.Segments {
		if id, ok := plan.Resolved[seg.SpeakerID]; ok {
			seg.SpeakerID = id
		}
		plan.Segments[i] = seg
	}
	plan.Turns = BuildTurns(plan.Segments)

	if t.Speakers != nil {
		plan.PrimaryID = resolve(plan.Resolved, t.Speakers.PrimarySpeakerID)
	}
	if plan.PrimaryID == "" && len(plan.Turns) > 0 {
		plan.PrimaryID = mostSpeakingTurnSpeaker(plan.Turns)
	}
	return plan
}

// Profiles builds a profile per speaker, estimating missing acoustics from clip
func (b *SpeakerTurnBuilder) Profiles(speakers []capability.DetectedSpeaker, clip *audio.Clip) []*SpeakerProfile {
	profiles := make([]*SpeakerProfile, 0, len(speakers))
	for _, sp := range speakers {
		p := &SpeakerProfile{SpeakerID: sp.ID, Acoustic: sp.Acoustic, SpeakingMs: sp.SpeakingMs()}
		if clip != nil && (p.Acoustic.PitchHz <= 0 || p.Acoustic.Energy <= 0) {
			features := audio.Analyze(speakerClip(clip, sp.Spans), b.vad)
			if p.Acoustic.PitchHz <= 0 {
				p.Acoustic.PitchHz = features.PitchHz
			}
			if p.Acoustic.Energy <= 0 {
				p.Acoustic.Energy = features.Energy
			}
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// Merge resolves every profile to a representative id. Speakers are ranked
// by speaking time (ties by id); pairs are compared in rank order and a
// merged set is always represented by its highest-ranked member.
func (b *SpeakerTurnBuilder) Merge(profiles []*SpeakerProfile) map[string]string {
	ranked := append([]*SpeakerProfile(nil), profiles...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].SpeakingMs != ranked[j].SpeakingMs {
			return ranked[i].SpeakingMs > ranked[j].SpeakingMs
		}
		return ranked[i].SpeakerID < ranked[j].SpeakerID
	})

	parent := make([]int, len(ranked))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if VoiceSimilarity(ranked[i].Acoustic, ranked[j].Acoustic, b.toleranceHz) < b.threshold {
				continue
			}
			ri, rj := find(i), find(j)
			if ri == rj {
				continue
			}
			// lower rank index wins
			if rj < ri {
				ri, rj = rj, ri
			}
			parent[rj] = ri
		}
	}

	resolved := make(map[string]string, len(ranked))
	for i, p := range ranked {
		target := ranked[find(i)].SpeakerID
		resolved[p.SpeakerID] = target
		if target != p.SpeakerID {
			p.MergeTargetID = target
		} else {
			p.MergeTargetID = ""
		}
	}
	return resolved
}

func resolve(resolved map[string]string, id string) string {
	if target, ok := resolved[id]; ok {
		return target
	}
	return id
}

// BuildTurns groups consecutive segments with the same speaker id. Segments
// without text are skipped but keep their positions.
func BuildTurns(segments []capability.Segment) []Turn {
	var turns []Turn
	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if n := len(turns); n == 0 || turns[n-1].SpeakerID != seg.SpeakerID {
			turns = append(turns, Turn{SpeakerID: seg.SpeakerID, StartPos: i})
		}
		cur := &turns[len(turns)-1]
		cur.Segments = append(cur.Segments, seg)
		if cur.Text == "" {
			cur.Text = text
		} else {
			cur.Text += " " + text
		}
		cur.EndPos = i + 1
	}
	return turns
}

func distinctSpeakers(turns []Turn) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range turns {
		if !seen[t.SpeakerID] {
			seen[t.SpeakerID] = true
			ids = append(ids, t.SpeakerID)
		}
	}
	return ids
}

func mostSpeakingTurnSpeaker(turns []Turn) string {
	totals := make(map[string]int)
	for _, t := range turns {
		totals[t.SpeakerID] += t.EndMs() - t.StartMs()
	}
	bestID, best := "", -1
	for _, id := range distinctSpeakers(turns) {
		if totals[id] > best {
			bestID, best = id, totals[id]
		}
	}
	return bestID
}

// speakerClip concatenates the speaker's spans
func speakerClip(clip *audio.Clip, spans []capability.Span) *audio.Clip {
	out := &audio.Clip{SampleRate: clip.SampleRate}
	for _, sp := range spans {
		out.Samples = append(out.Samples, clip.Slice(sp.StartMs, sp.EndMs).Samples...)
	}
	return out
}
