package pipeline

import (
	"github.com/lexiqai/audio-translator/internal/capability"
)

func overlapMs(aStart, aEnd, bStart, bEnd int) int {
	start, end := max(aStart, bStart), min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// overlaySpeakers assigns each segment the speaker with the largest temporal
// overlap, or the speaker whose span center is nearest when none overlaps.
// Segments keep their own speaker id when no speakers are known.
func overlaySpeakers(segments []capability.Segment, speakers []capability.DetectedSpeaker) []capability.Segment {
	if len(speakers) == 0 {
		return segments
	}
	out := make([]capability.Segment, len(segments))
	for i, seg := range segments {
		out[i] = seg
		out[i].SpeakerID = speakerForSegment(seg, speakers)
	}
	return out
}

func speakerForSegment(seg capability.Segment, speakers []capability.DetectedSpeaker) string {
	bestID, bestOverlap := "", 0
	for _, sp := range speakers {
		total := 0
		for _, span := range sp.Spans {
			total += overlapMs(seg.StartMs, seg.EndMs, span.StartMs, span.EndMs)
		}
		if total > bestOverlap {
			bestID, bestOverlap = sp.ID, total
		}
	}
	if bestID != "" {
		return bestID
	}
	return nearestSpeaker(seg.CenterMs(), speakers)
}

func nearestSpeaker(ms int, speakers []capability.DetectedSpeaker) string {
	bestID, bestDist := "", -1
	for _, sp := range speakers {
		for _, span := range sp.Spans {
			d := absInt(ms - (span.StartMs+span.EndMs)/2)
			if bestDist < 0 || d < bestDist {
				bestID, bestDist = sp.ID, d
			}
		}
	}
	return bestID
}

// speakerContaining returns the speaker whose span contains ms
func speakerContaining(ms int, speakers []capability.DetectedSpeaker) (string, bool) {
	for _, sp := range speakers {
		for _, span := range sp.Spans {
			if ms >= span.StartMs && ms <= span.EndMs {
				return sp.ID, true
			}
		}
	}
	return "", false
}

// speakersFromSegments derives speaker spans from provider-tagged segments
func speakersFromSegments(segments []capability.Segment) []capability.DetectedSpeaker {
	index := make(map[string]int)
	var out []capability.DetectedSpeaker
	for _, seg := range segments {
		if seg.SpeakerID == "" {
			continue
		}
		i, ok := index[seg.SpeakerID]
		if !ok {
			i = len(out)
			index[seg.SpeakerID] = i
			out = append(out, capability.DetectedSpeaker{ID: seg.SpeakerID})
		}
		out[i].Spans = append(out[i].Spans, capability.Span{StartMs: seg.StartMs, EndMs: seg.EndMs})
	}
	return out
}

// primarySpeaker returns the id with the most speaking time, ties by id
func primarySpeaker(speakers []capability.DetectedSpeaker) string {
	bestID, best := "", -1
	for _, sp := range speakers {
		t := sp.SpeakingMs()
		if t > best || (t == best && sp.ID < bestID) {
			bestID, best = sp.ID, t
		}
	}
	return bestID
}
