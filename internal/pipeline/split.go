package pipeline

import (
	"fmt"

	"scribed/internal/media"
)

// planSegments splits a track of durationMS into chunks of at most
// segmentMS. Near each target cut it looks for a silence boundary inside the
// trailing window [cut-windowMS, cut] so chunks break between utterances;
// with no usable silence the hard boundary stands.
func planSegments(durationMS, segmentMS, windowMS int64, silences []media.SilenceRange) []SegmentRef {
	if durationMS <= 0 {
		return nil
	}
	if segmentMS <= 0 || segmentMS >= durationMS {
		return []SegmentRef{{StartMS: 0, DurationMS: durationMS}}
	}

	var segments []SegmentRef
	start := int64(0)
	for start < durationMS {
		target := start + segmentMS
		if target >= durationMS {
			segments = append(segments, SegmentRef{StartMS: start, DurationMS: durationMS - start})
			break
		}
		cut := silenceCut(target, windowMS, start, silences)
		segments = append(segments, SegmentRef{StartMS: start, DurationMS: cut - start})
		start = cut
	}
	for i := range segments {
		segments[i].File = segmentFileName(i)
	}
	return segments
}

// silenceCut picks the cut point for a target boundary: the midpoint of the
// latest silence range intersecting the trailing window, clamped to the
// window. Falls back to the hard target.
func silenceCut(target, windowMS, floor int64, silences []media.SilenceRange) int64 {
	windowStart := target - windowMS
	if windowStart < floor {
		windowStart = floor
	}
	best := int64(-1)
	for _, s := range silences {
		if s.EndMS <= windowStart || s.StartMS >= target {
			continue
		}
		mid := (s.StartMS + s.EndMS) / 2
		if mid < windowStart {
			mid = windowStart
		}
		if mid > target {
			mid = target
		}
		if mid > best {
			best = mid
		}
	}
	if best <= floor {
		return target
	}
	return best
}

func segmentFileName(index int) string {
	return fmt.Sprintf("segment_%04d.wav", index)
}
