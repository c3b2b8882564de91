package pipeline

import (
	"testing"

	"scribed/internal/media"
)

func TestPlanSegmentsHardFallback(t *testing.T) {
	segments := planSegments(125_000, 60_000, 5_000, nil)

	wantStarts := []int64{0, 60_000, 120_000}
	wantDurations := []int64{60_000, 60_000, 5_000}
	if len(segments) != len(wantStarts) {
		t.Fatalf("expected %d segments, got %d", len(wantStarts), len(segments))
	}
	for i, seg := range segments {
		if seg.StartMS != wantStarts[i] || seg.DurationMS != wantDurations[i] {
			t.Errorf("segment %d = {start %d, duration %d}, want {start %d, duration %d}",
				i, seg.StartMS, seg.DurationMS, wantStarts[i], wantDurations[i])
		}
	}
	if segments[0].File != "segment_0000.wav" || segments[2].File != "segment_0002.wav" {
		t.Errorf("unexpected segment file names %q %q", segments[0].File, segments[2].File)
	}
}

func TestPlanSegmentsPrefersSilenceBoundary(t *testing.T) {
	silences := []media.SilenceRange{{StartMS: 57_500, EndMS: 58_500}}
	segments := planSegments(100_000, 60_000, 5_000, silences)

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].DurationMS != 58_000 {
		t.Fatalf("expected cut at silence midpoint 58000, got %d", segments[0].DurationMS)
	}
	if segments[1].StartMS != 58_000 || segments[1].DurationMS != 42_000 {
		t.Fatalf("unexpected second segment %+v", segments[1])
	}
}

func TestPlanSegmentsIgnoresSilenceOutsideWindow(t *testing.T) {
	silences := []media.SilenceRange{{StartMS: 10_000, EndMS: 11_000}}
	segments := planSegments(100_000, 60_000, 5_000, silences)

	if segments[0].DurationMS != 60_000 {
		t.Fatalf("silence outside the window must not move the cut, got %d", segments[0].DurationMS)
	}
}

func TestPlanSegmentsShortTrack(t *testing.T) {
	segments := planSegments(30_000, 60_000, 5_000, nil)
	if len(segments) != 1 || segments[0].StartMS != 0 || segments[0].DurationMS != 30_000 {
		t.Fatalf("unexpected segments %+v", segments)
	}
}

func TestPlanSegmentsZeroDuration(t *testing.T) {
	if segments := planSegments(0, 60_000, 5_000, nil); segments != nil {
		t.Fatalf("expected no segments, got %+v", segments)
	}
}
