package media_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"scribed/internal/media"
)

type fakeRunner struct {
	calls  [][]string
	result media.CommandResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	return f.result, f.err
}

func TestExtractMonoAudioArgs(t *testing.T) {
	runner := &fakeRunner{}
	tk := media.NewToolkit("ffmpeg", "ffprobe", media.WithRunner(runner))

	if err := tk.ExtractMonoAudio(context.Background(), "/in/talk.mkv", "/out/audio.wav"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(runner.calls))
	}
	joined := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"-ac 1", "-ar 16000", "pcm_s16le", "/in/talk.mkv", "/out/audio.wav", "-vn"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in args %q", want, joined)
		}
	}
}

func TestExtractSegmentFormatsTimes(t *testing.T) {
	runner := &fakeRunner{}
	tk := media.NewToolkit("", "", media.WithRunner(runner))

	if err := tk.ExtractSegment(context.Background(), "/a.wav", 60_000, 5_250, "/seg.wav"); err != nil {
		t.Fatalf("extract segment: %v", err)
	}
	joined := strings.Join(runner.calls[0], " ")
	if !strings.Contains(joined, "-ss 60.000") || !strings.Contains(joined, "-t 5.250") {
		t.Fatalf("unexpected time args %q", joined)
	}
}

func TestExtractSegmentRejectsNonPositiveDuration(t *testing.T) {
	tk := media.NewToolkit("", "", media.WithRunner(&fakeRunner{}))
	if err := tk.ExtractSegment(context.Background(), "/a.wav", 0, 0, "/seg.wav"); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestProbeDurationMS(t *testing.T) {
	runner := &fakeRunner{result: media.CommandResult{Stdout: "125.004\n"}}
	tk := media.NewToolkit("", "", media.WithRunner(runner))

	ms, err := tk.ProbeDurationMS(context.Background(), "/in/talk.mkv")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if ms != 125_004 {
		t.Fatalf("expected 125004ms, got %d", ms)
	}
}

func TestProbeDurationRejectsGarbage(t *testing.T) {
	runner := &fakeRunner{result: media.CommandResult{Stdout: "N/A"}}
	tk := media.NewToolkit("", "", media.WithRunner(runner))
	if _, err := tk.ProbeDurationMS(context.Background(), "/x"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDetectSilenceParsesRanges(t *testing.T) {
	stderr := strings.Join([]string{
		"[silencedetect @ 0x1] silence_start: 12.5",
		"[silencedetect @ 0x1] silence_end: 13.25 | silence_duration: 0.75",
		"[silencedetect @ 0x1] silence_start: 59.75",
		"[silencedetect @ 0x1] silence_end: 60.4 | silence_duration: 0.65",
		"unrelated output",
	}, "\n")
	runner := &fakeRunner{result: media.CommandResult{Stderr: stderr}}
	tk := media.NewToolkit("", "", media.WithRunner(runner))

	ranges, err := tk.DetectSilence(context.Background(), "/a.wav", -35, 300)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	want := []media.SilenceRange{
		{StartMS: 12_500, EndMS: 13_250},
		{StartMS: 59_750, EndMS: 60_400},
	}
	if len(ranges) != len(want) {
		t.Fatalf("expected %d ranges, got %d", len(want), len(ranges))
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestDetectSilenceIgnoresOrphanEnd(t *testing.T) {
	runner := &fakeRunner{result: media.CommandResult{Stderr: "silence_end: 3.0\n"}}
	tk := media.NewToolkit("", "", media.WithRunner(runner))
	ranges, err := tk.DetectSilence(context.Background(), "/a.wav", -30, 100)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(ranges) != 0 {
		t.Fatalf("expected no ranges, got %+v", ranges)
	}
}

func TestRunErrorSurfacesStderr(t *testing.T) {
	runner := &fakeRunner{result: media.CommandResult{Stderr: "boom", ExitCode: 1}, err: errors.New("exit status 1")}
	tk := media.NewToolkit("", "", media.WithRunner(runner))
	err := tk.ExtractMonoAudio(context.Background(), "/in", "/out")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
