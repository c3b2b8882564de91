package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribed/internal/engine"
	"scribed/internal/jobs"
	"scribed/internal/media"
	"scribed/internal/pipeline"
	"scribed/internal/srt"
)

type fakeMedia struct {
	durationMS int64
	silences   []media.SilenceRange
	probeErr   error
	extracted  []string
}

func (m *fakeMedia) ExtractMonoAudio(ctx context.Context, source, dest string) error {
	return os.WriteFile(dest, []byte("audio"), 0o644)
}

func (m *fakeMedia) ExtractSegment(ctx context.Context, source string, startMS, durationMS int64, dest string) error {
	m.extracted = append(m.extracted, filepath.Base(dest))
	return os.WriteFile(dest, []byte("segment"), 0o644)
}

func (m *fakeMedia) ProbeDurationMS(ctx context.Context, path string) (int64, error) {
	if m.probeErr != nil {
		return 0, m.probeErr
	}
	return m.durationMS, nil
}

func (m *fakeMedia) DetectSilence(ctx context.Context, path string, thresholdDB float64, minSilenceMS int) ([]media.SilenceRange, error) {
	return m.silences, nil
}

type fakeModels struct {
	getCalls   int
	alignCalls int
}

func (f *fakeModels) Get(ctx context.Context, spec engine.ModelSpec) (*engine.Model, error) {
	f.getCalls++
	return &engine.Model{Spec: spec}, nil
}

func (f *fakeModels) GetAlign(ctx context.Context, language, device string) (*engine.AlignModel, error) {
	f.alignCalls++
	return &engine.AlignModel{Language: language, Device: device}, nil
}

type fakeTranscriber struct {
	calls  []string
	err    error
	onCall func(n int)
}

func (f *fakeTranscriber) TranscribeAndAlign(ctx context.Context, model *engine.Model, align *engine.AlignModel, audioPath string, opts engine.TranscribeOptions) (engine.Result, error) {
	f.calls = append(f.calls, filepath.Base(audioPath))
	if f.onCall != nil {
		f.onCall(len(f.calls))
	}
	if f.err != nil {
		return engine.Result{}, f.err
	}
	return engine.Result{
		Segments: []engine.Segment{{Text: "hello", StartMS: 0, EndMS: 2_000}},
		Language: "en",
	}, nil
}

func openStore(t *testing.T) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRunner(t *testing.T, store *jobs.Store, m pipeline.Media, tr pipeline.Transcriber, models pipeline.ModelProvider) *pipeline.Runner {
	t.Helper()
	runner, err := pipeline.NewRunner(pipeline.Options{
		Store:              store,
		Models:             models,
		Transcriber:        tr,
		Media:              m,
		Weights:            pipeline.Weights{Extract: 10, Split: 10, Transcribe: 70, SRT: 10},
		SegmentMS:          60_000,
		SilenceWindowMS:    5_000,
		SilenceThresholdDB: -35,
		MinSilenceMS:       300,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func createJob(t *testing.T, store *jobs.Store, wordTimestamps bool) *jobs.Job {
	t.Helper()
	job, err := store.Create(context.Background(), "/media/talk.mkv", t.TempDir(), jobs.Settings{
		Model:          "large-v3",
		ComputeType:    "float16",
		Device:         "cuda",
		BatchSize:      4,
		WordTimestamps: wordTimestamps,
		Language:       "en",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestRunFinishesAndWritesSubtitles(t *testing.T) {
	store := openStore(t)
	job := createJob(t, store, true)
	m := &fakeMedia{durationMS: 125_000}
	tr := &fakeTranscriber{}
	models := &fakeModels{}
	runner := newRunner(t, store, m, tr, models)

	status := runner.Run(context.Background(), job, pipeline.NewToken())
	if status != jobs.StatusFinished {
		t.Fatalf("expected finished, got %s (%s)", status, job.ErrorMessage)
	}
	if len(tr.calls) != 3 {
		t.Fatalf("expected 3 transcriptions, got %v", tr.calls)
	}
	if models.alignCalls == 0 {
		t.Fatal("word timestamps must load the alignment model")
	}

	if pipeline.LoadCheckpoint(job.WorkDir) != nil {
		t.Fatal("checkpoint must be deleted after success")
	}
	data, err := os.ReadFile(filepath.Join(job.WorkDir, "talk.srt"))
	if err != nil {
		t.Fatalf("read subtitles: %v", err)
	}
	content := string(data)
	if srt.CountCues(content) != 3 {
		t.Fatalf("expected 3 cues, got:\n%s", content)
	}
	// Second segment's cue must be shifted by its 60s offset.
	if !strings.Contains(content, "00:01:00,000 --> 00:01:02,000") {
		t.Fatalf("expected shifted timestamps, got:\n%s", content)
	}

	stored, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != jobs.StatusFinished || stored.Phase != jobs.PhaseComplete {
		t.Fatalf("unexpected stored job %s/%s", stored.Status, stored.Phase)
	}
	if stored.ProgressPercent != 100 || stored.ProcessedSegments != 3 || stored.TotalSegments != 3 {
		t.Fatalf("unexpected progress %+v", stored)
	}
	if stored.DetectedLanguage != "en" {
		t.Fatalf("expected detected language en, got %q", stored.DetectedLanguage)
	}
	if stored.ResultPath == "" {
		t.Fatal("result path must be recorded")
	}
}

func TestRunResumesWithoutReprocessing(t *testing.T) {
	store := openStore(t)
	job := createJob(t, store, false)

	cp := &pipeline.Checkpoint{
		JobID:            job.ID,
		Phase:            string(jobs.PhaseTranscribe),
		TotalSegments:    2,
		ProcessedIndices: []int{0},
		Segments: []pipeline.SegmentRef{
			{File: "segment_0000.wav", StartMS: 0, DurationMS: 60_000},
			{File: "segment_0001.wav", StartMS: 60_000, DurationMS: 5_000},
		},
		Results:  []pipeline.SegmentResult{{StartMS: 100, EndMS: 2_000, Text: "already done"}},
		Language: "en",
	}
	if err := cp.Save(job.WorkDir); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	m := &fakeMedia{durationMS: 125_000}
	tr := &fakeTranscriber{}
	runner := newRunner(t, store, m, tr, &fakeModels{})

	status := runner.Run(context.Background(), job, pipeline.NewToken())
	if status != jobs.StatusFinished {
		t.Fatalf("expected finished, got %s (%s)", status, job.ErrorMessage)
	}
	if len(tr.calls) != 1 || tr.calls[0] != "segment_0001.wav" {
		t.Fatalf("processed segment must not be replayed, got %v", tr.calls)
	}

	data, err := os.ReadFile(filepath.Join(job.WorkDir, "talk.srt"))
	if err != nil {
		t.Fatalf("read subtitles: %v", err)
	}
	if !strings.Contains(string(data), "already done") {
		t.Fatal("results from the previous run must be kept")
	}
	if srt.CountCues(string(data)) != 2 {
		t.Fatalf("expected 2 cues, got:\n%s", string(data))
	}
}

func TestRunPausesBetweenSegments(t *testing.T) {
	store := openStore(t)
	job := createJob(t, store, false)
	token := pipeline.NewToken()

	m := &fakeMedia{durationMS: 125_000}
	tr := &fakeTranscriber{onCall: func(n int) {
		if n == 1 {
			token.RequestPause()
		}
	}}
	runner := newRunner(t, store, m, tr, &fakeModels{})

	status := runner.Run(context.Background(), job, token)
	if status != jobs.StatusPaused {
		t.Fatalf("expected paused, got %s", status)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("pause must stop at the next segment boundary, got %d calls", len(tr.calls))
	}

	cp := pipeline.LoadCheckpoint(job.WorkDir)
	if cp == nil {
		t.Fatal("checkpoint must survive a pause")
	}
	if len(cp.ProcessedIndices) != 1 || !cp.Processed(0) {
		t.Fatalf("unexpected processed set %v", cp.ProcessedIndices)
	}

	stored, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != jobs.StatusPaused {
		t.Fatalf("expected stored status paused, got %s", stored.Status)
	}
}

func TestRunCancelWinsOverPause(t *testing.T) {
	store := openStore(t)
	job := createJob(t, store, false)
	token := pipeline.NewToken()
	token.RequestPause()
	token.RequestCancel()

	m := &fakeMedia{durationMS: 125_000}
	tr := &fakeTranscriber{}
	runner := newRunner(t, store, m, tr, &fakeModels{})

	status := runner.Run(context.Background(), job, token)
	if status != jobs.StatusCanceled {
		t.Fatalf("expected canceled, got %s", status)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("cancel before the first segment must skip inference, got %v", tr.calls)
	}
}

func TestRunTranscribeFailureKeepsCheckpoint(t *testing.T) {
	store := openStore(t)
	job := createJob(t, store, false)

	m := &fakeMedia{durationMS: 125_000}
	tr := &fakeTranscriber{err: errors.New("engine crashed")}
	runner := newRunner(t, store, m, tr, &fakeModels{})

	status := runner.Run(context.Background(), job, pipeline.NewToken())
	if status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}
	if !strings.Contains(job.ErrorMessage, "engine crashed") {
		t.Fatalf("failure message must be captured, got %q", job.ErrorMessage)
	}
	cp := pipeline.LoadCheckpoint(job.WorkDir)
	if cp == nil {
		t.Fatal("checkpoint must be left as last saved on failure")
	}
	if len(cp.ProcessedIndices) != 0 {
		t.Fatalf("no segment finished, processed set must be empty: %v", cp.ProcessedIndices)
	}
}

func TestRunProbeFailureFailsJob(t *testing.T) {
	store := openStore(t)
	job := createJob(t, store, false)

	m := &fakeMedia{probeErr: errors.New("ffprobe missing")}
	runner := newRunner(t, store, m, &fakeTranscriber{}, &fakeModels{})

	if status := runner.Run(context.Background(), job, pipeline.NewToken()); status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}
	if !strings.Contains(job.ErrorMessage, "ffprobe missing") {
		t.Fatalf("unexpected error message %q", job.ErrorMessage)
	}
}

func TestRunSkipsExtractWhenAudioExists(t *testing.T) {
	store := openStore(t)
	job := createJob(t, store, false)
	if err := os.WriteFile(filepath.Join(job.WorkDir, "audio.wav"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	m := &fakeMedia{durationMS: 30_000}
	tr := &fakeTranscriber{}
	runner := newRunner(t, store, m, tr, &fakeModels{})

	if status := runner.Run(context.Background(), job, pipeline.NewToken()); status != jobs.StatusFinished {
		t.Fatalf("expected finished, got %s (%s)", status, job.ErrorMessage)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("30s track should yield one segment, got %v", tr.calls)
	}
}
