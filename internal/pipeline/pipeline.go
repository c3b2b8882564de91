// Package pipeline runs one job through the extract, split, transcribe, and
// srt phases, persisting a checkpoint that makes the job resumable at
// segment granularity.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"scribed/internal/engine"
	"scribed/internal/jobs"
	"scribed/internal/logging"
	"scribed/internal/media"
	"scribed/internal/srt"
	"scribed/internal/subtitlelang"
)

const audioFileName = "audio.wav"

// Media is the codec collaborator surface the pipeline needs.
type Media interface {
	ExtractMonoAudio(ctx context.Context, source, dest string) error
	ExtractSegment(ctx context.Context, source string, startMS, durationMS int64, dest string) error
	ProbeDurationMS(ctx context.Context, path string) (int64, error)
	DetectSilence(ctx context.Context, path string, thresholdDB float64, minSilenceMS int) ([]media.SilenceRange, error)
}

// ModelProvider hands out cached model handles.
type ModelProvider interface {
	Get(ctx context.Context, spec engine.ModelSpec) (*engine.Model, error)
	GetAlign(ctx context.Context, language, device string) (*engine.AlignModel, error)
}

// Transcriber runs inference on one audio file.
type Transcriber interface {
	TranscribeAndAlign(ctx context.Context, model *engine.Model, align *engine.AlignModel, audioPath string, opts engine.TranscribeOptions) (engine.Result, error)
}

// Weights assigns each phase its share of overall progress. They must sum
// to 100; config validation enforces that.
type Weights struct {
	Extract    int
	Split      int
	Transcribe int
	SRT        int
}

// Options configure a Runner.
type Options struct {
	Store       *jobs.Store
	Models      ModelProvider
	Transcriber Transcriber
	Media       Media
	Logger      *slog.Logger

	Weights            Weights
	SegmentMS          int64
	SilenceWindowMS    int64
	SilenceThresholdDB float64
	MinSilenceMS       int
}

// Runner executes jobs. One Runner is shared by the worker loop; it runs one
// job at a time.
type Runner struct {
	store       *jobs.Store
	models      ModelProvider
	transcriber Transcriber
	media       Media
	logger      *slog.Logger

	weights            Weights
	segmentMS          int64
	silenceWindowMS    int64
	silenceThresholdDB float64
	minSilenceMS       int
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: store required")
	}
	if opts.Models == nil || opts.Transcriber == nil || opts.Media == nil {
		return nil, fmt.Errorf("pipeline: models, transcriber, and media required")
	}
	if opts.SegmentMS <= 0 {
		return nil, fmt.Errorf("pipeline: segment length required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		store:              opts.Store,
		models:             opts.Models,
		transcriber:        opts.Transcriber,
		media:              opts.Media,
		logger:             logging.NewComponentLogger(logger, "pipeline"),
		weights:            opts.Weights,
		segmentMS:          opts.SegmentMS,
		silenceWindowMS:    opts.SilenceWindowMS,
		silenceThresholdDB: opts.SilenceThresholdDB,
		minSilenceMS:       opts.MinSilenceMS,
	}, nil
}

// Run executes job to a terminal or suspended outcome and returns the final
// status. The job record is updated in the store as phases progress; the
// caller owns queue bookkeeping and notification.
func (r *Runner) Run(ctx context.Context, job *jobs.Job, token *Token) jobs.Status {
	logger := r.logger.With(logging.String(logging.FieldJobID, job.ID))

	cp := LoadCheckpoint(job.WorkDir)
	if cp == nil {
		cp = &Checkpoint{JobID: job.ID, Phase: string(jobs.PhasePending)}
	} else {
		logger.Info("resuming from checkpoint",
			logging.String("phase", cp.Phase),
			logging.Int("processed", len(cp.ProcessedIndices)),
			logging.Int("total", cp.TotalSegments))
	}
	if cp.Language != "" {
		job.DetectedLanguage = cp.Language
	}

	// extract
	audioPath := filepath.Join(job.WorkDir, audioFileName)
	if _, err := os.Stat(audioPath); err != nil {
		r.setProgress(ctx, job, jobs.PhaseExtract, "extracting audio", 0)
		if err := r.media.ExtractMonoAudio(ctx, job.SourceFile, audioPath); err != nil {
			return r.fail(ctx, logger, job, fmt.Sprintf("extract audio: %v", err))
		}
	}
	base := float64(r.weights.Extract)

	// split
	if len(cp.Segments) == 0 {
		r.setProgress(ctx, job, jobs.PhaseSplit, "splitting audio", base)
		durationMS, err := r.media.ProbeDurationMS(ctx, audioPath)
		if err != nil {
			return r.fail(ctx, logger, job, fmt.Sprintf("probe audio: %v", err))
		}
		silences, err := r.media.DetectSilence(ctx, audioPath, r.silenceThresholdDB, r.minSilenceMS)
		if err != nil {
			return r.fail(ctx, logger, job, fmt.Sprintf("detect silence: %v", err))
		}
		cp.Phase = string(jobs.PhaseSplit)
		cp.Segments = planSegments(durationMS, r.segmentMS, r.silenceWindowMS, silences)
		cp.TotalSegments = len(cp.Segments)
		cp.ProcessedIndices = nil
		cp.Results = nil
		if err := cp.Save(job.WorkDir); err != nil {
			return r.fail(ctx, logger, job, err.Error())
		}
		logger.Info("audio split", logging.Int("segments", cp.TotalSegments))
	}
	base += float64(r.weights.Split)
	job.TotalSegments = cp.TotalSegments
	job.ProcessedSegments = len(cp.ProcessedIndices)
	r.setProgress(ctx, job, jobs.PhaseSplit, "audio split", base)

	// transcribe
	spec := engine.ModelSpec{
		Name:        job.Settings.Model,
		ComputeType: job.Settings.ComputeType,
		Device:      job.Settings.Device,
	}
	for i, seg := range cp.Segments {
		if status, stop := r.checkToken(ctx, job, token); stop {
			return status
		}
		if cp.Processed(i) {
			continue
		}

		segPath := filepath.Join(job.WorkDir, seg.File)
		if _, err := os.Stat(segPath); err != nil {
			if err := r.media.ExtractSegment(ctx, audioPath, seg.StartMS, seg.DurationMS, segPath); err != nil {
				return r.fail(ctx, logger, job, fmt.Sprintf("extract segment %d: %v", i, err))
			}
		}

		model, err := r.models.Get(ctx, spec)
		if err != nil {
			return r.fail(ctx, logger, job, fmt.Sprintf("load model: %v", err))
		}
		lang := subtitlelang.Normalize(job.Settings.Language)
		if lang == "" {
			lang = cp.Language
		}
		var align *engine.AlignModel
		if job.Settings.WordTimestamps && lang != "" {
			align, err = r.models.GetAlign(ctx, lang, job.Settings.Device)
			if err != nil {
				return r.fail(ctx, logger, job, fmt.Sprintf("load align model: %v", err))
			}
		}

		result, err := r.transcriber.TranscribeAndAlign(ctx, model, align, segPath, engine.TranscribeOptions{
			BatchSize:      job.Settings.BatchSize,
			Language:       lang,
			WordTimestamps: job.Settings.WordTimestamps,
		})
		if err != nil {
			return r.fail(ctx, logger, job, fmt.Sprintf("transcribe segment %d: %v", i, err))
		}
		if cp.Language == "" && result.Language != "" {
			cp.Language = result.Language
			job.DetectedLanguage = result.Language
		}

		appendResults(cp, result, seg.StartMS)
		cp.MarkProcessed(i)
		cp.Phase = string(jobs.PhaseTranscribe)
		if err := cp.Save(job.WorkDir); err != nil {
			return r.fail(ctx, logger, job, err.Error())
		}

		job.ProcessedSegments = len(cp.ProcessedIndices)
		ratio := float64(job.ProcessedSegments) / float64(cp.TotalSegments)
		r.setProgress(ctx, job, jobs.PhaseTranscribe,
			fmt.Sprintf("transcribed %d/%d segments", job.ProcessedSegments, cp.TotalSegments),
			base+float64(r.weights.Transcribe)*ratio)
	}
	if status, stop := r.checkToken(ctx, job, token); stop {
		return status
	}
	base += float64(r.weights.Transcribe)

	// srt
	r.setProgress(ctx, job, jobs.PhaseSRT, "writing subtitles", base)
	resultPath := filepath.Join(job.WorkDir, subtitleFileName(job.SourceFile))
	if err := srt.WriteFile(resultPath, cues(cp.Results)); err != nil {
		return r.fail(ctx, logger, job, fmt.Sprintf("write subtitles: %v", err))
	}
	if err := DeleteCheckpoint(job.WorkDir); err != nil {
		logger.Warn("checkpoint cleanup failed", logging.Error(err))
	}

	job.ResultPath = resultPath
	job.Status = jobs.StatusFinished
	job.SetProgress(jobs.PhaseComplete, "subtitles ready", 100)
	r.update(ctx, job)
	logger.Info("job finished", logging.String("result", resultPath))
	return jobs.StatusFinished
}

// checkToken polls the cooperative flags between segments. Cancel wins over
// pause.
func (r *Runner) checkToken(ctx context.Context, job *jobs.Job, token *Token) (jobs.Status, bool) {
	if token == nil {
		return "", false
	}
	if token.Canceled() {
		job.Status = jobs.StatusCanceled
		job.Message = "canceled"
		r.update(ctx, job)
		return jobs.StatusCanceled, true
	}
	if token.Paused() {
		job.Status = jobs.StatusPaused
		job.Message = "paused"
		r.update(ctx, job)
		return jobs.StatusPaused, true
	}
	return "", false
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, job *jobs.Job, message string) jobs.Status {
	job.SetFailed(message)
	r.update(ctx, job)
	logger.Error("job failed", logging.String("error", message))
	return jobs.StatusFailed
}

func (r *Runner) setProgress(ctx context.Context, job *jobs.Job, phase jobs.Phase, message string, percent float64) {
	job.Status = jobs.StatusProcessing
	job.SetProgress(phase, message, percent)
	r.update(ctx, job)
}

func (r *Runner) update(ctx context.Context, job *jobs.Job) {
	if err := r.store.Update(ctx, job); err != nil {
		r.logger.Warn("job update failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
}

// appendResults shifts engine output by the segment offset and accumulates
// it on the checkpoint in absolute job time.
func appendResults(cp *Checkpoint, result engine.Result, offsetMS int64) {
	for _, seg := range result.Segments {
		out := SegmentResult{
			StartMS: seg.StartMS + offsetMS,
			EndMS:   seg.EndMS + offsetMS,
			Text:    seg.Text,
		}
		for _, word := range seg.Words {
			out.Words = append(out.Words, WordResult{
				Text:    word.Text,
				StartMS: word.StartMS + offsetMS,
				EndMS:   word.EndMS + offsetMS,
			})
		}
		cp.Results = append(cp.Results, out)
	}
}

func cues(results []SegmentResult) []srt.Cue {
	out := make([]srt.Cue, 0, len(results))
	for _, res := range results {
		out = append(out, srt.Cue{StartMS: res.StartMS, EndMS: res.EndMS, Text: res.Text})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMS < out[j].StartMS })
	return out
}

func subtitleFileName(sourceFile string) string {
	base := filepath.Base(sourceFile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "subtitles"
	}
	return base + ".srt"
}
