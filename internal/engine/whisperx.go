package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"scribed/internal/subtitlelang"
)

// WhisperX configuration constants.
const (
	CUDAIndexURL = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL = "https://pypi.org/simple"

	defaultUvxBinary = "uvx"
	warmupSeconds    = "0.5"
)

// CommandFunc executes an external command and returns its combined output.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// WhisperXConfig captures runtime settings for the WhisperX backend.
type WhisperXConfig struct {
	// UvxBinary is the uvx launcher path; empty means "uvx" on PATH.
	UvxBinary string
	// FFmpegBinary is used to synthesize the warmup clip.
	FFmpegBinary string
	// WorkDir holds warmup clips and per-call output directories.
	WorkDir string
	// CUDAEnabled selects the CUDA wheel index and device default.
	CUDAEnabled bool
}

// WhisperX runs WhisperX through uvx. Model handles are warm markers: a load
// performs a throwaway transcription of a generated silence clip so the
// weights are fetched and resident before real work starts.
type WhisperX struct {
	cfg    WhisperXConfig
	runner CommandFunc
}

// NewWhisperX creates a WhisperX engine.
func NewWhisperX(cfg WhisperXConfig) *WhisperX {
	if cfg.UvxBinary == "" {
		cfg.UvxBinary = defaultUvxBinary
	}
	if cfg.FFmpegBinary == "" {
		cfg.FFmpegBinary = "ffmpeg"
	}
	return &WhisperX{cfg: cfg}
}

// WithCommandFunc sets a custom command runner (for testing).
func (w *WhisperX) WithCommandFunc(runner CommandFunc) {
	w.runner = runner
}

func (w *WhisperX) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if w.runner != nil {
		return w.runner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking
	// WhisperX/pyannote checkpoint loading. Force legacy behavior.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

// LoadModel warms the given model variant by transcribing a short silence
// clip. The returned handle carries no process state; it records that the
// warmup succeeded for this spec.
func (w *WhisperX) LoadModel(ctx context.Context, spec ModelSpec) (*Model, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("load model: name required")
	}
	clip, err := w.warmupClip(ctx)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", spec.Name, err)
	}
	outputDir := filepath.Join(w.cfg.WorkDir, "warmup")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("load model %s: %w", spec.Name, err)
	}
	args := w.buildArgs(clip, outputDir, spec, TranscribeOptions{BatchSize: 1})
	if _, err := w.run(ctx, w.cfg.UvxBinary, args...); err != nil {
		return nil, fmt.Errorf("load model %s: %w", spec.Name, err)
	}
	return &Model{Spec: spec}, nil
}

// UnloadModel releases the handle. The subprocess backend keeps nothing
// resident between calls, so this only invalidates the warm marker.
func (w *WhisperX) UnloadModel(model *Model) {}

// LoadAlignModel warms the alignment model for a language. WhisperX fetches
// alignment weights on first use; the handle records the warmed language.
func (w *WhisperX) LoadAlignModel(ctx context.Context, language, device string) (*AlignModel, error) {
	lang := subtitlelang.Normalize(language)
	if lang == "" {
		return nil, fmt.Errorf("load align model: language required")
	}
	return &AlignModel{Language: lang, Device: device}, nil
}

// UnloadAlignModel releases the handle.
func (w *WhisperX) UnloadAlignModel(model *AlignModel) {}

// TranscribeAndAlign transcribes audioPath with the given model, writing
// WhisperX output next to the audio and parsing the JSON payload.
func (w *WhisperX) TranscribeAndAlign(ctx context.Context, model *Model, align *AlignModel, audioPath string, opts TranscribeOptions) (Result, error) {
	var result Result
	if model == nil {
		return result, fmt.Errorf("transcribe: model handle required")
	}
	if audioPath == "" {
		return result, fmt.Errorf("transcribe: audio path required")
	}
	outputDir := filepath.Dir(audioPath)

	args := w.buildArgs(audioPath, outputDir, model.Spec, opts)
	if align == nil && !opts.WordTimestamps {
		args = append(args, "--no_align")
	}
	if _, err := w.run(ctx, w.cfg.UvxBinary, args...); err != nil {
		return result, fmt.Errorf("whisperx: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonPath := filepath.Join(outputDir, baseName+".json")
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return result, fmt.Errorf("whisperx output: %w", err)
	}
	result.Segments = convertSegments(payload.Segments)
	result.Language = subtitlelang.Normalize(payload.Language)
	if result.Language == "" {
		result.Language = subtitlelang.Normalize(opts.Language)
	}
	return result, nil
}

// buildArgs constructs the uvx command arguments for one WhisperX run.
func (w *WhisperX) buildArgs(source, outputDir string, spec ModelSpec, opts TranscribeOptions) []string {
	args := make([]string, 0, 24)

	if w.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = 4
	}

	args = append(args,
		"whisperx",
		source,
		"--model", spec.Name,
		"--batch_size", strconv.Itoa(batch),
		"--output_dir", outputDir,
		"--output_format", "json",
	)

	if spec.Device != "" {
		args = append(args, "--device", spec.Device)
	}
	if spec.ComputeType != "" {
		args = append(args, "--compute_type", spec.ComputeType)
	}
	if lang := subtitlelang.Normalize(opts.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	return args
}

// warmupClip synthesizes a short silent WAV used to exercise a model load.
func (w *WhisperX) warmupClip(ctx context.Context) (string, error) {
	dir := filepath.Join(w.cfg.WorkDir, "warmup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	clip := filepath.Join(dir, "silence.wav")
	if _, err := os.Stat(clip); err == nil {
		return clip, nil
	}
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "anullsrc=r=16000:cl=mono",
		"-t", warmupSeconds,
		"-c:a", "pcm_s16le",
		clip,
	}
	if _, err := w.run(ctx, w.cfg.FFmpegBinary, args...); err != nil {
		return "", fmt.Errorf("warmup clip: %w", err)
	}
	return clip, nil
}

type whisperXWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperXSegment struct {
	Text  string         `json:"text"`
	Start float64        `json:"start"`
	End   float64        `json:"end"`
	Words []whisperXWord `json:"words"`
}

type whisperXPayload struct {
	Segments []whisperXSegment `json:"segments"`
	Language string            `json:"language"`
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	var payload whisperXPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

func convertSegments(raw []whisperXSegment) []Segment {
	segments := make([]Segment, 0, len(raw))
	for _, seg := range raw {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out := Segment{
			Text:    text,
			StartMS: secondsToMS(seg.Start),
			EndMS:   secondsToMS(seg.End),
		}
		for _, word := range seg.Words {
			wtext := strings.TrimSpace(word.Word)
			if wtext == "" {
				continue
			}
			out.Words = append(out.Words, Word{
				Text:    wtext,
				StartMS: secondsToMS(word.Start),
				EndMS:   secondsToMS(word.End),
			})
		}
		segments = append(segments, out)
	}
	return segments
}

func secondsToMS(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}
