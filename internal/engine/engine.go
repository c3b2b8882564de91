// Package engine abstracts the speech-to-text backend behind handle-based
// load/transcribe operations so the model cache can own model lifetimes.
package engine

import "context"

// ModelSpec identifies a transcription model variant.
type ModelSpec struct {
	Name        string
	ComputeType string
	Device      string
}

// Model is an opaque handle to a loaded transcription model.
type Model struct {
	Spec ModelSpec
}

// AlignModel is an opaque handle to a loaded alignment model for one language.
type AlignModel struct {
	Language string
	Device   string
}

// Word is a single word with aligned timing.
type Word struct {
	Text    string
	StartMS int64
	EndMS   int64
}

// Segment is one transcribed span of audio.
type Segment struct {
	Text    string
	StartMS int64
	EndMS   int64
	Words   []Word
}

// Result is the outcome of transcribing one audio file.
type Result struct {
	Segments []Segment
	Language string
}

// TranscribeOptions tune a single transcription call.
type TranscribeOptions struct {
	BatchSize      int
	Language       string
	WordTimestamps bool
}

// Engine loads models and transcribes audio. Implementations must be safe
// for use from a single pipeline goroutine; the cache serializes loads.
type Engine interface {
	LoadModel(ctx context.Context, spec ModelSpec) (*Model, error)
	UnloadModel(model *Model)
	LoadAlignModel(ctx context.Context, language, device string) (*AlignModel, error)
	UnloadAlignModel(model *AlignModel)
	TranscribeAndAlign(ctx context.Context, model *Model, align *AlignModel, audioPath string, opts TranscribeOptions) (Result, error)
}
