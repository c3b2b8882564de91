package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCanceled   Status = "canceled"
	StatusFailed     Status = "failed"
	StatusFinished   Status = "finished"
)

// Phase represents pipeline progress within a job.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseExtract    Phase = "extract"
	PhaseSplit      Phase = "split"
	PhaseTranscribe Phase = "transcribe"
	PhaseSRT        Phase = "srt"
	PhaseComplete   Phase = "complete"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusQueued,
	StatusProcessing,
	StatusPaused,
	StatusCanceled,
	StatusFailed,
	StatusFinished,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCanceled: {},
	StatusFailed:   {},
	StatusFinished: {},
}

// Settings holds the transcription parameters a job runs with.
type Settings struct {
	Model          string `json:"model"`
	ComputeType    string `json:"compute_type"`
	Device         string `json:"device"`
	BatchSize      int    `json:"batch_size"`
	WordTimestamps bool   `json:"word_timestamps"`
	Language       string `json:"language"`
}

// Job represents one transcription job persisted in SQLite. While a job is
// active it is owned by the scheduler and pipeline; everything else reads
// snapshots through the store.
type Job struct {
	ID                string
	SourceFile        string
	WorkDir           string
	Settings          Settings
	Status            Status
	Phase             Phase
	ProgressPercent   float64
	Message           string
	ErrorMessage      string
	ProcessedSegments int
	TotalSegments     int
	DetectedLanguage  string
	ResultPath        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewID returns a fresh job identifier.
func NewID() string {
	return uuid.NewString()
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status ends a job's lifecycle.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// Restartable reports whether an explicit restart may re-queue the job.
func (s Status) Restartable() bool {
	return s == StatusPaused || s == StatusFailed
}

// SetProgress updates phase, message, and percent together.
func (j *Job) SetProgress(phase Phase, message string, percent float64) {
	j.Phase = phase
	j.Message = message
	j.ProgressPercent = percent
}

// SetFailed marks the job failed with the captured message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.Message = message
}
