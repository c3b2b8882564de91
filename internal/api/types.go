package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobProgress captures pipeline progress for a job.
type JobProgress struct {
	Phase   string  `json:"phase"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// JobSettings mirrors the transcription parameters a job runs with.
type JobSettings struct {
	Model          string `json:"model"`
	ComputeType    string `json:"computeType"`
	Device         string `json:"device"`
	BatchSize      int    `json:"batchSize"`
	WordTimestamps bool   `json:"wordTimestamps"`
	Language       string `json:"language,omitempty"`
}

// JobView describes a job record in a transport-friendly format.
type JobView struct {
	ID                string      `json:"id"`
	SourceFile        string      `json:"sourceFile"`
	WorkDir           string      `json:"workDir,omitempty"`
	Settings          JobSettings `json:"settings"`
	Status            string      `json:"status"`
	Progress          JobProgress `json:"progress"`
	ErrorMessage      string      `json:"errorMessage,omitempty"`
	ProcessedSegments int         `json:"processedSegments"`
	TotalSegments     int         `json:"totalSegments"`
	DetectedLanguage  string      `json:"detectedLanguage,omitempty"`
	ResultPath        string      `json:"resultPath,omitempty"`
	CreatedAt         string      `json:"createdAt,omitempty"`
	UpdatedAt         string      `json:"updatedAt,omitempty"`
}

// QueueSummary describes the scheduler state plus the catalog records behind
// it. Queue holds the backlog in scheduling order.
type QueueSummary struct {
	Queue       []JobView      `json:"queue"`
	Running     *JobView       `json:"running,omitempty"`
	Interrupted string         `json:"interrupted,omitempty"`
	Stats       map[string]int `json:"stats"`
}

// ModelView describes one cached model entry.
type ModelView struct {
	Model       string `json:"model"`
	ComputeType string `json:"computeType"`
	Device      string `json:"device"`
	LoadedAt    string `json:"loadedAt"`
	LastUsed    string `json:"lastUsed"`
	EstMemoryMB int64  `json:"estMemoryMb"`
}

// PreloadView reports the state of a preload run.
type PreloadView struct {
	InProgress      bool     `json:"inProgress"`
	CurrentTarget   string   `json:"currentTarget,omitempty"`
	Loaded          int      `json:"loaded"`
	Total           int      `json:"total"`
	Errors          []string `json:"errors,omitempty"`
	FailureAttempts int      `json:"failureAttempts"`
}

// CacheView aggregates the model cache state for API consumers.
type CacheView struct {
	Entries []ModelView `json:"entries"`
	Version uint64      `json:"version"`
	Preload PreloadView `json:"preload"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	JobDBPath    string             `json:"jobDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	QueueStats   map[string]int     `json:"queueStats"`
	CacheVersion uint64             `json:"cacheVersion"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// CreateJobRequest registers a source file for transcription. Unset settings
// fall back to the daemon's configured defaults.
type CreateJobRequest struct {
	SourceFile     string `json:"sourceFile"`
	Model          string `json:"model,omitempty"`
	ComputeType    string `json:"computeType,omitempty"`
	Device         string `json:"device,omitempty"`
	BatchSize      int    `json:"batchSize,omitempty"`
	WordTimestamps *bool  `json:"wordTimestamps,omitempty"`
	Language       string `json:"language,omitempty"`
}

// CancelRequest controls cancellation side effects.
type CancelRequest struct {
	DeleteData bool `json:"deleteData"`
}

// PrioritizeRequest selects the preemption mode.
type PrioritizeRequest struct {
	Mode string `json:"mode"`
}

// ReorderRequest replaces the backlog order.
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

// PreloadTarget names one model to warm.
type PreloadTarget struct {
	Model       string `json:"model"`
	ComputeType string `json:"computeType,omitempty"`
	Device      string `json:"device,omitempty"`
}

// PreloadRequest lists the models to warm. An empty list warms the
// configured default model.
type PreloadRequest struct {
	Targets []PreloadTarget `json:"targets"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// ErrorResponse carries an API error message.
type ErrorResponse struct {
	Error string `json:"error"`
}
