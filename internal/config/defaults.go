package config

const (
	defaultWorkDir       = "~/.local/share/scribed/jobs"
	defaultMediaDir      = "~/.local/share/scribed/media"
	defaultLogDir        = "~/.local/share/scribed/logs"
	defaultModelCacheDir = "~/.cache/scribed/models"
	defaultAPIBind       = "127.0.0.1:7519"

	defaultModel       = "large-v3"
	defaultComputeType = "float16"
	defaultDevice      = "cuda"
	defaultBatchSize   = 8

	defaultSegmentSeconds     = 60
	defaultSilenceWindowSecs  = 10
	defaultSilenceThresholdDB = -35.0
	defaultMinSilenceMS       = 300

	defaultMaxModels      = 2
	defaultMaxAlignModels = 3
	defaultIdleEvictSecs  = 600
	defaultMinFreeMemMB   = 2048

	defaultWeightExtract    = 10
	defaultWeightSplit      = 10
	defaultWeightTranscribe = 70
	defaultWeightSRT        = 10

	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 10

	defaultNtfyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:       defaultWorkDir,
			MediaDir:      defaultMediaDir,
			LogDir:        defaultLogDir,
			ModelCacheDir: defaultModelCacheDir,
			APIBind:       defaultAPIBind,
		},
		Transcription: Transcription{
			Model:       defaultModel,
			ComputeType: defaultComputeType,
			Device:      defaultDevice,
			BatchSize:   defaultBatchSize,
		},
		Segmenter: Segmenter{
			SegmentSeconds:     defaultSegmentSeconds,
			SilenceWindowSecs:  defaultSilenceWindowSecs,
			SilenceThresholdDB: defaultSilenceThresholdDB,
			MinSilenceMS:       defaultMinSilenceMS,
		},
		ModelCache: ModelCache{
			MaxModels:      defaultMaxModels,
			MaxAlignModels: defaultMaxAlignModels,
			IdleEvictSecs:  defaultIdleEvictSecs,
			MinFreeMemMB:   defaultMinFreeMemMB,
		},
		Pipeline: Pipeline{
			WeightExtract:    defaultWeightExtract,
			WeightSplit:      defaultWeightSplit,
			WeightTranscribe: defaultWeightTranscribe,
			WeightSRT:        defaultWeightSRT,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			JobEvents:      true,
			QueueEvents:    true,
			Errors:         true,
		},
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			Uvx:     "uvx",
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
