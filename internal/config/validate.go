package config

import (
	"errors"
	"fmt"
	"strings"
)

var validComputeTypes = map[string]struct{}{
	"float16": {},
	"float32": {},
	"int8":    {},
}

var validDevices = map[string]struct{}{
	"cuda": {},
	"cpu":  {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateSegmenter(); err != nil {
		return err
	}
	if err := c.validateModelCache(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if _, ok := validComputeTypes[c.Transcription.ComputeType]; !ok {
		return fmt.Errorf("transcription.compute_type: unsupported value %q", c.Transcription.ComputeType)
	}
	if _, ok := validDevices[c.Transcription.Device]; !ok {
		return fmt.Errorf("transcription.device: unsupported value %q", c.Transcription.Device)
	}
	if c.Transcription.BatchSize <= 0 {
		return errors.New("transcription.batch_size must be positive")
	}
	return nil
}

func (c *Config) validateSegmenter() error {
	if c.Segmenter.SegmentSeconds <= 0 {
		return errors.New("segmenter.segment_seconds must be positive")
	}
	if c.Segmenter.SilenceWindowSecs < 0 {
		return errors.New("segmenter.silence_window_seconds must not be negative")
	}
	if c.Segmenter.SilenceWindowSecs >= c.Segmenter.SegmentSeconds {
		return errors.New("segmenter.silence_window_seconds must be shorter than segment_seconds")
	}
	if c.Segmenter.MinSilenceMS <= 0 {
		return errors.New("segmenter.min_silence_ms must be positive")
	}
	return nil
}

func (c *Config) validateModelCache() error {
	if c.ModelCache.MaxModels <= 0 {
		return errors.New("model_cache.max_models must be positive")
	}
	if c.ModelCache.MaxAlignModels <= 0 {
		return errors.New("model_cache.max_align_models must be positive")
	}
	if c.ModelCache.IdleEvictSecs <= 0 {
		return errors.New("model_cache.idle_evict_seconds must be positive")
	}
	if c.ModelCache.MinFreeMemMB < 0 {
		return errors.New("model_cache.min_free_mem_mb must not be negative")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	weights := []int{
		c.Pipeline.WeightExtract,
		c.Pipeline.WeightSplit,
		c.Pipeline.WeightTranscribe,
		c.Pipeline.WeightSRT,
	}
	sum := 0
	for _, w := range weights {
		if w < 0 {
			return errors.New("pipeline phase weights must not be negative")
		}
		sum += w
	}
	if sum != 100 {
		return fmt.Errorf("pipeline phase weights must sum to 100, got %d", sum)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	return nil
}
