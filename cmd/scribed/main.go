package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"scribed/internal/config"
	"scribed/internal/daemon"
	"scribed/internal/engine"
	"scribed/internal/jobs"
	"scribed/internal/logging"
	"scribed/internal/media"
	"scribed/internal/modelcache"
	"scribed/internal/notifications"
	"scribed/internal/pipeline"
	"scribed/internal/preflight"
	"scribed/internal/queue"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewForPaths(cfg.Paths.LogDir, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail))
	}

	store, err := jobs.Open(cfg.Paths.WorkDir)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return
	}

	whisperx := engine.NewWhisperX(engine.WhisperXConfig{
		UvxBinary:    cfg.Tools.Uvx,
		FFmpegBinary: cfg.Tools.FFmpeg,
		WorkDir:      filepath.Join(cfg.Paths.WorkDir, "engine"),
		CUDAEnabled:  cfg.Transcription.Device == "cuda",
	})

	cache, err := modelcache.New(modelcache.Options{
		Engine:         whisperx,
		Logger:         logger,
		MaxModels:      cfg.ModelCache.MaxModels,
		MaxAlignModels: cfg.ModelCache.MaxAlignModels,
		IdleWindow:     time.Duration(cfg.ModelCache.IdleEvictSecs) * time.Second,
		MinFreeMemMB:   int64(cfg.ModelCache.MinFreeMemMB),
	})
	if err != nil {
		logger.Error("init model cache", logging.Error(err))
		return
	}

	toolkit := media.NewToolkit(cfg.Tools.FFmpeg, cfg.Tools.FFprobe)

	runner, err := pipeline.NewRunner(pipeline.Options{
		Store:       store,
		Models:      cache,
		Transcriber: whisperx,
		Media:       toolkit,
		Logger:      logger,
		Weights: pipeline.Weights{
			Extract:    cfg.Pipeline.WeightExtract,
			Split:      cfg.Pipeline.WeightSplit,
			Transcribe: cfg.Pipeline.WeightTranscribe,
			SRT:        cfg.Pipeline.WeightSRT,
		},
		SegmentMS:          int64(cfg.Segmenter.SegmentSeconds) * 1000,
		SilenceWindowMS:    int64(cfg.Segmenter.SilenceWindowSecs) * 1000,
		SilenceThresholdDB: cfg.Segmenter.SilenceThresholdDB,
		MinSilenceMS:       cfg.Segmenter.MinSilenceMS,
	})
	if err != nil {
		logger.Error("init pipeline", logging.Error(err))
		return
	}

	notifier := notifications.NewService(cfg)

	sched, err := queue.New(queue.Options{
		Store:        store,
		Runner:       runner,
		Notifier:     notifier,
		Cache:        cache,
		Logger:       logger,
		StateDir:     cfg.Paths.WorkDir,
		WorkDirFor:   cfg.JobDir,
		PollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
	})
	if err != nil {
		logger.Error("init scheduler", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, sched, cache, notifier, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("scribed shutting down")
}
