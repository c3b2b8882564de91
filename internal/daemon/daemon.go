package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"scribed/internal/api"
	"scribed/internal/config"
	"scribed/internal/jobs"
	"scribed/internal/logging"
	"scribed/internal/modelcache"
	"scribed/internal/notifications"
	"scribed/internal/preflight"
	"scribed/internal/queue"
)

// Daemon coordinates the scheduler, model cache, and HTTP API, and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *jobs.Store
	scheduler *queue.Scheduler
	cache     *modelcache.Cache
	notifier  notifications.Service

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, scheduler *queue.Scheduler, cache *modelcache.Cache, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || scheduler == nil || cache == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and cache")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := filepath.Join(cfg.Paths.WorkDir, "scribed.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		scheduler: scheduler,
		cache:     cache,
		notifier:  notifier,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	srv, err := newAPIServer(cfg, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, recovers the persisted schedule, and
// launches the worker and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribed instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.scheduler.Recover(runCtx); err != nil {
		d.release()
		return fmt.Errorf("recover schedule: %w", err)
	}
	d.scheduler.Start(runCtx)

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			d.scheduler.Wait()
			d.release()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("scribed daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the worker and API server and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Wait()
	if d.api != nil {
		d.api.stop()
	}
	d.release()
	d.running.Store(false)
	d.logger.Info("scribed daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound API listener address, empty before Start.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Status assembles daemon runtime information for the API.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("reading job stats failed", logging.Error(err))
	}

	deps := preflight.CheckSystemDeps(ctx, d.cfg)
	converted := make([]api.DependencyStatus, len(deps))
	for i, dep := range deps {
		converted[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}

	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		JobDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
		QueueStats:   api.StatsToCounts(stats),
		CacheVersion: d.cache.Version(),
		Dependencies: converted,
	}
}
