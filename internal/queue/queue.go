// Package queue schedules jobs onto a single worker and keeps the schedule
// durable across restarts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"scribed/internal/jobs"
	"scribed/internal/logging"
	"scribed/internal/notifications"
	"scribed/internal/pipeline"
)

// Mode selects how Prioritize treats the running job.
type Mode string

const (
	// ModeGentle reorders the backlog only.
	ModeGentle Mode = "gentle"
	// ModeForce also suspends the running job so the target runs next.
	ModeForce Mode = "force"
)

// ParseMode converts a string into a Mode.
func ParseMode(value string) (Mode, bool) {
	switch Mode(value) {
	case ModeGentle, ModeForce:
		return Mode(value), true
	case "":
		return ModeGentle, true
	default:
		return "", false
	}
}

var (
	// ErrUnknownJob is returned for job ids the scheduler does not know.
	ErrUnknownJob = errors.New("unknown job")
	// ErrNotQueued is returned when an operation needs the job in the backlog.
	ErrNotQueued = errors.New("job is not queued")
	// ErrNotRestartable is returned when restart is requested for a job that
	// is not paused or failed.
	ErrNotRestartable = errors.New("job is not restartable")
	// ErrBadOrder is returned when a reorder request is not a permutation of
	// the current backlog.
	ErrBadOrder = errors.New("reorder must list every queued job exactly once")
)

// Runner executes one job to a terminal or suspended outcome.
type Runner interface {
	Run(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status
}

// CacheReclaimer releases idle model cache entries between jobs.
type CacheReclaimer interface {
	ReclaimIdle() int
}

// Options configure a Scheduler.
type Options struct {
	Store    *jobs.Store
	Runner   Runner
	Notifier notifications.Service
	Cache    CacheReclaimer
	Logger   *slog.Logger

	// StateDir holds queue_state.json.
	StateDir string
	// WorkDirFor maps a job id to its work directory.
	WorkDirFor func(jobID string) string
	// PollInterval bounds how long the worker sleeps between empty polls.
	PollInterval time.Duration
}

// Scheduler owns the backlog and the single worker. All public operations
// are safe for concurrent use; the worker goroutine is the only caller of
// the pipeline.
type Scheduler struct {
	store    *jobs.Store
	runner   Runner
	notifier notifications.Service
	cache    CacheReclaimer
	logger   *slog.Logger

	stateDir     string
	workDirFor   func(string) string
	pollInterval time.Duration

	mu             sync.Mutex
	backlog        []string
	running        string
	runningToken   *pipeline.Token
	interrupted    string
	forcing        string
	deleteOnCancel map[string]bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Scheduler. Call Recover before Start.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil || opts.Runner == nil {
		return nil, fmt.Errorf("queue: store and runner required")
	}
	if opts.StateDir == "" {
		return nil, fmt.Errorf("queue: state dir required")
	}
	if opts.WorkDirFor == nil {
		return nil, fmt.Errorf("queue: work dir mapping required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Scheduler{
		store:          opts.Store,
		runner:         opts.Runner,
		notifier:       notifier,
		cache:          opts.Cache,
		logger:         logging.NewComponentLogger(logger, "queue"),
		stateDir:       opts.StateDir,
		workDirFor:     opts.WorkDirFor,
		pollInterval:   poll,
		deleteOnCancel: make(map[string]bool),
		wake:           make(chan struct{}, 1),
	}, nil
}

// Add creates a job for sourceFile and appends it to the backlog.
func (s *Scheduler) Add(ctx context.Context, sourceFile string, settings jobs.Settings) (*jobs.Job, error) {
	if sourceFile == "" {
		return nil, fmt.Errorf("source file required")
	}
	if _, err := os.Stat(sourceFile); err != nil {
		return nil, fmt.Errorf("source file: %w", err)
	}

	job, err := s.store.Create(ctx, sourceFile, "", settings)
	if err != nil {
		return nil, err
	}
	job.WorkDir = s.workDirFor(job.ID)
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	job.Status = jobs.StatusQueued
	if err := s.store.Update(ctx, job); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.backlog = append(s.backlog, job.ID)
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("source", sourceFile))
	s.kick()
	return job, nil
}

// Pause suspends a job: the running job cooperatively at the next segment
// boundary, a queued job immediately.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.running == id && s.runningToken != nil {
		s.runningToken.RequestPause()
		s.mu.Unlock()
		return nil
	}
	removed := s.removeFromBacklogLocked(id)
	if removed {
		s.persistLocked()
	}
	s.mu.Unlock()

	if !removed {
		return s.checkKnown(ctx, id)
	}
	return s.setStatus(ctx, id, jobs.StatusPaused, "paused")
}

// Cancel stops a job. With deleteData the work directory and catalog record
// are removed once the job is canceled.
func (s *Scheduler) Cancel(ctx context.Context, id string, deleteData bool) error {
	s.mu.Lock()
	if s.running == id && s.runningToken != nil {
		s.runningToken.RequestCancel()
		if deleteData {
			s.deleteOnCancel[id] = true
		}
		s.mu.Unlock()
		return nil
	}
	removed := s.removeFromBacklogLocked(id)
	// Canceling either side of a pending preemption voids it: the recorded
	// forcing job will never finish, and a canceled interrupted job has
	// nothing to restore.
	cleared := s.interrupted == id || s.forcing == id
	if cleared {
		s.interrupted = ""
		s.forcing = ""
	}
	if removed || cleared {
		s.persistLocked()
	}
	s.mu.Unlock()

	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return ErrUnknownJob
		}
		return err
	}
	job.Status = jobs.StatusCanceled
	job.Message = "canceled"
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}
	if deleteData {
		return s.deleteJobData(ctx, job)
	}
	return nil
}

// Prioritize moves a queued job to the head of the backlog. ModeForce also
// suspends the running job and records it for automatic restoration.
func (s *Scheduler) Prioritize(ctx context.Context, id string, mode Mode) error {
	if err := s.checkKnown(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == id {
		return nil
	}
	if !s.removeFromBacklogLocked(id) {
		return ErrNotQueued
	}
	s.backlog = append([]string{id}, s.backlog...)

	if mode == ModeForce && s.running != "" && s.runningToken != nil {
		s.runningToken.RequestPause()
		s.interrupted = s.running
		s.forcing = id
		s.logger.Info("running job preempted",
			logging.String(logging.FieldJobID, s.running),
			logging.String("by", id))
	}
	s.persistLocked()
	return nil
}

// Reorder replaces the backlog order. ids must contain every queued job
// exactly once.
func (s *Scheduler) Reorder(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) != len(s.backlog) {
		return ErrBadOrder
	}
	current := make(map[string]bool, len(s.backlog))
	for _, id := range s.backlog {
		current[id] = true
	}
	for _, id := range ids {
		if !current[id] {
			return ErrBadOrder
		}
		delete(current, id)
	}
	s.backlog = append([]string(nil), ids...)
	s.persistLocked()
	return nil
}

// Restart re-queues a paused or failed job at the backlog tail. Restarting
// the recorded interrupted job clears the restoration marker: the manual
// decision supersedes it.
func (s *Scheduler) Restart(ctx context.Context, id string) error {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return ErrUnknownJob
		}
		return err
	}
	if !job.Status.Restartable() {
		return fmt.Errorf("%w: status %s", ErrNotRestartable, job.Status)
	}

	job.Status = jobs.StatusQueued
	job.Message = "restarted"
	job.ErrorMessage = ""
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}

	s.mu.Lock()
	if s.interrupted == id {
		s.interrupted = ""
		s.forcing = ""
	}
	if !s.inBacklogLocked(id) {
		s.backlog = append(s.backlog, id)
	}
	s.persistLocked()
	s.mu.Unlock()

	s.kick()
	return nil
}

// Snapshot is a point-in-time view of the schedule.
type Snapshot struct {
	Queue       []string `json:"queue"`
	Running     string   `json:"running,omitempty"`
	Interrupted string   `json:"interrupted,omitempty"`
}

// Status returns the current schedule.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Queue:       append([]string(nil), s.backlog...),
		Running:     s.running,
		Interrupted: s.interrupted,
	}
}

// Recover rebuilds the schedule from the persisted snapshot. A job that was
// running at crash time is marked paused and placed at the backlog head; it
// is never auto-resumed. Queued survivors are re-appended in saved order;
// ids that fail to reconstruct are skipped. A recorded interrupted job is
// marked paused but left unqueued, and the marker does not survive into the
// new schedule.
func (s *Scheduler) Recover(ctx context.Context) error {
	state := loadState(s.stateDir)

	var backlog []string
	if state.Running != "" {
		if job, err := s.store.GetByID(ctx, state.Running); err == nil {
			job.Status = jobs.StatusPaused
			job.Message = "interrupted by restart"
			if err := s.store.Update(ctx, job); err == nil {
				backlog = append(backlog, job.ID)
			}
		}
	}
	for _, id := range state.Queue {
		job, err := s.store.GetByID(ctx, id)
		if err != nil {
			s.logger.Warn("dropping unreconstructable job",
				logging.String(logging.FieldJobID, id),
				logging.Error(err))
			continue
		}
		if job.Status.IsTerminal() {
			continue
		}
		backlog = append(backlog, id)
	}
	if state.Interrupted != "" && state.Interrupted != state.Running {
		if job, err := s.store.GetByID(ctx, state.Interrupted); err == nil && !job.Status.IsTerminal() {
			job.Status = jobs.StatusPaused
			job.Message = "preempted before restart"
			if err := s.store.Update(ctx, job); err != nil {
				s.logger.Warn("marking interrupted job failed", logging.Error(err))
			}
		}
	}

	// Any job the catalog still shows processing belongs to the dead
	// process; park it.
	if stuck, err := s.store.List(ctx, jobs.StatusProcessing); err == nil {
		for _, job := range stuck {
			job.Status = jobs.StatusPaused
			job.Message = "interrupted by restart"
			if err := s.store.Update(ctx, job); err != nil {
				s.logger.Warn("parking stuck job failed", logging.Error(err))
			}
		}
	}

	s.mu.Lock()
	s.backlog = backlog
	s.running = ""
	s.interrupted = ""
	s.forcing = ""
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("queue recovered", logging.Int("jobs", len(backlog)))
	return nil
}

func (s *Scheduler) checkKnown(ctx context.Context, id string) error {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return ErrUnknownJob
		}
		return err
	}
	return nil
}

func (s *Scheduler) setStatus(ctx context.Context, id string, status jobs.Status, message string) error {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return ErrUnknownJob
		}
		return err
	}
	job.Status = status
	job.Message = message
	return s.store.Update(ctx, job)
}

func (s *Scheduler) deleteJobData(ctx context.Context, job *jobs.Job) error {
	if job.WorkDir != "" {
		if err := os.RemoveAll(job.WorkDir); err != nil {
			return fmt.Errorf("remove work dir: %w", err)
		}
	}
	if _, err := s.store.Remove(ctx, job.ID); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) removeFromBacklogLocked(id string) bool {
	for i, queued := range s.backlog {
		if queued == id {
			s.backlog = append(s.backlog[:i], s.backlog[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scheduler) inBacklogLocked(id string) bool {
	for _, queued := range s.backlog {
		if queued == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) persistLocked() {
	state := State{
		Queue:       append([]string(nil), s.backlog...),
		Running:     s.running,
		Interrupted: s.interrupted,
	}
	if err := saveState(s.stateDir, state); err != nil {
		s.logger.Error("persist queue state failed", logging.Error(err))
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, string, notifications.Event, string) error { return nil }
func (noopNotifier) TestNotification(context.Context) error                             { return nil }
