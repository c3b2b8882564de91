package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"scribed/internal/jobs"
	"scribed/internal/logging"
	"scribed/internal/notifications"
	"scribed/internal/pipeline"
)

// Start launches the worker goroutine. It runs until ctx is canceled; Wait
// blocks until it has drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.workerLoop(ctx)
	}()
}

// Wait blocks until the worker goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		processed := s.drain(ctx)
		if ctx.Err() != nil {
			return
		}
		if processed > 0 {
			s.notify(notifications.GlobalChannel, notifications.EventQueueDrained,
				fmt.Sprintf("queue drained after %d job(s)", processed))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// drain processes jobs until the backlog is empty or ctx ends. Returns how
// many jobs ran.
func (s *Scheduler) drain(ctx context.Context) int {
	processed := 0
	for ctx.Err() == nil {
		job, token, ok := s.claimHead(ctx)
		if !ok {
			return processed
		}
		if job == nil {
			continue
		}
		s.runJob(ctx, job, token)
		processed++
	}
	return processed
}

// claimHead pops the backlog head and commits it as the running job in one
// critical section, so an id is never in the backlog and the running slot
// at the same time, in memory or in the persisted snapshot. The record is
// validated after the claim; stale, missing, or parked entries release the
// slot and come back as a nil job. ok is false when the backlog is empty.
func (s *Scheduler) claimHead(ctx context.Context) (job *jobs.Job, token *pipeline.Token, ok bool) {
	s.mu.Lock()
	if len(s.backlog) == 0 {
		s.mu.Unlock()
		return nil, nil, false
	}
	head := s.backlog[0]
	s.backlog = s.backlog[1:]
	token = pipeline.NewToken()
	s.running = head
	s.runningToken = token
	s.persistLocked()
	s.mu.Unlock()

	job, err := s.store.GetByID(ctx, head)
	if err != nil || job.Status.IsTerminal() || job.Status == jobs.StatusPaused {
		s.mu.Lock()
		s.running = ""
		s.runningToken = nil
		s.persistLocked()
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("dropping stale queue entry",
				logging.String(logging.FieldJobID, head),
				logging.Error(err))
		}
		return nil, nil, true
	}
	return job, token, true
}

// runJob owns one job for the duration of its pipeline run and the
// post-run bookkeeping.
func (s *Scheduler) runJob(ctx context.Context, job *jobs.Job, token *pipeline.Token) {
	job.Status = jobs.StatusProcessing
	job.Message = "processing"
	job.ErrorMessage = ""
	if err := s.store.Update(ctx, job); err != nil {
		s.logger.Warn("marking job processing failed", logging.Error(err))
	}
	s.notify(notifications.JobChannel(job.ID), notifications.EventJobStarted,
		fmt.Sprintf("Transcribing %s", job.SourceFile))
	s.logger.Info("job started", logging.String(logging.FieldJobID, job.ID))

	status := s.runner.Run(ctx, job, token)

	if s.cache != nil {
		s.cache.ReclaimIdle()
	}
	debug.FreeOSMemory()

	s.notify(notifications.JobChannel(job.ID), statusEvent(status),
		fmt.Sprintf("%s: %s", job.SourceFile, status))
	s.logger.Info("job done",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("status", string(status)))

	s.mu.Lock()
	s.running = ""
	s.runningToken = nil
	deleteData := s.deleteOnCancel[job.ID]
	delete(s.deleteOnCancel, job.ID)

	if s.forcing == job.ID {
		// Restoration is automatic only when the preempting work finished
		// cleanly; otherwise the interrupted job stays paused for a manual
		// restart.
		restored := ""
		if status == jobs.StatusFinished && s.interrupted != "" {
			restored = s.interrupted
			s.backlog = append([]string{restored}, s.backlog...)
		}
		s.interrupted = ""
		s.forcing = ""
		if restored != "" {
			s.mu.Unlock()
			if err := s.setStatus(ctx, restored, jobs.StatusQueued, "restored after preemption"); err != nil {
				s.logger.Warn("restoring interrupted job failed", logging.Error(err))
			}
			s.logger.Info("interrupted job restored", logging.String(logging.FieldJobID, restored))
			s.mu.Lock()
		}
	}
	s.persistLocked()
	s.mu.Unlock()

	if status == jobs.StatusCanceled && deleteData {
		if err := s.deleteJobData(ctx, job); err != nil {
			s.logger.Warn("deleting canceled job data failed", logging.Error(err))
		}
	}
}

func statusEvent(status jobs.Status) notifications.Event {
	switch status {
	case jobs.StatusFinished:
		return notifications.EventJobFinished
	case jobs.StatusFailed:
		return notifications.EventJobFailed
	case jobs.StatusPaused:
		return notifications.EventJobPaused
	case jobs.StatusCanceled:
		return notifications.EventJobCanceled
	default:
		return notifications.EventJobFinished
	}
}

// notify publishes fire-and-forget: delivery neither blocks the worker nor
// influences job state.
func (s *Scheduler) notify(channel string, event notifications.Event, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.Publish(ctx, channel, event, message); err != nil {
			s.logger.Debug("notification failed", logging.Error(err))
		}
	}()
}
