package queue_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"scribed/internal/jobs"
	"scribed/internal/pipeline"
	"scribed/internal/queue"
)

type funcRunner struct {
	fn func(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status
}

func (r funcRunner) Run(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status {
	return r.fn(ctx, job, token)
}

type fixture struct {
	store     *jobs.Store
	scheduler *queue.Scheduler
	stateDir  string
	source    string
}

func newFixture(t *testing.T, runner queue.Runner) *fixture {
	t.Helper()
	store, err := jobs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	stateDir := t.TempDir()
	workRoot := t.TempDir()
	scheduler, err := queue.New(queue.Options{
		Store:        store,
		Runner:       runner,
		StateDir:     stateDir,
		WorkDirFor:   func(id string) string { return filepath.Join(workRoot, id) },
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	source := filepath.Join(t.TempDir(), "talk.mkv")
	if err := os.WriteFile(source, []byte("video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return &fixture{store: store, scheduler: scheduler, stateDir: stateDir, source: source}
}

// idleRunner is for tests that never start the worker.
func idleRunner() queue.Runner {
	return funcRunner{fn: func(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status {
		return jobs.StatusFinished
	}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func jobStatus(t *testing.T, store *jobs.Store, id string) jobs.Status {
	t.Helper()
	job, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return job.Status
}

func TestSingleProcessingInvariant(t *testing.T) {
	var active, maxActive, runs int64
	var store *jobs.Store
	runner := funcRunner{fn: func(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status {
		now := atomic.AddInt64(&active, 1)
		for {
			prev := atomic.LoadInt64(&maxActive)
			if now <= prev || atomic.CompareAndSwapInt64(&maxActive, prev, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		atomic.AddInt64(&runs, 1)
		job.Status = jobs.StatusFinished
		_ = store.Update(ctx, job)
		return jobs.StatusFinished
	}}
	f := newFixture(t, runner)
	store = f.store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 4; i++ {
		if _, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	f.scheduler.Start(ctx)

	waitFor(t, "all jobs to run", func() bool { return atomic.LoadInt64(&runs) == 4 })
	if got := atomic.LoadInt64(&maxActive); got != 1 {
		t.Fatalf("execution slot must hold one job, saw %d concurrent", got)
	}
	cancel()
	f.scheduler.Wait()
}

func TestForcePreemptionRestoresOnCleanFinish(t *testing.T) {
	var store *jobs.Store
	var firstID atomic.Value
	var firstJobRuns int64
	releaseRest := make(chan struct{})
	runner := funcRunner{fn: func(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status {
		if firstID.CompareAndSwap(nil, job.ID) {
			atomic.AddInt64(&firstJobRuns, 1)
			// First job: spin at segment boundaries until preempted.
			for !token.Paused() {
				if ctx.Err() != nil {
					return jobs.StatusPaused
				}
				time.Sleep(time.Millisecond)
			}
			job.Status = jobs.StatusPaused
			_ = store.Update(ctx, job)
			return jobs.StatusPaused
		}
		if id, _ := firstID.Load().(string); id == job.ID {
			atomic.AddInt64(&firstJobRuns, 1)
		}
		<-releaseRest
		job.Status = jobs.StatusFinished
		_ = store.Update(ctx, job)
		return jobs.StatusFinished
	}}
	f := newFixture(t, runner)
	store = f.store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scheduler.Start(ctx)

	jobA, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	waitFor(t, "first job to start", func() bool { return firstID.Load() != nil })

	jobB, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := f.scheduler.Prioritize(ctx, jobB.ID, queue.ModeForce); err != nil {
		t.Fatalf("prioritize: %v", err)
	}

	// The forcing job is blocked inside its run, so the marker is stable.
	snap := f.scheduler.Status()
	if snap.Interrupted != jobA.ID {
		t.Fatalf("expected %s recorded interrupted, got %q", jobA.ID, snap.Interrupted)
	}
	if snap.Running != jobB.ID && (len(snap.Queue) == 0 || snap.Queue[0] != jobB.ID) {
		t.Fatalf("forcing job must run next, got queue %v running %q", snap.Queue, snap.Running)
	}

	// A pauses, B runs to finished, A is restored and runs to finished.
	close(releaseRest)
	waitFor(t, "both jobs finished", func() bool {
		return jobStatus(t, f.store, jobA.ID) == jobs.StatusFinished &&
			jobStatus(t, f.store, jobB.ID) == jobs.StatusFinished
	})
	if got := atomic.LoadInt64(&firstJobRuns); got != 2 {
		t.Fatalf("interrupted job should run twice, ran %d times", got)
	}
	snap = f.scheduler.Status()
	if snap.Interrupted != "" {
		t.Fatalf("marker must be cleared, got %q", snap.Interrupted)
	}
	cancel()
	f.scheduler.Wait()
}

func TestForcePreemptionNoRestoreOnFailure(t *testing.T) {
	var store *jobs.Store
	firstStarted := make(chan string, 1)
	runner := funcRunner{fn: func(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status {
		select {
		case firstStarted <- job.ID:
			for !token.Paused() {
				if ctx.Err() != nil {
					return jobs.StatusPaused
				}
				time.Sleep(time.Millisecond)
			}
			job.Status = jobs.StatusPaused
			_ = store.Update(ctx, job)
			return jobs.StatusPaused
		default:
		}
		job.SetFailed("engine crashed")
		_ = store.Update(ctx, job)
		return jobs.StatusFailed
	}}
	f := newFixture(t, runner)
	store = f.store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scheduler.Start(ctx)

	jobA, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	waitFor(t, "first job to start", func() bool { return len(firstStarted) == 1 })

	jobB, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := f.scheduler.Prioritize(ctx, jobB.ID, queue.ModeForce); err != nil {
		t.Fatalf("prioritize: %v", err)
	}

	waitFor(t, "forcing job to fail", func() bool {
		return jobStatus(t, f.store, jobB.ID) == jobs.StatusFailed
	})
	waitFor(t, "queue to settle", func() bool {
		snap := f.scheduler.Status()
		return snap.Running == "" && len(snap.Queue) == 0
	})

	if got := jobStatus(t, f.store, jobA.ID); got != jobs.StatusPaused {
		t.Fatalf("interrupted job must stay paused after failed preemptor, got %s", got)
	}
	if snap := f.scheduler.Status(); snap.Interrupted != "" {
		t.Fatalf("marker must be cleared even without restoration, got %q", snap.Interrupted)
	}
	cancel()
	f.scheduler.Wait()
}

func TestRunningJobNeverInBacklog(t *testing.T) {
	var store *jobs.Store
	runner := funcRunner{fn: func(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status {
		job.Status = jobs.StatusFinished
		_ = store.Update(ctx, job)
		return jobs.StatusFinished
	}}
	f := newFixture(t, runner)
	store = f.store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scheduler.Start(ctx)

	// Churn the head while the worker claims jobs: every add is immediately
	// reprioritized so head changes race the claim path.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			job, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
			if err != nil {
				t.Errorf("add: %v", err)
				return
			}
			_ = f.scheduler.Prioritize(ctx, job.ID, queue.ModeGentle)
		}
	}()

	churning := true
	for churning {
		select {
		case <-done:
			churning = false
		default:
		}
		snap := f.scheduler.Status()
		if snap.Running == "" {
			continue
		}
		for _, queued := range snap.Queue {
			if queued == snap.Running {
				t.Fatalf("job %s observed running while still queued", snap.Running)
			}
		}
	}

	waitFor(t, "queue to drain", func() bool {
		snap := f.scheduler.Status()
		return snap.Running == "" && len(snap.Queue) == 0
	})
	cancel()
	f.scheduler.Wait()
}

func TestCancelQueuedForcingJobClearsMarkers(t *testing.T) {
	var store *jobs.Store
	started := make(chan string, 1)
	release := make(chan struct{})
	runner := funcRunner{fn: func(ctx context.Context, job *jobs.Job, token *pipeline.Token) jobs.Status {
		select {
		case started <- job.ID:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		if token.Paused() {
			job.Status = jobs.StatusPaused
			_ = store.Update(ctx, job)
			return jobs.StatusPaused
		}
		job.Status = jobs.StatusFinished
		_ = store.Update(ctx, job)
		return jobs.StatusFinished
	}}
	f := newFixture(t, runner)
	store = f.store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scheduler.Start(ctx)

	jobA, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	waitFor(t, "first job to start", func() bool { return len(started) == 1 })

	jobB, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := f.scheduler.Prioritize(ctx, jobB.ID, queue.ModeForce); err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	if snap := f.scheduler.Status(); snap.Interrupted != jobA.ID {
		t.Fatalf("expected %s recorded interrupted, got %q", jobA.ID, snap.Interrupted)
	}

	// Canceling the forcing job while it is still queued voids the pending
	// preemption instead of leaving a stale marker behind.
	if err := f.scheduler.Cancel(ctx, jobB.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if snap := f.scheduler.Status(); snap.Interrupted != "" {
		t.Fatalf("marker must be cleared on cancel, got %q", snap.Interrupted)
	}
	data, err := os.ReadFile(queue.StatePath(f.stateDir))
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if strings.Contains(string(data), jobA.ID) {
		t.Fatalf("persisted state must drop the cleared marker:\n%s", data)
	}

	// The preempted job pauses at the next boundary and is never restored.
	close(release)
	waitFor(t, "queue to settle", func() bool {
		snap := f.scheduler.Status()
		return snap.Running == "" && len(snap.Queue) == 0
	})
	if got := jobStatus(t, f.store, jobA.ID); got != jobs.StatusPaused {
		t.Fatalf("preempted job must stay paused, got %s", got)
	}
	if got := jobStatus(t, f.store, jobB.ID); got != jobs.StatusCanceled {
		t.Fatalf("forcing job must be canceled, got %s", got)
	}
	cancel()
	f.scheduler.Wait()
}

func TestGentlePrioritizeReordersOnly(t *testing.T) {
	f := newFixture(t, idleRunner())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, job.ID)
	}
	if err := f.scheduler.Prioritize(ctx, ids[2], queue.ModeGentle); err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	snap := f.scheduler.Status()
	if snap.Queue[0] != ids[2] || snap.Queue[1] != ids[0] || snap.Queue[2] != ids[1] {
		t.Fatalf("unexpected order %v", snap.Queue)
	}
	if snap.Interrupted != "" {
		t.Fatal("gentle mode must not record an interrupted job")
	}
}

func TestReorderValidatesPermutation(t *testing.T) {
	f := newFixture(t, idleRunner())
	ctx := context.Background()

	jobA, _ := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	jobB, _ := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})

	if err := f.scheduler.Reorder(ctx, []string{jobB.ID}); err == nil {
		t.Fatal("short reorder must be rejected")
	}
	if err := f.scheduler.Reorder(ctx, []string{jobB.ID, "bogus"}); err == nil {
		t.Fatal("unknown id must be rejected")
	}
	if err := f.scheduler.Reorder(ctx, []string{jobB.ID, jobA.ID}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if snap := f.scheduler.Status(); snap.Queue[0] != jobB.ID {
		t.Fatalf("unexpected order %v", snap.Queue)
	}
}

func TestCancelQueuedWithDeleteRemovesData(t *testing.T) {
	f := newFixture(t, idleRunner())
	ctx := context.Background()

	job, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := f.scheduler.Cancel(ctx, job.ID, true); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := os.Stat(job.WorkDir); !os.IsNotExist(err) {
		t.Fatal("work dir must be removed")
	}
	if _, err := f.store.GetByID(ctx, job.ID); err == nil {
		t.Fatal("catalog record must be removed")
	}
	if snap := f.scheduler.Status(); len(snap.Queue) != 0 {
		t.Fatalf("backlog must be empty, got %v", snap.Queue)
	}
}

func TestRestartRequeuesPausedJob(t *testing.T) {
	f := newFixture(t, idleRunner())
	ctx := context.Background()

	job, err := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := f.scheduler.Pause(ctx, job.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := jobStatus(t, f.store, job.ID); got != jobs.StatusPaused {
		t.Fatalf("expected paused, got %s", got)
	}
	if snap := f.scheduler.Status(); len(snap.Queue) != 0 {
		t.Fatal("paused job must leave the backlog")
	}

	if err := f.scheduler.Restart(ctx, job.ID); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := jobStatus(t, f.store, job.ID); got != jobs.StatusQueued {
		t.Fatalf("expected queued, got %s", got)
	}
	if snap := f.scheduler.Status(); len(snap.Queue) != 1 || snap.Queue[0] != job.ID {
		t.Fatalf("unexpected backlog %v", snap.Queue)
	}

	// Finished jobs are not restartable.
	stored, _ := f.store.GetByID(ctx, job.ID)
	stored.Status = jobs.StatusFinished
	_ = f.store.Update(ctx, stored)
	if err := f.scheduler.Restart(ctx, job.ID); err == nil {
		t.Fatal("finished job must not restart")
	}
}

func TestUnknownJobOperations(t *testing.T) {
	f := newFixture(t, idleRunner())
	ctx := context.Background()

	if err := f.scheduler.Pause(ctx, "missing"); err != queue.ErrUnknownJob {
		t.Fatalf("pause: expected ErrUnknownJob, got %v", err)
	}
	if err := f.scheduler.Cancel(ctx, "missing", false); err != queue.ErrUnknownJob {
		t.Fatalf("cancel: expected ErrUnknownJob, got %v", err)
	}
	if err := f.scheduler.Prioritize(ctx, "missing", queue.ModeGentle); err != queue.ErrUnknownJob {
		t.Fatalf("prioritize: expected ErrUnknownJob, got %v", err)
	}
}

func TestStatePersistedAfterMutations(t *testing.T) {
	f := newFixture(t, idleRunner())
	ctx := context.Background()

	jobA, _ := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	jobB, _ := f.scheduler.Add(ctx, f.source, jobs.Settings{Model: "small"})
	if err := f.scheduler.Prioritize(ctx, jobB.ID, queue.ModeGentle); err != nil {
		t.Fatalf("prioritize: %v", err)
	}

	data, err := os.ReadFile(queue.StatePath(f.stateDir))
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, jobA.ID) || !strings.Contains(content, jobB.ID) {
		t.Fatalf("state file missing job ids:\n%s", content)
	}
}

func TestRecoverRebuildsSchedule(t *testing.T) {
	f := newFixture(t, idleRunner())
	ctx := context.Background()

	mk := func(status jobs.Status) *jobs.Job {
		job, err := f.store.Create(ctx, f.source, t.TempDir(), jobs.Settings{Model: "small"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		job.Status = status
		if err := f.store.Update(ctx, job); err != nil {
			t.Fatalf("update: %v", err)
		}
		return job
	}
	wasRunning := mk(jobs.StatusProcessing)
	queuedA := mk(jobs.StatusQueued)
	queuedB := mk(jobs.StatusQueued)
	interrupted := mk(jobs.StatusPaused)

	if err := queue.WriteStateForTest(f.stateDir, queue.State{
		Queue:       []string{queuedA.ID, "vanished", queuedB.ID},
		Running:     wasRunning.ID,
		Interrupted: interrupted.ID,
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	if err := f.scheduler.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	snap := f.scheduler.Status()
	want := []string{wasRunning.ID, queuedA.ID, queuedB.ID}
	if len(snap.Queue) != len(want) {
		t.Fatalf("unexpected backlog %v, want %v", snap.Queue, want)
	}
	for i := range want {
		if snap.Queue[i] != want[i] {
			t.Fatalf("unexpected backlog order %v, want %v", snap.Queue, want)
		}
	}
	if got := jobStatus(t, f.store, wasRunning.ID); got != jobs.StatusPaused {
		t.Fatalf("crashed running job must come back paused, got %s", got)
	}
	if got := jobStatus(t, f.store, interrupted.ID); got != jobs.StatusPaused {
		t.Fatalf("interrupted job must stay paused, got %s", got)
	}
	if snap.Interrupted != "" {
		t.Fatalf("interrupted marker must not survive a restart, got %q", snap.Interrupted)
	}
}

func TestRecoverWithoutStateFile(t *testing.T) {
	f := newFixture(t, idleRunner())
	if err := f.scheduler.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if snap := f.scheduler.Status(); len(snap.Queue) != 0 {
		t.Fatalf("expected empty backlog, got %v", snap.Queue)
	}
}
