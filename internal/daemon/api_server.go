package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"scribed/internal/api"
	"scribed/internal/config"
	"scribed/internal/engine"
	"scribed/internal/jobs"
	"scribed/internal/logging"
	"scribed/internal/modelcache"
	"scribed/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/queue/reorder", srv.handleReorder)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJob)
	mux.HandleFunc("/api/models", srv.handleModels)
	mux.HandleFunc("/api/models/preload", srv.handlePreload)
	mux.HandleFunc("/api/notifications/test", srv.handleNotifyTest)

	srv.server = &http.Server{
		Handler:           authMiddleware(strings.TrimSpace(cfg.Paths.APIToken), mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := s.daemon.scheduler.Status()
	summary := api.QueueSummary{
		Queue:       make([]api.JobView, 0, len(snap.Queue)),
		Interrupted: snap.Interrupted,
	}
	for _, id := range snap.Queue {
		job, err := s.daemon.store.GetByID(r.Context(), id)
		if err != nil {
			continue
		}
		summary.Queue = append(summary.Queue, api.FromJob(job))
	}
	if snap.Running != "" {
		if job, err := s.daemon.store.GetByID(r.Context(), snap.Running); err == nil {
			view := api.FromJob(job)
			summary.Running = &view
		}
	}
	stats, err := s.daemon.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary.Stats = api.StatsToCounts(stats)
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.daemon.scheduler.Reorder(r.Context(), req.IDs); err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.scheduler.Status())
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var statuses []jobs.Status
		for _, value := range r.URL.Query()["status"] {
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			status, ok := jobs.ParseStatus(trimmed)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", trimmed))
				return
			}
			statuses = append(statuses, status)
		}
		records, err := s.daemon.store.List(r.Context(), statuses...)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(records)})
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	source := strings.TrimSpace(req.SourceFile)
	if source == "" {
		s.writeError(w, http.StatusBadRequest, "sourceFile required")
		return
	}

	job, err := s.daemon.scheduler.Add(r.Context(), source, s.jobSettings(req))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: api.FromJob(job)})
}

// jobSettings merges request overrides onto the configured transcription
// defaults.
func (s *apiServer) jobSettings(req api.CreateJobRequest) jobs.Settings {
	defaults := s.daemon.cfg.Transcription
	settings := jobs.Settings{
		Model:          defaults.Model,
		ComputeType:    defaults.ComputeType,
		Device:         defaults.Device,
		BatchSize:      defaults.BatchSize,
		WordTimestamps: defaults.WordTimestamps,
		Language:       defaults.Language,
	}
	if v := strings.TrimSpace(req.Model); v != "" {
		settings.Model = v
	}
	if v := strings.TrimSpace(req.ComputeType); v != "" {
		settings.ComputeType = v
	}
	if v := strings.TrimSpace(req.Device); v != "" {
		settings.Device = v
	}
	if req.BatchSize > 0 {
		settings.BatchSize = req.BatchSize
	}
	if req.WordTimestamps != nil {
		settings.WordTimestamps = *req.WordTimestamps
	}
	if v := strings.TrimSpace(req.Language); v != "" {
		settings.Language = v
	}
	return settings
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		job, err := s.daemon.store.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "job not found")
				return
			}
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleJobAction(w, r, id, action)
}

func (s *apiServer) handleJobAction(w http.ResponseWriter, r *http.Request, id, action string) {
	ctx := r.Context()
	sched := s.daemon.scheduler

	var err error
	switch action {
	case "pause":
		err = sched.Pause(ctx, id)
	case "cancel":
		var req api.CancelRequest
		if r.ContentLength > 0 {
			if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
				s.writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		err = sched.Cancel(ctx, id, req.DeleteData)
		if err == nil && req.DeleteData {
			// The record may be gone already; report the last known id.
			s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(jobs.StatusCanceled)})
			return
		}
	case "start", "restart":
		err = sched.Restart(ctx, id)
	case "prioritize":
		var req api.PrioritizeRequest
		if r.ContentLength > 0 {
			if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
				s.writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		mode := queue.ModeGentle
		if req.Mode != "" {
			parsed, ok := queue.ParseMode(req.Mode)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
				return
			}
			mode = parsed
		}
		err = sched.Prioritize(ctx, id, mode)
	default:
		s.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}

	job, err := s.daemon.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromCache(s.daemon.cache))
}

func (s *apiServer) handlePreload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.PreloadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	defaults := s.daemon.cfg.Transcription
	targets := make([]engine.ModelSpec, 0, len(req.Targets))
	for _, target := range req.Targets {
		name := strings.TrimSpace(target.Model)
		if name == "" {
			s.writeError(w, http.StatusBadRequest, "target model name required")
			return
		}
		spec := engine.ModelSpec{
			Name:        name,
			ComputeType: strings.TrimSpace(target.ComputeType),
			Device:      strings.TrimSpace(target.Device),
		}
		if spec.ComputeType == "" {
			spec.ComputeType = defaults.ComputeType
		}
		if spec.Device == "" {
			spec.Device = defaults.Device
		}
		targets = append(targets, spec)
	}
	if len(targets) == 0 {
		targets = append(targets, engine.ModelSpec{
			Name:        defaults.Model,
			ComputeType: defaults.ComputeType,
			Device:      defaults.Device,
		})
	}

	// StartPreload reserves the run atomically, so concurrent requests
	// cannot both be accepted.
	if err := s.daemon.cache.StartPreload(context.Background(), targets); err != nil {
		if errors.Is(err, modelcache.ErrPreloadActive) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromPreloadStatus(s.daemon.cache.Status()))
}

func (s *apiServer) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.daemon.notifier.TestNotification(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (s *apiServer) writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrUnknownJob):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrNotQueued),
		errors.Is(err, queue.ErrNotRestartable),
		errors.Is(err, queue.ErrBadOrder):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Warn("encoding api response failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.NewNop()
}
