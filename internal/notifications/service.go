package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scribed/internal/config"
)

const userAgent = "Scribed/0.1.0"

// GlobalChannel carries daemon-wide events.
const GlobalChannel = "global"

// JobChannel returns the channel name for one job's events.
func JobChannel(jobID string) string {
	return "job:" + jobID
}

// Event identifies what happened.
type Event string

const (
	EventJobStarted   Event = "job_started"
	EventJobFinished  Event = "job_finished"
	EventJobFailed    Event = "job_failed"
	EventJobPaused    Event = "job_paused"
	EventJobCanceled  Event = "job_canceled"
	EventQueueDrained Event = "queue_drained"
	EventError        Event = "error"
	EventTest         Event = "test"
)

// Service delivers operator notifications. Callers treat delivery as
// fire-and-forget; failures are logged by the caller, never acted on.
type Service interface {
	Publish(ctx context.Context, channel string, event Event, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		jobEvents:   cfg.Notifications.JobEvents,
		queueEvents: cfg.Notifications.QueueEvents,
		errors:      cfg.Notifications.Errors,
	}
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	jobEvents   bool
	queueEvents bool
	errors      bool
}

func (n *ntfyService) Publish(ctx context.Context, channel string, event Event, message string) error {
	if !n.enabled(event) {
		return nil
	}
	title, priority := presentation(event)
	tags := []string{"scribed", string(event)}
	if strings.HasPrefix(channel, "job:") {
		tags = append(tags, "job")
	}
	return n.send(ctx, title, message, tags, priority)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, "Scribed - Test", "Notification system test", []string{"scribed", "test"}, "low")
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventJobStarted, EventJobFinished, EventJobFailed, EventJobPaused, EventJobCanceled:
		return n.jobEvents
	case EventQueueDrained:
		return n.queueEvents
	case EventError:
		return n.errors
	default:
		return true
	}
}

func presentation(event Event) (title, priority string) {
	switch event {
	case EventJobStarted:
		return "Scribed - Job Started", ""
	case EventJobFinished:
		return "Scribed - Subtitles Ready", "high"
	case EventJobFailed:
		return "Scribed - Job Failed", "high"
	case EventJobPaused:
		return "Scribed - Job Paused", ""
	case EventJobCanceled:
		return "Scribed - Job Canceled", ""
	case EventQueueDrained:
		return "Scribed - Queue Complete", ""
	case EventError:
		return "Scribed - Error", "high"
	default:
		return "Scribed", ""
	}
}

func (n *ntfyService) send(ctx context.Context, title, message string, tags []string, priority string) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if priority != "" && priority != "default" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, string, Event, string) error { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
