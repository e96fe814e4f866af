package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fabula/internal/config"
)

const userAgent = "Fabula-Go/0.1.0"

// Service defines the operator notification surface. These are push
// notifications for whoever runs the daemon, separate from the in-band
// event stream clients consume.
type Service interface {
	NotifyGenerationStarted(ctx context.Context, sessionID, sceneID string) error
	NotifySceneReady(ctx context.Context, sessionID, sceneID string, elapsed time.Duration) error
	NotifyGenerationFailed(ctx context.Context, sessionID, stage string, err error) error
	NotifyValidationWithheld(ctx context.Context, sessionID string, failures int) error
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
		readyAlerts: cfg.Notifications.Ready,
		errorAlerts: cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	readyAlerts bool
	errorAlerts bool
}

func (n *ntfyService) NotifyGenerationStarted(ctx context.Context, sessionID, sceneID string) error {
	if !n.readyAlerts {
		return nil
	}
	data := payload{
		title:   "Fabula - Generation Started",
		message: fmt.Sprintf("Generating scene %s for session %s", strings.TrimSpace(sceneID), strings.TrimSpace(sessionID)),
		tags:    []string{"fabula", "generation", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySceneReady(ctx context.Context, sessionID, sceneID string, elapsed time.Duration) error {
	if !n.readyAlerts {
		return nil
	}
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	data := payload{
		title:    "Fabula - Scene Ready",
		message:  fmt.Sprintf("Scene %s ready for session %s in %s", strings.TrimSpace(sceneID), strings.TrimSpace(sessionID), elapsed),
		tags:     []string{"fabula", "generation", "ready"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyGenerationFailed(ctx context.Context, sessionID, stage string, err error) error {
	if !n.errorAlerts {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Generation failed")
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" at stage ")
		builder.WriteString(stage)
	}
	builder.WriteString(" for session ")
	builder.WriteString(strings.TrimSpace(sessionID))
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "Fabula - Error",
		message:  builder.String(),
		tags:     []string{"fabula", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyValidationWithheld(ctx context.Context, sessionID string, failures int) error {
	if !n.errorAlerts {
		return nil
	}
	data := payload{
		title:    "Fabula - Validation Failed",
		message:  fmt.Sprintf("Ready withheld for session %s: %d validation failures", strings.TrimSpace(sessionID), failures),
		tags:     []string{"fabula", "validation", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Fabula - Test",
		message:  "Notification system test",
		tags:     []string{"fabula", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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

func (noopService) NotifyGenerationStarted(context.Context, string, string) error { return nil }
func (noopService) NotifySceneReady(context.Context, string, string, time.Duration) error {
	return nil
}
func (noopService) NotifyGenerationFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyValidationWithheld(context.Context, string, int) error         { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
