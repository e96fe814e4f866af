package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fabula/internal/config"
	"fabula/internal/notifications"
)

type captured struct {
	title    string
	priority string
	tags     string
	body     string
}

func newNtfyServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			tags:     r.Header.Get("Tags"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		out := make([]captured, len(requests))
		copy(out, requests)
		return out
	}
}

func serviceFor(t *testing.T, topic string, ready, errs bool) notifications.Service {
	t.Helper()
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.Ready = ready
	cfg.Notifications.Errors = errs
	return notifications.NewService(&cfg)
}

func TestNotifySceneReadySendsHighPriority(t *testing.T) {
	server, recorded := newNtfyServer(t)
	svc := serviceFor(t, server.URL, true, true)

	if err := svc.NotifySceneReady(context.Background(), "session-1", "scene-1", 42*time.Second); err != nil {
		t.Fatalf("NotifySceneReady: %v", err)
	}
	reqs := recorded()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].title != "Fabula - Scene Ready" || reqs[0].priority != "high" {
		t.Fatalf("request = %+v", reqs[0])
	}
}

func TestNotifyGenerationFailedIncludesStage(t *testing.T) {
	server, recorded := newNtfyServer(t)
	svc := serviceFor(t, server.URL, true, true)

	err := svc.NotifyGenerationFailed(context.Background(), "session-1", "sfx", errors.New("detector unavailable"))
	if err != nil {
		t.Fatalf("NotifyGenerationFailed: %v", err)
	}
	reqs := recorded()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if got := reqs[0].body; got != "Generation failed at stage sfx for session session-1: detector unavailable" {
		t.Fatalf("body = %q", got)
	}
}

func TestDisabledCategoriesAreSilent(t *testing.T) {
	server, recorded := newNtfyServer(t)
	svc := serviceFor(t, server.URL, false, false)

	_ = svc.NotifySceneReady(context.Background(), "s", "sc", time.Second)
	_ = svc.NotifyGenerationFailed(context.Background(), "s", "qa", errors.New("x"))
	_ = svc.NotifyValidationWithheld(context.Background(), "s", 2)

	if got := len(recorded()); got != 0 {
		t.Fatalf("got %d requests, want 0", got)
	}
}

func TestUnconfiguredTopicIsNoop(t *testing.T) {
	svc := serviceFor(t, "", true, true)
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop service returned %v", err)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic rejected", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	svc := serviceFor(t, server.URL, true, true)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from rejecting server")
	}
}
