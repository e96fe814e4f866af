package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fabula/internal/daemon"
	"fabula/internal/events"
	"fabula/internal/pipeline"
)

func startAPIDaemon(t *testing.T, token string) *daemon.Daemon {
	t.Helper()
	cfg := testConfig(t)
	cfg.API.Token = token
	d, _ := newTestDaemon(t, cfg, healthyRunners(nil))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.APIAddr() == "" {
		t.Fatal("api address not bound")
	}
	return d
}

func apiURL(d *daemon.Daemon, path string) string {
	return fmt.Sprintf("http://%s%s", d.APIAddr(), path)
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIGenerateAndStatusRoundTrip(t *testing.T) {
	d := startAPIDaemon(t, "")

	resp := doJSON(t, http.MethodPost, apiURL(d, "/api/sessions/session-1/generate"), "", map[string]any{
		"content": pipeline.Content{SceneID: "scene-1", Text: "Once upon a time.", SynthesizedAudio: true},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d, want 202", resp.StatusCode)
	}

	waitForIdle(t, d, "session-1")

	resp = doJSON(t, http.MethodGet, apiURL(d, "/api/sessions/session-1"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d", resp.StatusCode)
	}
	var rep pipeline.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Stages[pipeline.StageVoices].Status != pipeline.StatusSuccess {
		t.Fatalf("voices = %s", rep.Stages[pipeline.StageVoices].Status)
	}

	resp = doJSON(t, http.MethodPost, apiURL(d, "/api/sessions/session-1/ready-ack"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready-ack status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, apiURL(d, "/api/status"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("daemon status = %d", resp.StatusCode)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.KnownSessions != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	d := startAPIDaemon(t, "secret-token")

	resp := doJSON(t, http.MethodGet, apiURL(d, "/api/status"), "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, apiURL(d, "/api/status"), "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, apiURL(d, "/api/status"), "secret-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIUnknownSessionReturns404(t *testing.T) {
	d := startAPIDaemon(t, "")

	resp := doJSON(t, http.MethodGet, apiURL(d, "/api/sessions/ghost"), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, apiURL(d, "/api/sessions/ghost/retry"), "", retryBody("sfx"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("retry status = %d, want 404", resp.StatusCode)
	}
}

func retryBody(stage string) map[string]string {
	return map[string]string{"stage": stage}
}

func TestAPIEventStreamDeliversPipelineEvents(t *testing.T) {
	d := startAPIDaemon(t, "")

	wsURL := fmt.Sprintf("ws://%s/api/sessions/session-1/events", d.APIAddr())
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := d.StartGeneration("session-1", pipeline.Content{SceneID: "scene-1", Text: "...", SynthesizedAudio: true}); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	sawStarted, sawReady := false, false
	for time.Now().Before(deadline) && !(sawStarted && sawReady) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch evt.Type {
		case events.TypePipelineStarted:
			sawStarted = true
		case events.TypePipelineReady:
			sawReady = true
		}
		if evt.SessionID != "session-1" {
			t.Fatalf("event for session %q", evt.SessionID)
		}
	}
	if !sawStarted || !sawReady {
		t.Fatalf("stream incomplete: started=%v ready=%v", sawStarted, sawReady)
	}
}
