package sfx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fabula/internal/config"
	"fabula/internal/services"
	"fabula/internal/services/sfx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *sfx.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return sfx.New(config.Service{TimeoutSeconds: 5}, sfx.WithBaseURL(server.URL))
}

func TestDetect(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var request map[string]string
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if request["context"] != "storm at sea" {
			t.Errorf("expected narrative context, got %+v", request)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"effects": []sfx.EffectSpec{{Key: "thunder", Description: "distant thunder"}},
		})
	})

	effects, err := client.Detect(context.Background(), "a loud crack rolled over the waves", "storm at sea")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(effects) != 1 || effects[0].Key != "thunder" {
		t.Fatalf("unexpected effects %+v", effects)
	}
}

func TestIsCached(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cache/thunder":
			w.WriteHeader(http.StatusOK)
		case "/cache/owl-hoot":
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	cached, err := client.IsCached(context.Background(), "thunder")
	if err != nil || !cached {
		t.Fatalf("expected thunder cached, got %v, %v", cached, err)
	}
	cached, err = client.IsCached(context.Background(), "owl-hoot")
	if err != nil || cached {
		t.Fatalf("expected owl-hoot uncached, got %v, %v", cached, err)
	}
}

func TestDetectServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := client.Detect(context.Background(), "text", "")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestDetectRequiresText(t *testing.T) {
	client := sfx.New(config.Service{BaseURL: "http://sfx.local"})
	if _, err := client.Detect(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}
