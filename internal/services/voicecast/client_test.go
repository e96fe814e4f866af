package voicecast_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fabula/internal/config"
	"fabula/internal/services"
	"fabula/internal/services/voicecast"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *voicecast.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return voicecast.New(config.Service{APIKey: "key", TimeoutSeconds: 5}, voicecast.WithBaseURL(server.URL))
}

func TestListCharacters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/sess-1/characters" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"characters": []voicecast.Character{
				{ID: "c1", Name: "Mira", Category: "child"},
				{ID: "c2", Name: "The Fox", Category: "creature"},
			},
		})
	})

	characters, err := client.ListCharacters(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ListCharacters failed: %v", err)
	}
	if len(characters) != 2 || characters[0].Name != "Mira" {
		t.Fatalf("unexpected characters %+v", characters)
	}
}

func TestDeriveCharactersSendsModel(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"characters": []voicecast.Character{{ID: "c1", Name: "Mira"}}})
	}))
	t.Cleanup(server.Close)

	client := voicecast.New(config.Service{Model: "story-extract-1", TimeoutSeconds: 5}, voicecast.WithBaseURL(server.URL))
	if _, err := client.DeriveCharacters(context.Background(), "sess-1", "Once upon a time"); err != nil {
		t.Fatalf("DeriveCharacters failed: %v", err)
	}
	if received["model"] != "story-extract-1" {
		t.Fatalf("expected model in request, got %+v", received)
	}
}

func TestSaveRosterRejectsEmptySession(t *testing.T) {
	client := voicecast.New(config.Service{BaseURL: "http://voices.local"})
	if err := client.SaveRoster(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestServerErrorIsExternal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	})
	_, err := client.ListVoices(context.Background())
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestAuthFailureIsConfiguration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	_, err := client.ListVoices(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestUnconfiguredBaseURL(t *testing.T) {
	client := voicecast.New(config.Service{})
	_, err := client.ListCharacters(context.Background(), "sess-1")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
