package services_test

import (
	"errors"
	"strings"
	"testing"

	"fabula/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalService, "voices", "assign", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"voices", "assign", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "qa", "analyze", "unclassified", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"validation", services.Wrap(services.ErrValidation, "qa", "check", "bad input", nil), false},
		{"configuration", services.Wrap(services.ErrConfiguration, "audio", "init", "missing api key", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "voices", "load", "no roster", nil), false},
		{"timeout", services.Wrap(services.ErrTimeout, "cover", "generate", "deadline", nil), true},
		{"external", services.Wrap(services.ErrExternalService, "sfx", "detect", "http 503", nil), true},
		{"plain", errors.New("boom"), true},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.retryable {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.retryable)
		}
	}
}

func TestDetailsCarriesHint(t *testing.T) {
	hint := "check safety service credentials"
	err := services.WithHint(services.Wrap(services.ErrConfiguration, "qa", "analyze", "unauthorized", nil), hint)
	details := services.Details(err)
	if details.Code != "configuration" {
		t.Fatalf("expected configuration code, got %q", details.Code)
	}
	if details.Hint != hint {
		t.Fatalf("expected hint %q, got %q", hint, details.Hint)
	}
	if details.Message == "" {
		t.Fatal("expected message to be populated")
	}
}

func TestHintSurvivesWrapping(t *testing.T) {
	inner := services.WithHint(errors.New("boom"), "restart the synthesizer")
	outer := services.Wrap(services.ErrExternalService, "audio", "synthesize", "request failed", inner)
	if got := services.Hint(outer); got != "restart the synthesizer" {
		t.Fatalf("expected inner hint to survive, got %q", got)
	}
}
