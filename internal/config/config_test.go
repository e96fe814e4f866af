package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fabula/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
[services.voice_cast]
base_url = "http://voices.local"

[services.sound_fx]
base_url = "http://sfx.local"

[services.safety]
base_url = "http://safety.local"

[services.synth]
base_url = "http://synth.local"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved path %q to exist, got %q (%v)", path, resolved, exists)
	}
	if cfg.Pipeline.MaxRetries != 2 {
		t.Fatalf("expected default max_retries 2, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.WatchdogSeconds != 2 {
		t.Fatalf("expected default watchdog 2s, got %d", cfg.Pipeline.WatchdogSeconds)
	}
	if cfg.Pipeline.RecoveryTTLMinutes != 10 {
		t.Fatalf("expected default recovery TTL 10m, got %d", cfg.Pipeline.RecoveryTTLMinutes)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Services.CoverArt.Style != "storybook" {
		t.Fatalf("expected default cover art style, got %q", cfg.Services.CoverArt.Style)
	}
}

func TestLoadRequiresVoiceCastEndpoint(t *testing.T) {
	path := writeConfig(t, `
[services.safety]
base_url = "http://safety.local"
[services.sound_fx]
base_url = "http://sfx.local"
[services.synth]
base_url = "http://synth.local"
`)
	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for missing voice_cast base_url")
	}
	if !strings.Contains(err.Error(), "voice_cast") {
		t.Fatalf("expected voice_cast in error, got %v", err)
	}
}

func TestLoadSkipsDisabledServiceRequirements(t *testing.T) {
	path := writeConfig(t, `
[pipeline]
sound_effects = false
synthesized_audio = false

[services.voice_cast]
base_url = "http://voices.local"

[services.safety]
base_url = "http://safety.local"
`)
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoadRejectsBadLogging(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[logging]
format = "xml"
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestAPITokenFromEnvironment(t *testing.T) {
	t.Setenv("FABULA_API_TOKEN", "secret-token")
	path := writeConfig(t, minimalConfig)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "secret-token" {
		t.Fatalf("expected token from env, got %q", cfg.API.Token)
	}
}

func TestServiceTimeoutFloor(t *testing.T) {
	svc := config.Service{TimeoutSeconds: 0}
	if svc.Timeout() <= 0 {
		t.Fatal("expected positive timeout floor")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[pipeline]") {
		t.Fatal("expected sample to include pipeline section")
	}
}
