package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the daemon HTTP API bind address and access token.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Pipeline contains the generation pipeline policy knobs.
type Pipeline struct {
	// MaxRetries bounds per-stage retry attempts after a stage error.
	MaxRetries int `toml:"max_retries"`
	// WatchdogSeconds is the ready-notification acknowledgement window.
	WatchdogSeconds int `toml:"watchdog_seconds"`
	// RecoveryTTLMinutes is the maximum snapshot age eligible for recovery.
	RecoveryTTLMinutes int `toml:"recovery_ttl_minutes"`
	// CoverArtRequired promotes cover art from best-effort to a fatal
	// requirement when true.
	CoverArtRequired bool `toml:"cover_art_required"`
	// SoundEffects enables sound-effect detection and its readiness checks.
	SoundEffects bool `toml:"sound_effects"`
	// SynthesizedAudio is the default for sessions that do not state an
	// audio preference; opted-out sessions skip the synthesis stage.
	SynthesizedAudio bool `toml:"synthesized_audio"`
}

// Service contains connection settings for one external generative service.
type Service struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Style          string `toml:"style"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the configured request timeout with a sane floor.
func (s Service) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Services groups the external generative service endpoints.
type Services struct {
	VoiceCast Service `toml:"voice_cast"`
	SoundFX   Service `toml:"sound_fx"`
	CoverArt  Service `toml:"cover_art"`
	Safety    Service `toml:"safety"`
	Synth     Service `toml:"synth"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Ready          bool   `toml:"ready"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for fabula.
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Services      Services      `toml:"services"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fabula/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved path, the third reports whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fabula.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// MaxRetries returns the retry budget with the policy default applied.
func (c *Config) MaxRetries() int {
	if c.Pipeline.MaxRetries < 0 {
		return 0
	}
	return c.Pipeline.MaxRetries
}

// WatchdogWindow returns the ready-acknowledgement window as a duration.
func (c *Config) WatchdogWindow() time.Duration {
	return time.Duration(c.Pipeline.WatchdogSeconds) * time.Second
}

// RecoveryTTL returns the maximum recoverable snapshot age as a duration.
func (c *Config) RecoveryTTL() time.Duration {
	return time.Duration(c.Pipeline.RecoveryTTLMinutes) * time.Minute
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
