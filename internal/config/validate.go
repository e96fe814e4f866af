package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxRetries > 10 {
		return errors.New("pipeline.max_retries must be 10 or fewer")
	}
	if c.Pipeline.WatchdogSeconds > 60 {
		return errors.New("pipeline.watchdog_seconds must be 60 or fewer")
	}
	if c.Pipeline.RecoveryTTLMinutes > 24*60 {
		return errors.New("pipeline.recovery_ttl_minutes must be at most one day")
	}
	return nil
}

func (c *Config) validateServices() error {
	required := []struct {
		name string
		svc  Service
	}{
		{"services.voice_cast", c.Services.VoiceCast},
		{"services.safety", c.Services.Safety},
	}
	if c.Pipeline.SoundEffects {
		required = append(required, struct {
			name string
			svc  Service
		}{"services.sound_fx", c.Services.SoundFX})
	}
	if c.Pipeline.SynthesizedAudio {
		required = append(required, struct {
			name string
			svc  Service
		}{"services.synth", c.Services.Synth})
	}
	if c.Pipeline.CoverArtRequired {
		required = append(required, struct {
			name string
			svc  Service
		}{"services.cover_art", c.Services.CoverArt})
	}
	for _, entry := range required {
		if strings.TrimSpace(entry.svc.BaseURL) == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/fabula/config.toml"
			}
			return fmt.Errorf("%s.base_url is required. Edit %s (create with 'fabula config init')", entry.name, defaultPath)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
